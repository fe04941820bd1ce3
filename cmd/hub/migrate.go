package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foresthq/guardian/internal/conf"
	"github.com/foresthq/guardian/internal/store"
)

func migrateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the hub's SQLite schema without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(store.Config{Path: settings.Hub.DatabasePath, Debug: settings.Debug})
			if err := st.Open(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()
			fmt.Println("schema up to date:", settings.Hub.DatabasePath)
			return nil
		},
	}
}
