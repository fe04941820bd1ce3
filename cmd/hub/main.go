// Command hub runs the Forest Guardian hub: the LoRa receiver,
// session reassembler, classifier pipeline, operator API, and
// supporting background workers that together turn raw radio packets
// from sensor nodes into persisted, classified threat alerts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foresthq/guardian/internal/conf"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	settings, err := conf.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: failed to load config: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "hub",
		Short: "Forest Guardian hub",
	}

	root.AddCommand(
		serveCommand(settings),
		migrateCommand(settings),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hub's build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("forest-guardian-hub", version)
			return nil
		},
	}
}
