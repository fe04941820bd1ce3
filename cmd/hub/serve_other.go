//go:build !linux

package main

import (
	"github.com/spf13/cobra"

	"github.com/foresthq/guardian/internal/conf"
	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// serveCommand is stubbed on non-Linux hosts: the SX1276 driver talks
// to /dev/spidevN.N and a GPIO chip character device, both Linux-only.
func serveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub (Linux only: requires the SX1276 SPI/GPIO driver)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fgerrors.New(fgerrors.NewStd("hub serve requires a Linux host with SPI/GPIO access")).
				Category(fgerrors.CategoryRadio).Build()
		},
	}
}
