// Package nodelog provides the console logger used by the sensor node
// binary, where a technician is watching the cooperative scheduler loop
// live in a terminal rather than reading structured JSON from a file.
package nodelog

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New builds a leveled, timestamped console logger for the node process.
func New(debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "node",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
