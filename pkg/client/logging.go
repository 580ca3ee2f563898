package client

import (
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

// newClientLogger creates a logger based on quiet mode preference.
// Quiet mode only reports warnings and errors; otherwise every call is logged
// at debug level.
func newClientLogger(quiet bool) *logging.ColoredLogger {
	if quiet {
		return logging.NewLeveledLogger("warn", false)
	}
	return logging.NewLeveledLogger("debug", true)
}
