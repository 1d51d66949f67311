// Package testlog configures a debug-level, test-scoped console logger so
// every package's tests share one zerolog setup instead of each building
// its own.
package testlog

import (
	"testing"

	"github.com/afit-csce689/dronerepl/internal/observability"
	"github.com/rs/zerolog"
)

// Start configures the global logger for one test at debug level and logs
// the test's name as its first line.
func Start(t *testing.T) {
	t.Helper()
	logger := observability.InitLogger("test")
	logger = logger.Level(zerolog.DebugLevel)
	logger.Debug().Str("test", t.Name()).Msg("test started")
}
