package smoketest

import (
	"fmt"
	"os"

	"github.com/okian/receval/pkg/logger"
)

// SetupLogging initializes the global logger with the given format.
func SetupLogging(format string, verbose bool) error {
	if err := logger.InitWithFormat(format); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the smoke tool.
func ShowHelp() {
	os.Stdout.WriteString(`receval smoke test
==================

Drives a running evaluation service with a synthetic interaction log:
split in time, evaluate an oracle and a random model, verify the metrics.

Usage:
  go run ./cmd/smoke [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -users int
        Number of synthetic users (default 200)
  -items int
        Catalogue size (default 500)
  -events int
        Interactions per user (default 30)
  -seed uint
        Generator seed (default 42)
  -quantile float
        Split quantile (default 0.7)
  -save
        Persist both runs as experiments
  -output string
        Write the generated log to this CSV file
  -timeout duration
        HTTP request timeout (default 30s)
  -log-format string
        text or json (default "text")
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  go run ./cmd/smoke -users 1000 -events 50 -save
  go run ./cmd/smoke -url http://localhost:8080 -output smoke_log.csv
`)
}
