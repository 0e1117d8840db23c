package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/receval/internal/smoketest"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	def := smoketest.DefaultSplitOptions()
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		users     = flag.Int("users", smoketest.DefaultUsers, "Number of synthetic users")
		items     = flag.Int("items", smoketest.DefaultItems, "Catalogue size")
		events    = flag.Int("events", smoketest.DefaultEventsPerUser, "Interactions per user")
		seed      = flag.Uint64("seed", smoketest.DefaultSeed, "Generator seed")
		quantile  = flag.Float64("quantile", def.Quantile, "Split quantile")
		save      = flag.Bool("save", false, "Persist both runs as experiments")
		output    = flag.String("output", "", "Write the generated log to this CSV file")
		timeout   = flag.Duration("timeout", smoketest.DefaultTimeout, "HTTP request timeout")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		smoketest.ShowHelp()
		return
	}
	if err := smoketest.SetupLogging(*logFormat, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	split := def
	split.Quantile = *quantile
	_, err := smoketest.Run(ctx, &smoketest.Config{
		BaseURL:       *baseURL,
		Users:         *users,
		Items:         *items,
		EventsPerUser: *events,
		Seed:          *seed,
		Timeout:       *timeout,
		Save:          *save,
		OutputFile:    *output,
		Split:         split,
	})
	if err != nil {
		os.Stderr.WriteString("Smoke test failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
