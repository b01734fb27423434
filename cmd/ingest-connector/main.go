package main

import (
	"errors"
	"fmt"
	"os"

	"ingest-connector/internal/app"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/processor"
)

// main is the entry point for the ingest-connector application.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	defer logging.Sync()
	if err == nil {
		return
	}

	if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs) {
		fmt.Fprintln(os.Stderr, "")
		runner.Usage(os.Stderr)
	}

	// Make sure the failure is visible even when logging was turned down.
	if logging.GetLevel() < logging.Error {
		logging.SetLevel(logging.Error)
	}
	logging.Logf(logging.Error, "Application execution failed: %v", err)
	logging.Sync()

	if errors.Is(err, processor.ErrCancelled) {
		os.Exit(130)
	}
	os.Exit(1)
}
