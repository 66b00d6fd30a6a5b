package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/vibrato-audio/vibrato/internal/config"
	"github.com/vibrato-audio/vibrato/internal/logging"
	"github.com/vibrato-audio/vibrato/internal/stderr"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "info").Fatalf("load config: %v", err)
	}

	// C audio libraries write warnings straight to fd 2. Reroute them
	// through the logger so they cannot interleave with our own output.
	errOut, captureErr := stderr.Capture()
	defer stderr.Restore()

	logger := logging.New(errOut, cfg.LogLevel)
	if captureErr != nil {
		logger.Debug("stderr capture unavailable", "err", captureErr)
	}
	go func() {
		for line := range stderr.Messages {
			logger.Debug("audio backend", "msg", line)
		}
	}()

	runner := NewRunner(RunnerOpts{
		Config: cfg,
		Logger: logger,
	})

	app := &cli.Command{
		Name:     "vibrato",
		Usage:    "Queue-based audio player for music and podcasts",
		Version:  version,
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Errorf("%v", err)
		stderr.Restore()
		os.Exit(1)
	}
}
