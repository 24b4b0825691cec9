/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/fxline/internal/config"
	"github.com/friendsincode/fxline/internal/logbuffer"
	"github.com/friendsincode/fxline/internal/logging"
	"github.com/friendsincode/fxline/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "fxline",
	Short: "fxline - real-time effect timeline scheduler",
	Long: "fxline replays batches of timed effects against a wall-clock timeline, " +
		"publishing start and end notifications and gating host snapshots for the presentation layer.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Traces are written to stdout, so logs go to stderr.
	logBuf = logbuffer.New(1000)
	logger = logging.SetupWithWriter(cfg.Environment, os.Stderr, logbuffer.NewWriter(logBuf, nil))
	return nil
}
