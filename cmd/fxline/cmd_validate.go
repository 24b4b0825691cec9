/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/fxline/internal/script"
)

var validateCmd = &cobra.Command{
	Use:   "validate <script.yaml>...",
	Short: "Check replay scripts without playing them",
	Long:  "Parse each script and check every batch for ordering and timing errors.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		sc, err := script.Load(path)
		if err == nil {
			err = sc.ValidateBatches()
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		batches := 0
		for _, step := range sc.Observations {
			if step.BatchID != "" {
				batches++
			}
		}
		fmt.Fprintf(out, "ok   %s: %s (%d observations, %d batches)\n", path, sc.Name, len(sc.Observations), batches)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts invalid", failed, len(args))
	}
	return nil
}
