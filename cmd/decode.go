// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [line...]",
	Short: "Decode protocol lines given as arguments or on stdin",
	Long: `Decode Roboteq protocol lines without a controller.

Each argument is one line. Without arguments, lines are read from stdin.
The resulting status aggregate is printed at the end.

Example:
  mdcstat decode "A=15:25" "FF=149" "+" "?BA"`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctrl := decodeLines(out, args)
	if len(args) == 0 {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			ctrl.HandleChunk([]byte(scanner.Text() + "\r"))
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nStatus:\n%s", roboteq.FormatStatus(ctrl.Status()))
	return nil
}

// decodeLines decodes lines through a detached controller that prints
// every result to out. The controller is returned for further input.
func decodeLines(out io.Writer, lines []string) *roboteq.Controller {
	ctrl := roboteq.NewController(nil, roboteq.WithResultHook(func(res roboteq.Result, status roboteq.Status) {
		fmt.Fprintln(out, roboteq.FormatResult(res, status))
	}))
	for _, line := range lines {
		ctrl.HandleChunk([]byte(strings.TrimRight(line, "\r\n") + "\r"))
	}
	return ctrl
}
