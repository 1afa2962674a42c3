// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	identifyTimeout time.Duration
	identifyAny     bool
	identifyJSON    bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the attached motor controller",
	Long: `Run the identification handshake against the attached controller.

The handshake clears any running telemetry script (# C), asks for the
controller's model (?TRN) and firmware (?FID), and checks that the model
matches the configured one (MDC2250 unless set otherwise).

Examples:
  # Identify over USB serial
  mdcstat identify --port /dev/ttyACM0

  # Accept any Roboteq model, print JSON
  mdcstat identify --port /dev/ttyACM0 --any-model --json

Exit codes:
  0 - Controller identified
  1 - No controller, wrong model or timeout
  2 - Connection error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().DurationVar(&identifyTimeout, "timeout", 2*time.Second, "Handshake timeout")
	identifyCmd.Flags().BoolVar(&identifyAny, "any-model", false, "Accept any controller model")
	identifyCmd.Flags().BoolVar(&identifyJSON, "json", false, "Print the result as JSON")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	model := cfg.Device.Model
	if identifyAny {
		model = ""
	}

	if !identifyJSON {
		fmt.Printf("mdcstat - Controller Identification\n")
		fmt.Printf("Connection: %s\n", connInfo)
		if model != "" {
			fmt.Printf("Expected model: %s\n", model)
		}
		fmt.Printf("Timeout: %v\n\n", identifyTimeout)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), identifyTimeout)
	defer cancel()

	info, err := roboteq.Identify(ctx, transport, model)
	if err != nil {
		var mismatch *roboteq.ModelMismatchError
		switch {
		case errors.As(err, &mismatch):
			fmt.Fprintf(os.Stderr, "MODEL MISMATCH: expected %s, controller reports %q\n", mismatch.Expected, mismatch.Actual)
		case errors.Is(err, roboteq.ErrHandshakeTimeout):
			fmt.Fprintf(os.Stderr, "TIMEOUT: No reply within %v. Check wiring, baud rate and power.\n", identifyTimeout)
		case errors.Is(err, roboteq.ErrDeviceNotFound):
			fmt.Fprintf(os.Stderr, "NOT FOUND: Device replied but is not a Roboteq controller (%v)\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Handshake error: %v\n", err)
			os.Exit(2)
		}
		os.Exit(1)
	}

	if identifyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Controller found:\n")
	fmt.Printf("  Model: %s\n", info.Model)
	if info.UnitID != "" {
		fmt.Printf("  Unit ID: %s\n", info.UnitID)
	}
	if info.FirmwareID != "" {
		fmt.Printf("  Firmware: %s\n", info.FirmwareID)
	} else {
		fmt.Printf("  Firmware: (no reply)\n")
	}
	return nil
}
