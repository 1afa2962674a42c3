// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	packetTestTimeout int
	packetTestProbe   bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a decodable telemetry packet",
	Long: `Wait for a valid Roboteq telemetry packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for a line that
decodes as a query or config reply. Echoes, acknowledgements and malformed
lines are counted but do not end the test. Unless --probe=false is given, a
voltage query (?V) is sent first so an idle controller has something to say.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error

Useful for checking wiring, baud rate and WebSocket bridges.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
	packetTestCmd.Flags().BoolVar(&packetTestProbe, "probe", true, "Send ?V before listening")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	results := make(chan roboteq.Result, 1)
	skipped := 0

	// Counting happens on the read goroutine only
	hook := func(res roboteq.Result, _ roboteq.Status) {
		if res.Err != nil || (!res.IsQuery() && !res.IsConfig()) {
			skipped++
			return
		}
		select {
		case results <- res:
		default:
		}
	}

	noIdentify := false
	s, err := openSession(cmd.Context(), sessionOptions{
		identify: &noIdentify,
		ctrlOpts: []roboteq.Option{roboteq.WithResultHook(hook)},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("mdcstat - Packet Test\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid Roboteq packet...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	if err := s.ctrl.StartContinuousReading(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}
	if packetTestProbe {
		probe, _ := roboteq.Query(roboteq.QueryVolts)
		if err := s.ctrl.SendCommand(probe); err != nil {
			fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
			os.Exit(2)
		}
	}

	select {
	case res := <-results:
		s.ctrl.StopContinuousReading()
		if skipped > 0 {
			fmt.Printf("(skipped %d lines before a valid packet)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Line: %q\n", res.Packet)
		if res.IsQuery() {
			fmt.Printf("  Type: query %s\n", res.Query)
		} else {
			fmt.Printf("  Type: config %s\n", res.Config)
		}
		fmt.Printf("  Tokens: %q\n", roboteq.Tokenize(res.Packet))
		s.Close()
		os.Exit(0)

	case <-s.ctrl.Done():
		if ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Read error: connection closed\n")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
