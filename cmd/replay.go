// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/internal/capture"
	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	replayPace   bool
	replaySpeed  float64
	replayShowTx bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.cbor>",
	Short: "Decode a recorded capture offline",
	Long: `Feed a capture recorded by 'monitor' or 'dashboard' (capture.path) through
the decoder exactly as the bytes arrived, chunk boundaries included.

By default records are decoded as fast as possible. --pace sleeps between
records to reproduce the original timing, scaled by --speed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayPace, "pace", false, "Reproduce the recorded timing")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Pacing speed multiplier")
	replayCmd.Flags().BoolVar(&replayShowTx, "show-tx", false, "Print commands sent by the host")
	replayCmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only show rejections and decode errors")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replaySpeed <= 0 {
		return fmt.Errorf("--speed must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("mdcstat - Replay\n")
	fmt.Printf("Capture: %s\n", args[0])
	fmt.Printf("Source: %s\n", r.Header.Source)
	if r.Header.Model != "" {
		fmt.Printf("Model: %s\n", r.Header.Model)
	}
	fmt.Printf("Recorded: %s\n\n", r.Started().Format(time.RFC3339))

	ctrl, records, err := replayCapture(ctx, r, printEvent)
	if err != nil {
		return err
	}

	stats := ctrl.Statistics()
	fmt.Printf("\nReplayed %d records\n", records)
	fmt.Print(stats.String())
	fmt.Printf("\nFinal status:\n%s", roboteq.FormatStatus(ctrl.Status()))
	return nil
}

// replayCapture decodes every received chunk of r through a detached
// controller, handing each result to emit stamped with its recorded time.
func replayCapture(ctx context.Context, r *capture.Reader, emit func(monitorEvent)) (*roboteq.Controller, int, error) {
	var at time.Time
	ctrl := roboteq.NewController(nil,
		roboteq.WithLogger(logging.Component("replay")),
		roboteq.WithResultHook(func(res roboteq.Result, status roboteq.Status) {
			emit(monitorEvent{res: res, status: status, at: at})
		}),
	)

	start := r.Started()
	var last time.Duration
	records := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return ctrl, records, nil
		}
		if err != nil {
			return ctrl, records, err
		}
		records++

		if replayPace {
			wait := time.Duration(float64(rec.Elapsed()-last) / replaySpeed)
			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctrl, records, ctx.Err()
				case <-time.After(wait):
				}
			}
			last = rec.Elapsed()
		}

		at = start.Add(rec.Elapsed())
		switch rec.Dir {
		case capture.DirRx:
			ctrl.HandleChunk(rec.Data)
		case capture.DirTx:
			if replayShowTx {
				fmt.Printf("[%s] TX %q\n", at.Format("15:04:05.000"), rec.Data)
			}
		}
	}
}
