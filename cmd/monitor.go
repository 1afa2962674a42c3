// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/internal/metrics"
	"github.com/Thermoquad/mdcstat/internal/publish"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	errorsOnly    bool
	statsInterval int
	noTelemetry   bool
	noIdentify    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Log decoded telemetry, acknowledgements and protocol errors",
	Long: `Continuously read the controller and print every decoded packet.

On start the configured telemetry string (telemetry.queries / period_ms in
the config file) is programmed so the controller streams queries without
polling. Each line received is classified and decoded:
  - Query replies (A=, BA=, FF=, ...) with the status fields they update
  - Config replies (EPPR=, MRPM=)
  - Echoes, acknowledgements (+) and rejections (-)
  - Malformed lines and unrecognized codes, highlighted

Use --errors-only to hide everything but rejections and decode failures.
Statistics are printed every --stats-interval seconds and on exit.

When configured, decoded status is also exported:
  metrics.listen   Prometheus /metrics endpoint
  redis.addr       JSON snapshots published to redis.channel
  capture.path     raw traffic recorded for 'mdcstat replay'`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only show rejections and decode errors")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
	monitorCmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "Do not program the telemetry string")
	monitorCmd.Flags().BoolVar(&noIdentify, "no-identify", false, "Skip the identification handshake")
}

type monitorEvent struct {
	res    roboteq.Result
	status roboteq.Status
	at     time.Time
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Component("monitor")

	// Printed off the read goroutine; overflow is counted, not waited on
	events := make(chan monitorEvent, 256)
	var dropped atomic.Uint64
	var pub *publish.Publisher

	hook := func(res roboteq.Result, status roboteq.Status) {
		metrics.RecordResult(res)
		if res.IsQuery() && res.Supported {
			metrics.RecordStatus(status)
			if pub != nil {
				pub.Enqueue(status, res.Query)
			}
		}
		select {
		case events <- monitorEvent{res: res, status: status, at: time.Now()}:
		default:
			dropped.Add(1)
		}
	}

	identify := !noIdentify && cfg.Device.Identify
	s, err := openSession(ctx, sessionOptions{
		record:   true,
		identify: &identify,
		ctrlOpts: []roboteq.Option{roboteq.WithResultHook(hook)},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("mdcstat - Monitor\n")
	fmt.Printf("Connection: %s\n", s.info)
	if s.device.Model != "" {
		fmt.Printf("Controller: %s (unit %s)\n", s.device.Model, s.device.UnitID)
	}
	if errorsOnly {
		fmt.Printf("Mode: Errors only\n")
	} else {
		fmt.Printf("Mode: All packets\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	if cfg.Redis.Addr != "" {
		client, err := publish.Dial(ctx, publish.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		pub = publish.New(client, cfg.Redis.Channel, cfg.Redis.QueueSize,
			publish.WithLogger(logging.Component("publish")),
			publish.WithUnit(s.device.UnitID),
			publish.WithDropHook(metrics.RecordPublishDrop),
		)
		defer pub.Close()
		go pub.Run(ctx)
	}

	if err := s.ctrl.StartContinuousReading(ctx); err != nil {
		return err
	}
	readDone := s.ctrl.Done()

	if !noTelemetry {
		if err := s.applyTelemetry(); err != nil {
			log.Warn().Err(err).Msg("continuing without telemetry string")
		}
	}

	var ticks <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case ev := <-events:
			printEvent(ev)

		case <-ticks:
			printStatistics(s.ctrl, dropped.Load())

		case <-readDone:
			fmt.Printf("\nConnection closed\n")
			printStatistics(s.ctrl, dropped.Load())
			return nil

		case <-ctx.Done():
			fmt.Println()
			printStatistics(s.ctrl, dropped.Load())
			return nil
		}
	}
}

func printEvent(ev monitorEvent) {
	failed := ev.res.Err != nil || ev.res.Class == roboteq.ClassNack
	if errorsOnly && !failed {
		return
	}

	timestamp := ev.at.Format("15:04:05.000")
	text := roboteq.FormatResult(ev.res, ev.status)
	switch {
	case ev.res.Class == roboteq.ClassNack:
		fmt.Printf("[%s] \033[1;33mREJECTED:\033[0m %s\n", timestamp, text)
	case ev.res.Err != nil:
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %s\n", timestamp, text)
	case ev.res.Class == roboteq.ClassAck:
		fmt.Printf("[%s] \033[1;32mACK\033[0m\n", timestamp)
	default:
		fmt.Printf("[%s] %s\n", timestamp, text)
	}
}

func printStatistics(ctrl *roboteq.Controller, dropped uint64) {
	stats := ctrl.Statistics()
	fmt.Print(stats.String())
	if dropped > 0 {
		fmt.Printf("Display dropped: %d\n", dropped)
	}
	fmt.Println()
}
