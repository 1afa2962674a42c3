// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package metrics exports protocol and status counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	registerOnce sync.Once

	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdcstat",
			Subsystem: "protocol",
			Name:      "packets_total",
			Help:      "Received packets by class.",
		},
		[]string{"class"},
	)
	decodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdcstat",
			Subsystem: "protocol",
			Name:      "decodes_total",
			Help:      "Decoded query and config responses by kind.",
		},
		[]string{"table", "kind", "supported"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdcstat",
			Subsystem: "protocol",
			Name:      "decode_errors_total",
			Help:      "Packets dropped by the decoder.",
		},
		[]string{"reason"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdcstat",
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Commands written to the controller.",
		},
		[]string{"result"},
	)
	faultActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdcstat",
			Subsystem: "status",
			Name:      "fault_active",
			Help:      "1 while the controller reports the fault.",
		},
		[]string{"fault"},
	)
	motorAmps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mdcstat",
			Subsystem: "status",
			Name:      "motor_amps",
			Help:      "Motor current per channel.",
		},
		[]string{"channel"},
	)
	batteryVolts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdcstat",
			Subsystem: "status",
			Name:      "battery_volts",
			Help:      "Main battery voltage.",
		},
	)
	publishDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mdcstat",
			Subsystem: "publish",
			Name:      "dropped_total",
			Help:      "Status snapshots dropped because the publish queue was full.",
		},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packets, decodes, decodeErrors, commands, faultActive, motorAmps, batteryVolts, publishDropped)
	})
}

// RecordResult counts one decode result.
func RecordResult(res roboteq.Result) {
	Register()
	packets.WithLabelValues(res.Class.String()).Inc()

	switch {
	case errors.Is(res.Err, roboteq.ErrUnrecognizedCode):
		decodeErrors.WithLabelValues("unrecognized").Inc()
	case errors.Is(res.Err, roboteq.ErrMalformedPacket):
		decodeErrors.WithLabelValues("malformed").Inc()
	case res.IsQuery():
		decodes.WithLabelValues("query", res.Query.String(), boolLabel(res.Supported)).Inc()
	case res.IsConfig():
		decodes.WithLabelValues("config", res.Config.String(), "true").Inc()
	}
}

// RecordCommand counts a command write outcome.
func RecordCommand(err error) {
	Register()
	switch {
	case err == nil:
		commands.WithLabelValues("ok").Inc()
	case errors.Is(err, roboteq.ErrInvalidParameter):
		commands.WithLabelValues("rejected").Inc()
	default:
		commands.WithLabelValues("error").Inc()
	}
}

// RecordStatus updates the status gauges from a snapshot.
func RecordStatus(s roboteq.Status) {
	Register()
	motorAmps.WithLabelValues("1").Set(s.M1Amps)
	motorAmps.WithLabelValues("2").Set(s.M2Amps)
	batteryVolts.Set(s.BatteryVoltage)

	all := roboteq.DecodeFaultFlags(0xFF).Active()
	active := make(map[string]bool)
	for _, name := range s.Faults.Active() {
		active[name] = true
	}
	for _, name := range all {
		v := 0.0
		if active[name] {
			v = 1
		}
		faultActive.WithLabelValues(name).Set(v)
	}
}

func RecordPublishDrop() {
	Register()
	publishDropped.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
