// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/mdcstat/internal/capture"
	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/internal/metrics"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

// session is an open, optionally identified, controller connection
type session struct {
	ctrl     *roboteq.Controller
	info     string
	device   roboteq.DeviceInfo
	recorder *capture.Recorder
	log      zerolog.Logger
}

type sessionOptions struct {
	// record taps the transport into cfg.Capture.Path when it is set
	record bool
	// identify overrides cfg.Device.Identify when non-nil
	identify *bool
	ctrlOpts []roboteq.Option
}

// openSession connects, wires capture and runs identification.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	transport, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	s := &session{info: info, log: logging.Component("session")}

	if opts.record && cfg.Capture.Path != "" {
		rec, err := capture.Create(cfg.Capture.Path, info, cfg.Device.Model)
		if err != nil {
			transport.Close()
			return nil, err
		}
		s.recorder = rec
		transport = capture.NewTap(transport, rec, logging.Component("capture"))
		s.log.Info().Str("path", cfg.Capture.Path).Msg("recording capture")
	}

	ctrlOpts := append([]roboteq.Option{
		roboteq.WithLogger(logging.Component("controller")),
		roboteq.WithReadTimeout(cfg.Serial.ReadTimeout),
	}, opts.ctrlOpts...)
	s.ctrl = roboteq.NewController(transport, ctrlOpts...)

	identify := cfg.Device.Identify
	if opts.identify != nil {
		identify = *opts.identify
	}
	if identify {
		device, err := s.ctrl.Identify(ctx, cfg.Device.Model)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("identify: %w", err)
		}
		s.device = device
	}

	return s, nil
}

// applyTelemetry programs the configured telemetry string, if any
func (s *session) applyTelemetry() error {
	if len(cfg.Telemetry.Queries) == 0 {
		return nil
	}
	err := s.ctrl.SetTelemetryString(cfg.Telemetry.TelemetryString(), cfg.Telemetry.PeriodMs)
	metrics.RecordCommand(err)
	if err != nil {
		return fmt.Errorf("set telemetry: %w", err)
	}
	s.log.Info().
		Strs("queries", cfg.Telemetry.Queries).
		Int("period_ms", cfg.Telemetry.PeriodMs).
		Msg("telemetry string applied")
	return nil
}

func (s *session) Close() error {
	err := s.ctrl.Close()
	if s.recorder != nil {
		if cerr := s.recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.log.Info().Uint64("records", s.recorder.Count()).Msg("capture closed")
	}
	return err
}
