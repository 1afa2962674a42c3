// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package capture

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

// Tap is a roboteq.Transport that records every chunk read from and
// written to the wrapped transport. Recording failures are logged once
// and never interrupt traffic.
type Tap struct {
	roboteq.Transport
	rec    *Recorder
	log    zerolog.Logger
	failed atomic.Bool
}

// NewTap wraps t so its traffic is written to rec.
func NewTap(t roboteq.Transport, rec *Recorder, log zerolog.Logger) *Tap {
	return &Tap{Transport: t, rec: rec, log: log}
}

func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.Transport.Read(p)
	if n > 0 {
		t.record(DirRx, p[:n])
	}
	return n, err
}

func (t *Tap) Write(p []byte) (int, error) {
	n, err := t.Transport.Write(p)
	if n > 0 {
		t.record(DirTx, p[:n])
	}
	return n, err
}

func (t *Tap) record(dir Direction, data []byte) {
	if err := t.rec.Record(dir, data); err != nil && t.failed.CompareAndSwap(false, true) {
		t.log.Error().Err(err).Msg("capture write failed, further errors suppressed")
	}
}
