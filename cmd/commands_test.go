// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Thermoquad/mdcstat/internal/capture"
	"github.com/Thermoquad/mdcstat/internal/config"
	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}

func TestDecodeLines(t *testing.T) {
	var out bytes.Buffer
	ctrl := decodeLines(&out, []string{"A=15:25", "BA=30:40\r\n", "+", "FF=16", "QQ=1"})

	text := out.String()
	for _, want := range []string{
		"Motor current: M1=1.5 A, M2=2.5 A",
		"Battery current: B1=3.0 A, B2=4.0 A",
		"emergency",
		"QQ=1",
	} {
		if !strings.Contains(strings.ToLower(text), strings.ToLower(want)) {
			t.Errorf("Output missing %q:\n%s", want, text)
		}
	}

	st := ctrl.Status()
	if st.B1Amps != 3.0 || st.B2Amps != 4.0 {
		t.Errorf("Expected battery amps 3.0/4.0, got %v/%v", st.B1Amps, st.B2Amps)
	}
	stats := ctrl.Statistics()
	if stats.TotalPackets != 5 || stats.Acks != 1 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
}

func TestParseInts(t *testing.T) {
	got, err := parseInts([]string{"1", "-250", "0"})
	if err != nil {
		t.Fatalf("parseInts failed: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != -250 || got[2] != 0 {
		t.Errorf("Unexpected values %v", got)
	}
	if _, err := parseInts([]string{"1.5"}); err == nil {
		t.Error("Expected error for non-integer")
	}
}

func TestParseQueryCodes(t *testing.T) {
	reqs, err := parseQueryCodes([]string{"A", "?ba", "ff", "EPPR"})
	if err != nil {
		t.Fatalf("parseQueryCodes failed: %v", err)
	}
	if len(reqs) != 4 {
		t.Fatalf("Expected 4 requests, got %d", len(reqs))
	}

	if reqs[0].command != "?A\r" || reqs[0].query != roboteq.QueryMotorAmps {
		t.Errorf("A resolved to %+v", reqs[0])
	}
	if reqs[1].command != "?BA\r" || reqs[1].query != roboteq.QueryBatteryAmps {
		t.Errorf("?ba resolved to %+v", reqs[1])
	}
	if reqs[2].query != roboteq.QueryFaultFlags {
		t.Errorf("ff resolved to %+v", reqs[2])
	}
	if reqs[3].config != roboteq.ConfigEncoderPPR || reqs[3].query != roboteq.QueryUnknown {
		t.Errorf("EPPR resolved to %+v", reqs[3])
	}

	if _, err := parseQueryCodes([]string{"A", "NOPE"}); err == nil {
		t.Error("Expected error for unknown code")
	}
}

// writeCapture records chunks as a bridge would deliver them
func writeCapture(t *testing.T, chunks []struct {
	dir  capture.Direction
	data string
}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.cbor")
	rec, err := capture.Create(path, "test", roboteq.DefaultModel)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, c := range chunks {
		if err := rec.Record(c.dir, []byte(c.data)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestReplayCapture(t *testing.T) {
	path := writeCapture(t, []struct {
		dir  capture.Direction
		data string
	}{
		{capture.DirTx, "?A\r"},
		{capture.DirRx, "?A\rA=1"},
		{capture.DirRx, "5:25\rFF"},
		{capture.DirRx, "=1\r-\r"},
	})

	r, err := capture.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	var events []monitorEvent
	ctrl, records, err := replayCapture(context.Background(), r, func(ev monitorEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("replayCapture failed: %v", err)
	}
	if records != 4 {
		t.Errorf("Expected 4 records, got %d", records)
	}

	// echo, amps, faults, nack; the TX record is not decoded
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}
	if events[0].res.Class != roboteq.ClassEcho {
		t.Errorf("First event should be the echo, got %v", events[0].res.Class)
	}
	if !events[1].res.IsQuery() || events[1].status.M1Amps != 1.5 {
		t.Errorf("Split amps line not reassembled: %+v", events[1].res)
	}
	if !events[2].status.Faults.Overheat {
		t.Error("Expected overheat fault")
	}
	if events[3].res.Class != roboteq.ClassNack {
		t.Errorf("Expected nack, got %v", events[3].res.Class)
	}
	if events[1].at.Before(r.Started()) {
		t.Error("Event time precedes capture start")
	}

	if ctrl.Status().M2Amps != 2.5 {
		t.Errorf("Final status M2Amps = %v", ctrl.Status().M2Amps)
	}
}

func TestRootCommand_DecodeWithConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdcstat.toml")
	content := `
[serial]
baud = 9600

[telemetry]
queries = ["?A", "?FF"]
period_ms = 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	saved := cfg
	defer func() { cfg = saved }()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"decode", "--config", path, "A=100:-50"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if cfg.Serial.Baud != 9600 {
		t.Errorf("Expected baud from config, got %d", cfg.Serial.Baud)
	}
	if cfg.Telemetry.TelemetryString() != "?A:?FF" {
		t.Errorf("Unexpected telemetry %q", cfg.Telemetry.TelemetryString())
	}
	if cfg.Serial.ReadTimeout != config.Default().Serial.ReadTimeout {
		t.Errorf("Unset read timeout should keep the default, got %v", cfg.Serial.ReadTimeout)
	}
	if !strings.Contains(out.String(), "M1=10.0 A, M2=-5.0 A") {
		t.Errorf("Decode output missing amps:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Status:") {
		t.Errorf("Decode output missing status:\n%s", out.String())
	}
}
