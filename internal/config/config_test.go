// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "mdcstat.toml", `
[serial]
port = "/dev/ttyACM0"
read_timeout = "20ms"

[telemetry]
queries = ["?A", "?V", "?FF"]
period_ms = 50

[metrics]
listen = ":9102"

[redis]
addr = "localhost:6379"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("Unexpected port %q", cfg.Serial.Port)
	}
	if cfg.Serial.ReadTimeout != 20*time.Millisecond {
		t.Errorf("Unexpected read timeout %v", cfg.Serial.ReadTimeout)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Default baud should survive, got %d", cfg.Serial.Baud)
	}
	if got := cfg.Telemetry.TelemetryString(); got != "?A:?V:?FF" {
		t.Errorf("Unexpected telemetry string %q", got)
	}
	if cfg.Redis.Channel != "mdcstat:status" {
		t.Errorf("Default channel should survive, got %q", cfg.Redis.Channel)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "mdcstat.yaml", `
websocket:
  url: wss://bridge.local/ws
  username: admin
device:
  model: MDC2250
  identify: false
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WebSocket.URL != "wss://bridge.local/ws" || cfg.WebSocket.Username != "admin" {
		t.Errorf("Unexpected websocket config %+v", cfg.WebSocket)
	}
	if cfg.Device.Identify {
		t.Error("identify should be disabled")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "mdcstat.json", `{}`)
	if _, err := Load(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errSub string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero baud", func(c *Config) { c.Serial.Baud = 0 }, "serial.baud"},
		{"both transports", func(c *Config) {
			c.Serial.Port = "/dev/ttyUSB0"
			c.WebSocket.URL = "ws://x"
		}, "mutually exclusive"},
		{"query without prefix", func(c *Config) { c.Telemetry.Queries = []string{"A"} }, "?CODE"},
		{"queries without period", func(c *Config) {
			c.Telemetry.Queries = []string{"?A"}
			c.Telemetry.PeriodMs = 0
		}, "period_ms"},
		{"bad metrics address", func(c *Config) { c.Metrics.Listen = "9102" }, "metrics.listen"},
		{"redis without channel", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Redis.Channel = " "
		}, "redis.channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := Validate(cfg)
			if tt.errSub == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}
