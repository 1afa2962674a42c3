// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package config loads mdcstat settings from a TOML or YAML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

type Config struct {
	Serial    SerialConfig    `toml:"serial" yaml:"serial"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Device    DeviceConfig    `toml:"device" yaml:"device"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	Capture   CaptureConfig   `toml:"capture" yaml:"capture"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

type SerialConfig struct {
	Port        string        `toml:"port" yaml:"port"`
	Baud        int           `toml:"baud" yaml:"baud"`
	ReadTimeout time.Duration `toml:"read_timeout" yaml:"read_timeout"`
}

type WebSocketConfig struct {
	URL         string `toml:"url" yaml:"url"`
	Username    string `toml:"username" yaml:"username"`
	NoSSLVerify bool   `toml:"no_ssl_verify" yaml:"no_ssl_verify"`
}

type DeviceConfig struct {
	// Model must appear in the controller's TRN reply; empty accepts any.
	Model    string `toml:"model" yaml:"model"`
	Identify bool   `toml:"identify" yaml:"identify"`
}

// TelemetryConfig is the query list replayed by the controller every
// PeriodMs milliseconds. An empty list leaves the controller's setting alone.
type TelemetryConfig struct {
	Queries  []string `toml:"queries" yaml:"queries"`
	PeriodMs int      `toml:"period_ms" yaml:"period_ms"`
}

type MetricsConfig struct {
	// Listen is the Prometheus endpoint address, e.g. ":9102". Empty disables it.
	Listen string `toml:"listen" yaml:"listen"`
}

type RedisConfig struct {
	// Addr enables status publishing when set.
	Addr      string `toml:"addr" yaml:"addr"`
	Password  string `toml:"password" yaml:"password"`
	DB        int    `toml:"db" yaml:"db"`
	Channel   string `toml:"channel" yaml:"channel"`
	QueueSize int    `toml:"queue_size" yaml:"queue_size"`
}

type CaptureConfig struct {
	// Path of the CBOR capture file written by monitor. Empty disables it.
	Path string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Baud:        roboteq.DefaultBaudRate,
			ReadTimeout: roboteq.DefaultReadTimeout,
		},
		Device: DeviceConfig{
			Model:    roboteq.DefaultModel,
			Identify: true,
		},
		Telemetry: TelemetryConfig{
			PeriodMs: 100,
		},
		Redis: RedisConfig{
			Channel:   "mdcstat:status",
			QueueSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and validates the result. The format
// is chosen by extension: .toml, .yaml or .yml.
func Load(path string) (Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud)
	}
	if cfg.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout must be positive")
	}
	if cfg.Serial.Port != "" && cfg.WebSocket.URL != "" {
		return fmt.Errorf("serial.port and websocket.url are mutually exclusive")
	}
	if err := ValidateTelemetry(cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry invalid: %w", err)
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen invalid: %w", err)
		}
	}
	if cfg.Redis.Addr != "" {
		if strings.TrimSpace(cfg.Redis.Channel) == "" {
			return fmt.Errorf("redis.channel is required when redis.addr is set")
		}
		if cfg.Redis.QueueSize <= 0 {
			return fmt.Errorf("redis.queue_size must be positive")
		}
	}
	return nil
}

func ValidateTelemetry(t TelemetryConfig) error {
	if len(t.Queries) == 0 {
		return nil
	}
	if t.PeriodMs <= 0 {
		return fmt.Errorf("period_ms must be positive when queries are set")
	}
	for i, q := range t.Queries {
		if !strings.HasPrefix(q, string(roboteq.PrefixQuery)) || len(q) < 2 {
			return fmt.Errorf("queries[%d] %q must be a ?CODE query", i, q)
		}
	}
	return nil
}

// TelemetryString returns the colon separated query list for ^TELS.
func (t TelemetryConfig) TelemetryString() string {
	return strings.Join(t.Queries, ":")
}
