// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultHandshakeTimeout bounds each identification exchange when the
// caller's context carries no deadline.
const DefaultHandshakeTimeout = time.Second

// Identification replies longer than this are not from a controller.
const maxHandshakeReply = 512

// DeviceInfo is what a controller reports about itself during identification.
type DeviceInfo struct {
	UnitID     string `json:"unit_id"`
	Model      string `json:"model"`
	FirmwareID string `json:"firmware_id,omitempty"`
}

// Identify asks the device on t for its unit and model ("?TRN") and
// firmware ("?FID"). The model must contain expectModel; an empty
// expectModel accepts any model. Identify reads t directly and must not
// run while a Controller is continuously reading the same transport.
//
// It returns ErrHandshakeTimeout when nothing was received at all,
// ErrDeviceNotFound when the reply held no identification line, and a
// *ModelMismatchError for the wrong controller family.
func Identify(ctx context.Context, t Transport, expectModel string) (DeviceInfo, error) {
	var info DeviceInfo

	if t == nil || !t.IsOpen() {
		return info, ErrTransportUnavailable
	}
	if err := t.SetReadTimeout(DefaultReadTimeout); err != nil {
		return info, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// Stop any repeating telemetry so it does not bury the reply
	if err := writeAll(t, ClearBufferHistory()); err != nil {
		return info, err
	}
	drain(ctx, t)

	reply, err := exchange(ctx, t, "\r?TRN\r", "TRN=")
	if err != nil {
		if errors.Is(err, ErrHandshakeTimeout) && reply != "" {
			return info, fmt.Errorf("%w: unexpected reply %q", ErrDeviceNotFound, strings.TrimSpace(reply))
		}
		return info, err
	}

	unit, model, ok := strings.Cut(lineValue(reply, "TRN="), ":")
	if !ok {
		return info, fmt.Errorf("%w: unexpected reply %q", ErrDeviceNotFound, strings.TrimSpace(reply))
	}
	info.UnitID = strings.TrimSpace(unit)
	info.Model = strings.TrimSpace(model)
	if expectModel != "" && !strings.Contains(info.Model, expectModel) {
		return info, &ModelMismatchError{Expected: expectModel, Actual: info.Model}
	}

	// Firmware identification is informational; a missing reply is not fatal.
	reply, err = exchange(ctx, t, "\r?FID\r", "FID=")
	if err == nil && len(reply) > 10 {
		info.FirmwareID = lineValue(reply, "FID=")
	}

	return info, nil
}

// exchange sends query and reads until a complete line holding marker has
// arrived. On timeout it returns whatever was received.
func exchange(ctx context.Context, t Transport, query, marker string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	if err := writeAll(t, query); err != nil {
		return "", err
	}

	var reply strings.Builder
	buf := make([]byte, 64)
	for {
		s := reply.String()
		if i := strings.Index(s, marker); i >= 0 && strings.IndexByte(s[i:], Delimiter) >= 0 {
			return s, nil
		}
		if reply.Len() > maxHandshakeReply {
			return s, fmt.Errorf("%w: reply exceeds %d bytes", ErrDeviceNotFound, maxHandshakeReply)
		}

		select {
		case <-ctx.Done():
			return s, fmt.Errorf("%w: waiting for %s", ErrHandshakeTimeout, strings.TrimSuffix(marker, "="))
		default:
		}

		n, err := t.Read(buf)
		if n > 0 {
			reply.Write(buf[:n])
		}
		if err != nil {
			return reply.String(), fmt.Errorf("read failed: %w", err)
		}
	}
}

// drain discards buffered input until a read comes back empty.
func drain(ctx context.Context, t Transport) {
	buf := make([]byte, 256)
	for i := 0; i < 64; i++ {
		if ctx.Err() != nil {
			return
		}
		n, err := t.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// lineValue returns the text after marker up to the end of its line.
func lineValue(reply, marker string) string {
	i := strings.Index(reply, marker)
	if i < 0 {
		return strings.TrimSpace(reply)
	}
	rest := reply[i+len(marker):]
	if j := strings.IndexByte(rest, Delimiter); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func writeAll(t Transport, cmd string) error {
	n, err := t.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
	}
	if n != len(cmd) {
		return ErrShortWrite
	}
	return nil
}

// Identify runs the identification handshake on the controller's transport.
// It refuses to run while continuous reading is active.
func (c *Controller) Identify(ctx context.Context, expectModel string) (DeviceInfo, error) {
	if c.Reading() {
		return DeviceInfo{}, errors.New("identify: stop continuous reading first")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	info, err := Identify(ctx, c.transport, expectModel)
	if err != nil {
		c.log.Error().Err(err).Msg("controller identification failed")
		return info, err
	}
	c.log.Info().
		Str("unit", info.UnitID).
		Str("model", info.Model).
		Str("firmware", info.FirmwareID).
		Msg("controller identified")
	return info, nil
}
