// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"errors"
	"fmt"
)

// Decode path errors. These are reported in Result and counted in
// Statistics; they never propagate out of Controller.HandleChunk.
var (
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrUnrecognizedCode = errors.New("unrecognized code")
)

// Command path errors
var (
	ErrTransportUnavailable = errors.New("transport not connected")
	ErrShortWrite           = errors.New("transport accepted partial command")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNack                 = errors.New("command rejected by controller")
	ErrAckTimeout           = errors.New("timed out waiting for acknowledgement")
	ErrAckPending           = errors.New("another command is awaiting acknowledgement")
	ErrNotReading           = errors.New("continuous reading not active")
)

// Bootstrap errors
var (
	ErrDeviceNotFound   = errors.New("roboteq controller not found")
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// InvalidParameterError reports a command parameter outside its documented
// range. It matches ErrInvalidParameter with errors.Is.
type InvalidParameterError struct {
	Command string
	Name    string
	Value   int
	Min     int
	Max     int
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: %s=%d out of range %d-%d", e.Command, e.Name, e.Value, e.Min, e.Max)
}

// Is matches ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// ModelMismatchError indicates the device answered the identification query
// with a model this package does not drive.
type ModelMismatchError struct {
	Expected string
	Actual   string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("controller model %q is not supported (expected %s)", e.Actual, e.Expected)
}
