// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package roboteq implements the ASCII serial protocol spoken by Roboteq
// MDC2250 motor controllers.
//
// The controller talks a half-duplex, carriage-return delimited text protocol
// with no length prefixes or checksums. Commands are reflected back by the
// device (echo), acknowledged with "+" or rejected with "-", and telemetry
// arrives as "CODE=v1:v2:..." lines. This package provides packet framing,
// classification, field decoding into a Status aggregate, command encoding
// with parameter validation, and a Controller session that ties them to a
// serial Transport.
package roboteq

import "time"

// Framing
const (
	Delimiter     = '\r'
	MaxLineLength = 256
)

// Outbound command prefixes
const (
	PrefixAction      = '!'
	PrefixMaintenance = '%'
	PrefixConfig      = '^'
	PrefixTelemetry   = '#'
	PrefixQuery       = '?'
	PrefixQueryOnce   = '~'
)

// Any of these in a received line marks it as an echo of an outbound command.
const echoMarkers = "!?%~^#"

// Ack/Nack markers
const (
	AckMarker  = '+'
	NackMarker = '-'
)

// Field separators in telemetry lines
const fieldSeparators = "=:"

// Parameter ranges
const (
	MinEncoderPPR = 1
	MaxEncoderPPR = 5000
	MinMaxRPM     = 1
	MaxMaxRPM     = 65000
)

// Maintenance commands carry a fixed safety key.
const maintenanceKey = "321654987"

// Defaults used by the serial transport and handshake
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 50 * time.Millisecond
	DefaultModel       = "MDC2250"
)

// QueryKind identifies the telemetry category of a runtime query response.
type QueryKind int

// Runtime query kinds
const (
	QueryUnknown QueryKind = iota
	QueryMotorAmps
	QueryMotorCommand
	QueryMotorPower
	QueryAbsSpeed
	QueryAbsCounter
	QueryBrushlessCounter
	QueryUserVariable
	QueryRelSpeed
	QueryRelCounter
	QueryBrushlessRelCounter
	QueryBrushlessSpeed
	QueryBrushlessRelSpeed
	QueryBatteryAmps
	QueryVolts
	QueryDigitalInputs
	QueryDigitalInput
	QueryAnalogInput
	QueryPulseInput
	QueryTemperature
	QueryFeedback
	QueryStatusFlags
	QueryFaultFlags
	QueryDigitalOutputs
	QueryLoopError
	QuerySerialCommand
	QueryAnalogCommand
	QueryPulseCommand
	QueryTime
	QueryLockStatus
)

// ConfigKind identifies the configuration item of a config query response.
type ConfigKind int

// Configuration kinds
const (
	ConfigUnknown ConfigKind = iota
	ConfigEncoderPPR
	ConfigMaxRPM
)

// Class is the classification of a single received packet.
type Class int

// Packet classes
const (
	ClassMalformed Class = iota
	ClassEcho
	ClassAck
	ClassNack
	ClassField
)
