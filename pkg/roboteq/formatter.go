// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"fmt"
	"strings"
)

var queryNames = map[QueryKind]string{
	QueryMotorAmps:           "MOTOR_AMPS",
	QueryMotorCommand:        "MOTOR_COMMAND",
	QueryMotorPower:          "MOTOR_POWER",
	QueryAbsSpeed:            "ABS_SPEED",
	QueryAbsCounter:          "ABS_COUNTER",
	QueryBrushlessCounter:    "BL_COUNTER",
	QueryUserVariable:        "USER_VAR",
	QueryRelSpeed:            "REL_SPEED",
	QueryRelCounter:          "REL_COUNTER",
	QueryBrushlessRelCounter: "BL_REL_COUNTER",
	QueryBrushlessSpeed:      "BL_SPEED",
	QueryBrushlessRelSpeed:   "BL_REL_SPEED",
	QueryBatteryAmps:         "BATTERY_AMPS",
	QueryVolts:               "VOLTS",
	QueryDigitalInputs:       "DIGITAL_INPUTS",
	QueryDigitalInput:        "DIGITAL_INPUT",
	QueryAnalogInput:         "ANALOG_INPUT",
	QueryPulseInput:          "PULSE_INPUT",
	QueryTemperature:         "TEMPERATURE",
	QueryFeedback:            "FEEDBACK",
	QueryStatusFlags:         "STATUS_FLAGS",
	QueryFaultFlags:          "FAULT_FLAGS",
	QueryDigitalOutputs:      "DIGITAL_OUTPUTS",
	QueryLoopError:           "LOOP_ERROR",
	QuerySerialCommand:       "SERIAL_COMMAND",
	QueryAnalogCommand:       "ANALOG_COMMAND",
	QueryPulseCommand:        "PULSE_COMMAND",
	QueryTime:                "TIME",
	QueryLockStatus:          "LOCK_STATUS",
}

// String returns the human-readable name for a query kind
func (k QueryKind) String() string {
	if name, ok := queryNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// String returns the human-readable name for a config kind
func (k ConfigKind) String() string {
	switch k {
	case ConfigEncoderPPR:
		return "ENCODER_PPR"
	case ConfigMaxRPM:
		return "MAX_RPM"
	default:
		return "UNKNOWN"
	}
}

// String returns the human-readable name for a packet class
func (c Class) String() string {
	switch c {
	case ClassEcho:
		return "ECHO"
	case ClassAck:
		return "ACK"
	case ClassNack:
		return "NACK"
	case ClassField:
		return "FIELD"
	default:
		return "MALFORMED"
	}
}

// FormatResult formats a decode result with the status fields it touched.
func FormatResult(res Result, s Status) string {
	switch {
	case res.IsQuery():
		line := fmt.Sprintf("%s (%s)", res.Query, res.Packet)
		if fields := FormatQueryFields(res.Query, s); fields != "" {
			line += "\n  " + fields
		} else if !res.Supported {
			line += "\n  (not decoded)"
		}
		return line
	case res.IsConfig():
		return fmt.Sprintf("%s (%s)\n  ch1=%d ch2=%d", res.Config, res.Packet, res.ConfigValues[0], res.ConfigValues[1])
	case res.Err != nil:
		return fmt.Sprintf("%s %q: %v", res.Class, res.Packet, res.Err)
	default:
		return fmt.Sprintf("%s %q", res.Class, res.Packet)
	}
}

// FormatQueryFields renders the Status fields owned by a query kind.
// Kinds without a decoder render as an empty string.
func FormatQueryFields(kind QueryKind, s Status) string {
	switch kind {
	case QueryMotorAmps:
		return fmt.Sprintf("Motor current: M1=%.1f A, M2=%.1f A", s.M1Amps, s.M2Amps)
	case QueryMotorCommand:
		return fmt.Sprintf("Motor command: M1=%d, M2=%d", s.M1Cmd, s.M2Cmd)
	case QueryAbsSpeed:
		return fmt.Sprintf("Speed: E1=%d RPM, E2=%d RPM", s.E1RPM, s.E2RPM)
	case QueryAbsCounter:
		return fmt.Sprintf("Encoder count: E1=%d, E2=%d", s.E1Count, s.E2Count)
	case QueryRelCounter:
		return fmt.Sprintf("Encoder relative: E1=%d, E2=%d", s.E1RelCount, s.E2RelCount)
	case QueryBatteryAmps:
		return fmt.Sprintf("Battery current: B1=%.1f A, B2=%.1f A", s.B1Amps, s.B2Amps)
	case QueryVolts:
		return fmt.Sprintf("Voltage: driver=%.1f V, battery=%.1f V, 5V=%d mV", s.DriverVoltage, s.BatteryVoltage, s.FiveVoltRail)
	case QueryFaultFlags:
		return "Faults: " + FormatFaults(s.Faults)
	}
	return ""
}

// FormatFaults renders raised fault flags, or "none".
func FormatFaults(f FaultFlags) string {
	active := f.Active()
	if len(active) == 0 {
		return "none"
	}
	return fmt.Sprintf("%s (0x%02X)", strings.Join(active, ", "), f.Byte())
}

// FormatStatus renders the whole status aggregate.
func FormatStatus(s Status) string {
	var b strings.Builder
	for _, kind := range []QueryKind{
		QueryMotorAmps, QueryBatteryAmps, QueryMotorCommand, QueryAbsSpeed,
		QueryAbsCounter, QueryRelCounter, QueryVolts, QueryFaultFlags,
	} {
		b.WriteString(FormatQueryFields(kind, s))
		b.WriteByte('\n')
	}
	return b.String()
}
