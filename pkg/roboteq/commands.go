// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import "strconv"

// Command builders return complete, terminated command strings ready to be
// written to the controller. Builders with range-checked parameters return
// an *InvalidParameterError instead of a command when the value is out of
// range.

// MotorCommand sets the command level of one channel: "!G <channel> <command>".
func MotorCommand(channel, command int) string {
	return EncodeCommand(PrefixAction, "G", channel, command)
}

// DualMotorCommand commands both channels at once: "!M <cmd1> <cmd2>".
func DualMotorCommand(cmd1, cmd2 int) string {
	return EncodeCommand(PrefixAction, "M", cmd1, cmd2)
}

// EmergencyStop latches the emergency stop: "!EX".
func EmergencyStop() string {
	return EncodeCommand(PrefixAction, "EX")
}

// ClearEmergencyStop releases the emergency stop: "!MG".
func ClearEmergencyStop() string {
	return EncodeCommand(PrefixAction, "MG")
}

// Reset performs a soft reset of the controller.
func Reset() string {
	return string(PrefixMaintenance) + "RESET " + maintenanceKey + string(rune(Delimiter))
}

// FactoryReset restores factory defaults in EEPROM.
func FactoryReset() string {
	return string(PrefixMaintenance) + "EERST " + maintenanceKey + string(rune(Delimiter))
}

// SaveConfiguration stores the current configuration in EEPROM: "%EESAV".
func SaveConfiguration() string {
	return EncodeCommand(PrefixMaintenance, "EESAV")
}

// TelemetryString configures the queries the controller sends on its own
// at the given period in milliseconds: ^TELS "<queries>:# <period>".
// queries is a colon separated list such as "?A:?V:?FF".
func TelemetryString(queries string, periodMs int) string {
	return string(PrefixConfig) + `TELS "` + queries + ":# " + strconv.Itoa(periodMs) + `"` + string(rune(Delimiter))
}

// SetEncoderPPR sets encoder pulses per revolution (1-5000).
func SetEncoderPPR(channel, ppr int) (string, error) {
	if err := checkRange("EPPR", "ppr", ppr, MinEncoderPPR, MaxEncoderPPR); err != nil {
		return "", err
	}
	return EncodeCommand(PrefixConfig, "EPPR", channel, ppr), nil
}

// SetMaxRPM sets the maximum RPM of a channel (1-65000).
func SetMaxRPM(channel, mrpm int) (string, error) {
	if err := checkRange("MRPM", "mrpm", mrpm, MinMaxRPM, MaxMaxRPM); err != nil {
		return "", err
	}
	return EncodeCommand(PrefixConfig, "MRPM", channel, mrpm), nil
}

// ClearBufferHistory clears the query history and stops repeated queries: "# C".
func ClearBufferHistory() string {
	return string(PrefixTelemetry) + " C" + string(rune(Delimiter))
}

// QueryHistory replays the recent queries every periodMs milliseconds: "# <period>".
func QueryHistory(periodMs int) string {
	return EncodeCommand(PrefixTelemetry, "", periodMs)
}

// Query requests a runtime value once: "?<code>".
func Query(kind QueryKind) (string, bool) {
	code, ok := QueryCode(kind)
	if !ok {
		return "", false
	}
	return EncodeCommand(PrefixQuery, code), true
}

// ConfigQuery reads back a configuration item: "~<code>".
func ConfigQuery(kind ConfigKind) (string, bool) {
	for _, e := range configCodes {
		if e.kind == kind {
			return EncodeCommand(PrefixQueryOnce, e.code), true
		}
	}
	return "", false
}
