// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import "time"

// Status holds the most recently decoded value of every telemetry field.
// Each field is only written by a decode of its owning query kind; fields
// of other kinds keep their last value.
type Status struct {
	M1Amps float64 `json:"m1_amps"` // motor 1 current [A]
	M2Amps float64 `json:"m2_amps"` // motor 2 current [A]
	B1Amps float64 `json:"b1_amps"` // battery current 1 [A]
	B2Amps float64 `json:"b2_amps"` // battery current 2 [A]

	E1Count    int64 `json:"e1_count"` // encoder 1 absolute count
	E2Count    int64 `json:"e2_count"` // encoder 2 absolute count
	E1RelCount int64 `json:"e1_rel_count"`
	E2RelCount int64 `json:"e2_rel_count"`

	M1Cmd int64 `json:"m1_cmd"`
	M2Cmd int64 `json:"m2_cmd"`
	E1RPM int64 `json:"e1_rpm"`
	E2RPM int64 `json:"e2_rpm"`

	DriverVoltage  float64 `json:"driver_voltage"`  // internal driver supply [V]
	BatteryVoltage float64 `json:"battery_voltage"` // main battery [V]
	FiveVoltRail   int64   `json:"five_volt_rail"`  // 5V output [mV]

	Faults FaultFlags `json:"faults"`

	// UpdatedAt is the time of the last decode that changed any field.
	UpdatedAt time.Time `json:"updated_at"`
}

// FaultFlags is the decomposed fault flag byte reported by the FF query.
type FaultFlags struct {
	Overheat      bool `json:"overheat"`
	Overvoltage   bool `json:"overvoltage"`
	Undervoltage  bool `json:"undervoltage"`
	ShortCircuit  bool `json:"short_circuit"`
	EmergencyStop bool `json:"emergency_stop"`
	SepexFault    bool `json:"sepex_fault"`
	EEPROMFault   bool `json:"eeprom_fault"`
	ConfigFault   bool `json:"config_fault"`
}

// Fault flag bits
const (
	FaultOverheat uint8 = 1 << iota
	FaultOvervoltage
	FaultUndervoltage
	FaultShortCircuit
	FaultEmergencyStop
	FaultSepex
	FaultEEPROM
	FaultConfig
)

// DecodeFaultFlags splits the fault byte into its eight flags.
func DecodeFaultFlags(b uint8) FaultFlags {
	return FaultFlags{
		Overheat:      b&FaultOverheat != 0,
		Overvoltage:   b&FaultOvervoltage != 0,
		Undervoltage:  b&FaultUndervoltage != 0,
		ShortCircuit:  b&FaultShortCircuit != 0,
		EmergencyStop: b&FaultEmergencyStop != 0,
		SepexFault:    b&FaultSepex != 0,
		EEPROMFault:   b&FaultEEPROM != 0,
		ConfigFault:   b&FaultConfig != 0,
	}
}

// Byte packs the flags back into the wire bit layout.
func (f FaultFlags) Byte() uint8 {
	var b uint8
	for _, fl := range f.flags() {
		if fl.set {
			b |= fl.bit
		}
	}
	return b
}

// Active returns the names of the raised flags in bit order.
func (f FaultFlags) Active() []string {
	var names []string
	for _, fl := range f.flags() {
		if fl.set {
			names = append(names, fl.name)
		}
	}
	return names
}

// Any reports whether any fault is raised.
func (f FaultFlags) Any() bool {
	return f.Byte() != 0
}

type faultFlag struct {
	bit  uint8
	name string
	set  bool
}

func (f FaultFlags) flags() [8]faultFlag {
	return [8]faultFlag{
		{FaultOverheat, "OVERHEAT", f.Overheat},
		{FaultOvervoltage, "OVERVOLTAGE", f.Overvoltage},
		{FaultUndervoltage, "UNDERVOLTAGE", f.Undervoltage},
		{FaultShortCircuit, "SHORT_CIRCUIT", f.ShortCircuit},
		{FaultEmergencyStop, "EMERGENCY_STOP", f.EmergencyStop},
		{FaultSepex, "SEPEX_FAULT", f.SepexFault},
		{FaultEEPROM, "EEPROM_FAULT", f.EEPROMFault},
		{FaultConfig, "CONFIG_FAULT", f.ConfigFault},
	}
}
