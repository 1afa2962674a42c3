// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"fmt"
	"sort"
)

// CodeTable maps the short ASCII codes found at the start of a response
// line to a semantic kind. Lookups of unmapped codes report not-found
// instead of returning a zero kind.
//
// Registering a code twice replaces the earlier kind (last registered wins).
// Once frozen the table is read-only and safe for concurrent lookups.
type CodeTable[K comparable] struct {
	codes  map[string]K
	frozen bool
}

// NewCodeTable creates an empty, writable table.
func NewCodeTable[K comparable]() *CodeTable[K] {
	return &CodeTable[K]{codes: make(map[string]K)}
}

// Register maps code to kind. If code was already registered, the previous
// kind is returned with replaced set to true.
// Registering into a frozen table panics.
func (t *CodeTable[K]) Register(code string, kind K) (previous K, replaced bool) {
	if t.frozen {
		panic(fmt.Sprintf("roboteq: register %q on frozen code table", code))
	}
	previous, replaced = t.codes[code]
	t.codes[code] = kind
	return previous, replaced
}

// Lookup returns the kind registered for code.
func (t *CodeTable[K]) Lookup(code string) (K, bool) {
	kind, ok := t.codes[code]
	return kind, ok
}

// Freeze makes the table read-only and returns it.
func (t *CodeTable[K]) Freeze() *CodeTable[K] {
	t.frozen = true
	return t
}

// Len returns the number of registered codes.
func (t *CodeTable[K]) Len() int {
	return len(t.codes)
}

// Codes returns the registered codes in sorted order.
func (t *CodeTable[K]) Codes() []string {
	codes := make([]string, 0, len(t.codes))
	for code := range t.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// queryCodes is the runtime query table in registration order.
// Battery amps uses "BA" as in the controller command reference; the older
// table registered it as "A", which made motor amps unreachable.
var queryCodes = []struct {
	code string
	kind QueryKind
}{
	{"A", QueryMotorAmps},
	{"M", QueryMotorCommand},
	{"P", QueryMotorPower},
	{"S", QueryAbsSpeed},
	{"C", QueryAbsCounter},
	{"CB", QueryBrushlessCounter},
	{"VAR", QueryUserVariable},
	{"SR", QueryRelSpeed},
	{"CR", QueryRelCounter},
	{"CBR", QueryBrushlessRelCounter},
	{"BS", QueryBrushlessSpeed},
	{"BSR", QueryBrushlessRelSpeed},
	{"BA", QueryBatteryAmps},
	{"V", QueryVolts},
	{"D", QueryDigitalInputs},
	{"DI", QueryDigitalInput},
	{"AI", QueryAnalogInput},
	{"PI", QueryPulseInput},
	{"T", QueryTemperature},
	{"F", QueryFeedback},
	{"FS", QueryStatusFlags},
	{"FF", QueryFaultFlags},
	{"DO", QueryDigitalOutputs},
	{"E", QueryLoopError},
	{"CIS", QuerySerialCommand},
	{"CIA", QueryAnalogCommand},
	{"CIP", QueryPulseCommand},
	{"TM", QueryTime},
	{"LK", QueryLockStatus},
}

var configCodes = []struct {
	code string
	kind ConfigKind
}{
	{"MRPM", ConfigMaxRPM},
	{"EPPR", ConfigEncoderPPR},
}

// NewQueryTable builds the frozen runtime query table.
func NewQueryTable() *CodeTable[QueryKind] {
	t := NewCodeTable[QueryKind]()
	for _, e := range queryCodes {
		t.Register(e.code, e.kind)
	}
	return t.Freeze()
}

// NewConfigTable builds the frozen configuration table.
func NewConfigTable() *CodeTable[ConfigKind] {
	t := NewCodeTable[ConfigKind]()
	for _, e := range configCodes {
		t.Register(e.code, e.kind)
	}
	return t.Freeze()
}

// QueryCode returns the wire code for a query kind.
func QueryCode(kind QueryKind) (string, bool) {
	for _, e := range queryCodes {
		if e.kind == kind {
			return e.code, true
		}
	}
	return "", false
}
