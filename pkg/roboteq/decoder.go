// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result describes the outcome of decoding one packet.
type Result struct {
	Packet string
	Class  Class

	// Query is set when the code matched the query table.
	Query QueryKind
	// Supported is false for recognized query kinds that carry no decoder.
	Supported bool

	// Config and ConfigValues are set when the code matched the config table.
	Config       ConfigKind
	ConfigValues [2]int64

	// Err is ErrMalformedPacket or ErrUnrecognizedCode (possibly wrapped).
	Err error
}

// IsQuery reports whether the packet decoded as a runtime query response.
func (r Result) IsQuery() bool {
	return r.Class == ClassField && r.Err == nil && r.Query != QueryUnknown
}

// IsConfig reports whether the packet decoded as a config response.
func (r Result) IsConfig() bool {
	return r.Class == ClassField && r.Err == nil && r.Config != ConfigUnknown
}

// queryHandler decodes the value tokens of one query kind into a Status.
// A nil apply marks a recognized kind that is not decoded yet.
type queryHandler struct {
	minTokens int
	apply     func(s *Status, values []string)
}

var queryHandlers = map[QueryKind]queryHandler{
	QueryMotorAmps: {3, func(s *Status, v []string) {
		s.M1Amps = parseTenths(v[0])
		s.M2Amps = parseTenths(v[1])
	}},
	QueryMotorCommand: {3, func(s *Status, v []string) {
		s.M1Cmd = parseInt(v[0])
		s.M2Cmd = parseInt(v[1])
	}},
	QueryAbsSpeed: {3, func(s *Status, v []string) {
		s.E1RPM = parseInt(v[0])
		s.E2RPM = parseInt(v[1])
	}},
	QueryAbsCounter: {3, func(s *Status, v []string) {
		s.E1Count = parseInt(v[0])
		s.E2Count = parseInt(v[1])
	}},
	QueryRelCounter: {3, func(s *Status, v []string) {
		s.E1RelCount = parseInt(v[0])
		s.E2RelCount = parseInt(v[1])
	}},
	QueryBatteryAmps: {3, func(s *Status, v []string) {
		s.B1Amps = parseTenths(v[0])
		s.B2Amps = parseTenths(v[1])
	}},
	QueryVolts: {4, func(s *Status, v []string) {
		s.DriverVoltage = parseTenths(v[0])
		s.BatteryVoltage = parseTenths(v[1])
		s.FiveVoltRail = parseInt(v[2])
	}},
	QueryFaultFlags: {2, func(s *Status, v []string) {
		s.Faults = DecodeFaultFlags(uint8(parseInt(v[0])))
	}},
}

// Config responses carry one value per channel.
const configMinTokens = 3

// Decoder turns classified packets into Status updates.
// A Decoder is not safe for concurrent use; Controller serializes access.
type Decoder struct {
	queries *CodeTable[QueryKind]
	configs *CodeTable[ConfigKind]
	log     zerolog.Logger
	now     func() time.Time
}

// NewDecoder creates a decoder over the default code tables.
func NewDecoder(log zerolog.Logger) *Decoder {
	return &Decoder{
		queries: NewQueryTable(),
		configs: NewConfigTable(),
		log:     log,
		now:     time.Now,
	}
}

// Decode classifies packet and, for field-bearing packets, applies the
// decoded values to status. The status is left untouched unless the packet
// decodes successfully. Decode never panics; unexpected failures are
// reported as ErrMalformedPacket.
func (d *Decoder) Decode(packet string, status *Status) (res Result) {
	res.Packet = packet
	defer func() {
		if r := recover(); r != nil {
			res.Class = ClassMalformed
			res.Err = fmt.Errorf("%w: %v", ErrMalformedPacket, r)
			d.log.Warn().Str("packet", packet).Interface("panic", r).Msg("error parsing packet")
		}
	}()

	class, tokens := Classify(packet)
	res.Class = class

	switch class {
	case ClassEcho:
		return res
	case ClassAck:
		d.log.Debug().Msg("command acknowledged")
		return res
	case ClassNack:
		d.log.Warn().Str("packet", packet).Msg("incorrect command received")
		return res
	case ClassMalformed:
		res.Err = ErrMalformedPacket
		d.log.Warn().Str("packet", packet).Msg("incorrectly formed query response")
		return res
	}

	code := strings.TrimSpace(tokens[0])
	if kind, ok := d.queries.Lookup(code); ok {
		return d.decodeQuery(res, kind, tokens, status)
	}
	if kind, ok := d.configs.Lookup(code); ok {
		return d.decodeConfig(res, kind, tokens)
	}

	res.Err = ErrUnrecognizedCode
	d.log.Debug().Str("code", code).Msg("unrecognized query response")
	return res
}

func (d *Decoder) decodeQuery(res Result, kind QueryKind, tokens []string, status *Status) Result {
	res.Query = kind
	h, ok := queryHandlers[kind]
	if !ok || h.apply == nil {
		d.log.Debug().Stringer("query", kind).Msg("query not yet supported")
		return res
	}
	res.Supported = true

	if len(tokens) < h.minTokens {
		res.Class = ClassMalformed
		res.Err = fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformedPacket, kind, h.minTokens, len(tokens))
		d.log.Warn().Str("packet", res.Packet).Stringer("query", kind).Msg("incorrectly formed query response")
		return res
	}

	// Apply to a copy so a failure part way leaves status untouched.
	next := *status
	h.apply(&next, tokens[1:])
	next.UpdatedAt = d.now()
	*status = next
	return res
}

func (d *Decoder) decodeConfig(res Result, kind ConfigKind, tokens []string) Result {
	res.Config = kind
	if len(tokens) < configMinTokens {
		res.Class = ClassMalformed
		res.Err = fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformedPacket, kind, configMinTokens, len(tokens))
		d.log.Warn().Str("packet", res.Packet).Stringer("config", kind).Msg("incorrectly formed config response")
		return res
	}
	res.ConfigValues = [2]int64{parseInt(tokens[1]), parseInt(tokens[2])}
	return res
}

// parseInt decodes the leading decimal integer of s. Text without a
// numeric prefix decodes to zero.
func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	n, _ := strconv.ParseInt(numericPrefix(s, false), 10, 64)
	return n
}

// parseTenths decodes a value transmitted in tenths of a unit.
func parseTenths(s string) float64 {
	s = strings.TrimSpace(s)
	f, _ := strconv.ParseFloat(numericPrefix(s, true), 64)
	return f / 10.0
}

// numericPrefix returns the longest prefix of s that looks like a signed
// decimal number, optionally with a fractional part.
func numericPrefix(s string, fraction bool) string {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if fraction && i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
			digits++
		}
		if j > i+1 {
			i = j
		}
	}
	if digits == 0 {
		return "0"
	}
	return s[:i]
}
