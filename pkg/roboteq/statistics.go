// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks packet counts and rates for a session.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets      uint64
	QueryPackets      uint64
	ConfigPackets     uint64
	UnsupportedQuery  uint64
	EchoPackets       uint64
	Acks              uint64
	Nacks             uint64
	MalformedPackets  uint64
	UnrecognizedCodes uint64
	LineOverflows     uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decode result.
func (s *Statistics) Update(res Result) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	switch res.Class {
	case ClassEcho:
		s.EchoPackets++
	case ClassAck:
		s.Acks++
	case ClassNack:
		s.Nacks++
	case ClassMalformed:
		s.MalformedPackets++
	case ClassField:
		switch {
		case errors.Is(res.Err, ErrUnrecognizedCode):
			s.UnrecognizedCodes++
		case res.IsQuery():
			s.QueryPackets++
			if !res.Supported {
				s.UnsupportedQuery++
			}
		case res.IsConfig():
			s.ConfigPackets++
		}
	}
}

// Errors returns the number of packets that could not be used.
func (s *Statistics) Errors() uint64 {
	return s.MalformedPackets + s.UnrecognizedCodes + s.Nacks + s.LineOverflows
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, malformedPercent, unknownPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.QueryPackets+s.ConfigPackets) * 100.0 / float64(s.TotalPackets)
		malformedPercent = float64(s.MalformedPackets) * 100.0 / float64(s.TotalPackets)
		unknownPercent = float64(s.UnrecognizedCodes) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Decoded:         %8d (%.1f%%)\n", s.QueryPackets+s.ConfigPackets, validPercent)
	if s.UnsupportedQuery > 0 {
		result += fmt.Sprintf("  Unsupported:      %5d\n", s.UnsupportedQuery)
	}
	if s.EchoPackets > 0 {
		result += fmt.Sprintf("Echoes:          %8d\n", s.EchoPackets)
	}
	if s.Acks > 0 || s.Nacks > 0 {
		result += fmt.Sprintf("Acks / Nacks:    %8d / %d\n", s.Acks, s.Nacks)
	}
	if s.MalformedPackets > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d (%.1f%%)\n", s.MalformedPackets, malformedPercent)
	}
	if s.UnrecognizedCodes > 0 {
		result += fmt.Sprintf("Unknown Codes:   %8d (%.1f%%)\n", s.UnrecognizedCodes, unknownPercent)
	}
	if s.LineOverflows > 0 {
		result += fmt.Sprintf("Line Overflows:  %8d\n", s.LineOverflows)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
