// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import "strings"

// Classify categorizes a packet. Checks run in priority order:
//
//  1. Echo: the line contains any outbound prefix (! ? % ~ ^ #)
//  2. Ack / Nack: the line contains "+" (ack) or a "-" that is not the
//     sign of a field value (nack)
//  3. Field: the line splits on "=" / ":" into at least two tokens
//
// Field lines return their tokens; every other class returns nil tokens.
// A line that fails to split into two tokens is ClassMalformed.
func Classify(packet string) (Class, []string) {
	if strings.ContainsAny(packet, echoMarkers) {
		return ClassEcho, nil
	}
	if strings.IndexByte(packet, AckMarker) >= 0 {
		return ClassAck, nil
	}
	if hasNackMarker(packet) {
		return ClassNack, nil
	}

	tokens := Tokenize(packet)
	if len(tokens) < 2 {
		return ClassMalformed, tokens
	}
	return ClassField, tokens
}

// Tokenize splits a field-bearing line on "=" and ":". Runs of separators
// collapse into a single split point, so no empty tokens are produced.
func Tokenize(packet string) []string {
	return strings.FieldsFunc(packet, func(r rune) bool {
		return strings.ContainsRune(fieldSeparators, r)
	})
}

// hasNackMarker reports whether packet carries a "-" other than a numeric
// sign directly after a field separator ("M=-200:-15").
func hasNackMarker(packet string) bool {
	for i := 0; i < len(packet); i++ {
		if packet[i] != NackMarker {
			continue
		}
		signed := i > 0 && strings.IndexByte(fieldSeparators, packet[i-1]) >= 0 &&
			i+1 < len(packet) && isDigit(packet[i+1])
		if !signed {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
