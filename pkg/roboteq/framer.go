// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import "bytes"

// SplitPackets splits a received chunk on carriage returns and returns the
// candidate packets in arrival order. The delimiter is dropped, as is any
// segment of one byte or less (stray line noise, empty lines), except a
// lone "+" or "-", which is a complete acknowledgement line.
// Text after the last delimiter is treated as a complete segment.
func SplitPackets(chunk []byte) []string {
	var packets []string
	for _, seg := range bytes.Split(chunk, []byte{Delimiter}) {
		if keepSegment(seg) {
			packets = append(packets, string(seg))
		}
	}
	return packets
}

func keepSegment(seg []byte) bool {
	if len(seg) == 1 {
		return seg[0] == AckMarker || seg[0] == NackMarker
	}
	return len(seg) > 1
}

// Framer splits a stream of chunks into packets, holding back an
// unterminated tail until the rest of the line arrives in a later chunk.
//
// The tail is bounded by MaxLineLength; a line that grows past it is
// discarded and counted in Overflows.
type Framer struct {
	pending   []byte
	overflows uint64
}

// NewFramer creates a framer with an empty partial-line buffer.
func NewFramer() *Framer {
	return &Framer{pending: make([]byte, 0, MaxLineLength)}
}

// Feed appends chunk to the stream and returns the packets completed by it.
func (f *Framer) Feed(chunk []byte) []string {
	var packets []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, Delimiter)
		if i < 0 {
			f.hold(chunk)
			break
		}
		line := chunk[:i]
		if len(f.pending) > 0 {
			line = append(f.pending, line...)
			f.pending = f.pending[:0]
		}
		if keepSegment(line) {
			packets = append(packets, string(line))
		}
		chunk = chunk[i+1:]
	}
	return packets
}

func (f *Framer) hold(tail []byte) {
	if len(f.pending)+len(tail) > MaxLineLength {
		f.pending = f.pending[:0]
		f.overflows++
		return
	}
	f.pending = append(f.pending, tail...)
}

// Flush returns the pending unterminated tail as a packet, if it is long
// enough to be one, and clears the buffer.
func (f *Framer) Flush() (string, bool) {
	defer f.Reset()
	if keepSegment(f.pending) {
		return string(f.pending), true
	}
	return "", false
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Overflows returns how many partial lines were dropped for exceeding
// MaxLineLength.
func (f *Framer) Overflows() uint64 {
	return f.overflows
}

// Reset discards any buffered partial line.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
