// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package capture records raw controller traffic to CBOR capture files and
// reads them back for offline replay.
//
// A capture file is a CBOR sequence: one Header followed by any number of
// Records, each encoded as a CBOR array.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	Magic   = "mdcstat-capture"
	Version = 1
)

var ErrBadHeader = errors.New("not an mdcstat capture file")

// Direction of a captured chunk relative to the host.
type Direction uint8

const (
	DirRx Direction = 1 // controller to host
	DirTx Direction = 2 // host to controller
)

func (d Direction) String() string {
	switch d {
	case DirRx:
		return "RX"
	case DirTx:
		return "TX"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Header opens every capture file.
type Header struct {
	_       struct{} `cbor:",toarray"`
	Magic   string
	Version uint
	Started int64 // unix nanoseconds
	Source  string
	Model   string
}

// Record is one chunk exactly as it crossed the transport.
type Record struct {
	_      struct{} `cbor:",toarray"`
	Dir    Direction
	Offset int64 // nanoseconds since Header.Started
	Data   []byte
}

// Elapsed returns the record's offset from the start of the capture.
func (r Record) Elapsed() time.Duration {
	return time.Duration(r.Offset)
}

// Recorder appends records to a capture stream. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	start  time.Time
	now    func() time.Time
	count  uint64
}

// Create creates path and writes the capture header.
func Create(path, source, model string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", path, err)
	}
	r, err := NewRecorder(f, source, model)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewRecorder writes the header to w and returns a recorder for it.
func NewRecorder(w io.Writer, source, model string) (*Recorder, error) {
	r := &Recorder{
		enc: cbor.NewEncoder(w),
		now: time.Now,
	}
	r.start = r.now()

	h := Header{
		Magic:   Magic,
		Version: Version,
		Started: r.start.UnixNano(),
		Source:  source,
		Model:   model,
	}
	if err := r.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return r, nil
}

// Record appends one chunk. The data is copied.
func (r *Recorder) Record(dir Direction, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := Record{
		Dir:    dir,
		Offset: r.now().Sub(r.start).Nanoseconds(),
		Data:   append([]byte(nil), data...),
	}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("write capture record: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of records written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying file, if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Reader iterates the records of a capture stream.
type Reader struct {
	Header Header

	dec    *cbor.Decoder
	closer io.Closer
}

// Open opens a capture file and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads and checks the header from rd.
func NewReader(rd io.Reader) (*Reader, error) {
	r := &Reader{dec: cbor.NewDecoder(rd)}
	if err := r.dec.Decode(&r.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if r.Header.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, r.Header.Magic)
	}
	if r.Header.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, r.Header.Version)
	}
	return r, nil
}

// Started returns the capture start time.
func (r *Reader) Started() time.Time {
	return time.Unix(0, r.Header.Started)
}

// Next returns the next record, or io.EOF at the end of the capture.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("read capture record: %w", err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
