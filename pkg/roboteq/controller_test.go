// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================
// Fake Transport
// ============================================================

// fakeTransport is an in-memory Transport. Bytes queued with push are
// returned by Read; Read returns (0, nil) once the read timeout elapses.
type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	written  []string
	writeErr error
	short    int
	timeout  time.Duration
	leftover []byte

	reads chan []byte

	// reply is called after every successful write
	reply func(f *fakeTransport, cmd string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		open:    true,
		timeout: 5 * time.Millisecond,
		reads:   make(chan []byte, 64),
	}
}

func (f *fakeTransport) push(s string) {
	f.reads <- []byte(s)
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return 0, io.EOF
	}
	if len(f.leftover) > 0 {
		n := copy(p, f.leftover)
		f.leftover = f.leftover[n:]
		f.mu.Unlock()
		return n, nil
	}
	timeout := f.timeout
	f.mu.Unlock()

	select {
	case b := <-f.reads:
		n := copy(p, b)
		if n < len(b) {
			f.mu.Lock()
			f.leftover = append(f.leftover, b[n:]...)
			f.mu.Unlock()
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	f.written = append(f.written, string(p))
	n := len(p) - f.short
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		reply(f, string(p))
	}
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// SetReadTimeout keeps the fake's short timeout so tests stay fast
func (f *fakeTransport) SetReadTimeout(time.Duration) error {
	return nil
}

func (f *fakeTransport) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestController(tr *fakeTransport) *Controller {
	return NewController(tr, WithReadTimeout(5*time.Millisecond))
}

// ============================================================
// Chunk Handling Tests
// ============================================================

func TestController_QueryCallback(t *testing.T) {
	c := newTestController(newFakeTransport())

	var calls int
	var got Status
	var kind QueryKind
	c.OnQuery(func(s Status, k QueryKind) {
		calls++
		got, kind = s, k
	})

	c.HandleChunk([]byte("A=15:25\r"))

	if calls != 1 {
		t.Fatalf("Expected exactly 1 callback, got %d", calls)
	}
	if kind != QueryMotorAmps {
		t.Errorf("Expected MOTOR_AMPS, got %s", kind)
	}
	if !approxEqual(got.M1Amps, 1.5) || !approxEqual(got.M2Amps, 2.5) {
		t.Errorf("Expected 1.5/2.5 A in snapshot, got %v/%v", got.M1Amps, got.M2Amps)
	}
	if c.Status() != got {
		t.Error("Snapshot should match current status")
	}
}

func TestController_SnapshotPerPacket(t *testing.T) {
	c := newTestController(newFakeTransport())

	var snaps []Status
	c.OnQuery(func(s Status, _ QueryKind) {
		snaps = append(snaps, s)
	})

	c.HandleChunk([]byte("M=100:200\rM=300:400\r"))

	if len(snaps) != 2 {
		t.Fatalf("Expected 2 callbacks, got %d", len(snaps))
	}
	if snaps[0].M1Cmd != 100 || snaps[1].M1Cmd != 300 {
		t.Errorf("Callbacks should see status as of their packet, got %d then %d", snaps[0].M1Cmd, snaps[1].M1Cmd)
	}
	if s := c.Status(); s.M1Cmd != 300 || s.M2Cmd != 400 {
		t.Errorf("Expected last packet to win, got %d/%d", s.M1Cmd, s.M2Cmd)
	}
}

func TestController_UnsupportedQueryStillDispatched(t *testing.T) {
	c := newTestController(newFakeTransport())

	var kinds []QueryKind
	c.OnQuery(func(_ Status, k QueryKind) {
		kinds = append(kinds, k)
	})
	c.HandleChunk([]byte("T=30:31\r"))

	if len(kinds) != 1 || kinds[0] != QueryTemperature {
		t.Errorf("Expected one TEMPERATURE callback, got %v", kinds)
	}
}

func TestController_ConfigCallback(t *testing.T) {
	c := newTestController(newFakeTransport())

	var v1, v2 int64
	var kind ConfigKind
	queried := false
	c.OnQuery(func(Status, QueryKind) { queried = true })
	c.OnConfig(func(a, b int64, k ConfigKind) {
		v1, v2, kind = a, b, k
	})

	c.HandleChunk([]byte("EPPR=1024:2048\r"))

	if kind != ConfigEncoderPPR || v1 != 1024 || v2 != 2048 {
		t.Errorf("Unexpected config callback: %s %d %d", kind, v1, v2)
	}
	if queried {
		t.Error("Config response should not fire the query callback")
	}
}

func TestController_UnknownCodeNoCallback(t *testing.T) {
	c := newTestController(newFakeTransport())

	fired := false
	c.OnQuery(func(Status, QueryKind) { fired = true })
	c.OnConfig(func(int64, int64, ConfigKind) { fired = true })

	c.HandleChunk([]byte("ZZ=1:2\r"))

	if fired {
		t.Error("Unknown code should fire no callback")
	}
	if c.Statistics().UnrecognizedCodes != 1 {
		t.Error("Unknown code should be counted")
	}
}

func TestController_MalformedLeavesStatus(t *testing.T) {
	c := newTestController(newFakeTransport())
	c.HandleChunk([]byte("A=15:25\r"))
	before := c.Status()

	fired := false
	c.OnQuery(func(Status, QueryKind) { fired = true })
	c.HandleChunk([]byte("A=99\r\x00\x01\xff\rV=1\r"))

	if fired {
		t.Error("Malformed packets should fire no callback")
	}
	if c.Status() != before {
		t.Errorf("Status changed by malformed input: %+v", c.Status())
	}
	if got := c.Statistics().MalformedPackets; got != 3 {
		t.Errorf("Expected 3 malformed packets, got %d", got)
	}
}

func TestController_CrossChunk(t *testing.T) {
	c := newTestController(newFakeTransport())

	c.HandleChunk([]byte("A=1"))
	c.HandleChunk([]byte("5:25\r"))

	if s := c.Status(); !approxEqual(s.M1Amps, 1.5) {
		t.Errorf("Expected reassembled packet to decode, got %v", s.M1Amps)
	}
}

func TestController_AckCallback(t *testing.T) {
	c := newTestController(newFakeTransport())

	var acks []bool
	c.OnAck(func(ok bool) { acks = append(acks, ok) })
	c.HandleChunk([]byte("!G 1 500\r+\r!G 1 9999\r-\r"))

	if len(acks) != 2 || !acks[0] || acks[1] {
		t.Errorf("Expected [true false], got %v", acks)
	}
}

func TestController_CallbackMayReenter(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	c.OnQuery(func(s Status, _ QueryKind) {
		_ = c.Status()
		if s.Faults.EmergencyStop {
			_ = c.ClearEmergencyStop()
		}
	})

	done := make(chan struct{})
	go func() {
		c.HandleChunk([]byte("FF=16\r"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Callback calling back into controller deadlocked")
	}
	if w := tr.writes(); len(w) != 1 || w[0] != "!MG\r" {
		t.Errorf("Expected clear emergency stop write, got %q", w)
	}
}

func TestController_ResultHook(t *testing.T) {
	var results []Result
	var amps []float64
	c := NewController(newFakeTransport(), WithResultHook(func(r Result, s Status) {
		results = append(results, r)
		amps = append(amps, s.M1Amps)
	}))

	c.HandleChunk([]byte("?A\rA=10:2\rZZ=3\rA=20:2\r"))

	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}
	if results[0].Class != ClassEcho || !results[1].IsQuery() || results[2].Err == nil {
		t.Errorf("Unexpected results: %+v", results)
	}
	if amps[1] != 1.0 || amps[3] != 2.0 {
		t.Errorf("Hook should see per-packet snapshots, got %v", amps)
	}
}

// ============================================================
// Command Tests
// ============================================================

func TestController_SendCommand(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	if err := c.DualMotorCommand(400, -200); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := c.SetTelemetryString("?A:?FF", 50); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"!M 400 -200\r", "^TELS \"?A:?FF:# 50\"\r"}
	got := tr.writes()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d writes, got %q", len(expected), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Write %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestController_SendCommandClosed(t *testing.T) {
	tr := newFakeTransport()
	tr.Close()
	c := newTestController(tr)

	if err := c.EmergencyStop(); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Expected ErrTransportUnavailable, got %v", err)
	}
	if len(tr.writes()) != 0 {
		t.Error("Nothing should be written to a closed transport")
	}

	bare := NewController(nil)
	if err := bare.SendCommand("?A\r"); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Expected ErrTransportUnavailable without transport, got %v", err)
	}
}

func TestController_ShortWrite(t *testing.T) {
	tr := newFakeTransport()
	tr.short = 1
	c := newTestController(tr)

	if err := c.SaveConfiguration(); !errors.Is(err, ErrShortWrite) {
		t.Errorf("Expected ErrShortWrite, got %v", err)
	}
}

func TestController_WriteError(t *testing.T) {
	tr := newFakeTransport()
	tr.writeErr = errors.New("device unplugged")
	c := newTestController(tr)

	err := c.Reset()
	if err == nil || !errors.Is(err, tr.writeErr) {
		t.Errorf("Expected wrapped write error, got %v", err)
	}
}

func TestController_InvalidParameterNoWrite(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	for _, ppr := range []int{0, 5001} {
		if err := c.SetEncoderPPR(1, ppr); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("ppr=%d: expected ErrInvalidParameter, got %v", ppr, err)
		}
	}
	if err := c.SetMaxRPM(1, 70000); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	if len(tr.writes()) != 0 {
		t.Fatalf("Rejected commands were written: %q", tr.writes())
	}

	if err := c.SetEncoderPPR(1, 2500); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if w := tr.writes(); len(w) != 1 || w[0] != "^EPPR 1 2500\r" {
		t.Errorf("Expected ^EPPR 1 2500, got %q", w)
	}
}

// ============================================================
// Continuous Reading Tests
// ============================================================

func TestController_ContinuousReading(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	var calls atomic.Int32
	c.OnQuery(func(Status, QueryKind) { calls.Add(1) })

	if err := c.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("Second start should be a no-op, got %v", err)
	}
	if !c.Reading() {
		t.Fatal("Expected reading to be active")
	}

	tr.push("A=15:")
	tr.push("25\rFF=0\r")
	waitFor(t, func() bool { return calls.Load() == 2 })

	c.StopContinuousReading()
	if c.Reading() {
		t.Error("Reading should be inactive after stop")
	}

	tr.push("A=1:2\r")
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("Callbacks fired after stop: %d", got)
	}

	// Idempotent
	c.StopContinuousReading()
}

func TestController_StopWithoutStart(t *testing.T) {
	c := newTestController(newFakeTransport())
	c.StopContinuousReading()
	if c.Done() != nil {
		t.Error("Done should be nil when not reading")
	}
}

func TestController_StartClosedTransport(t *testing.T) {
	tr := newFakeTransport()
	tr.Close()
	c := newTestController(tr)
	if err := c.StartContinuousReading(context.Background()); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Expected ErrTransportUnavailable, got %v", err)
	}
}

func TestController_ReadLoopExitsOnClose(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	if err := c.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := c.Done()
	tr.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read loop did not exit after transport closed")
	}
	c.StopContinuousReading()
}

func TestController_ContextCancelStopsReading(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.StartContinuousReading(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := c.Done()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read loop did not exit after context cancel")
	}
}

// ============================================================
// Acknowledgement Correlation Tests
// ============================================================

func TestSendCommandAck(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected error
	}{
		{"ack", "+\r", nil},
		{"nack", "-\r", ErrNack},
		{"echo then ack", "!G 1 500\r+\r", nil},
		{"no reply", "", ErrAckTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.reply = func(f *fakeTransport, cmd string) {
				if tt.reply != "" {
					f.push(tt.reply)
				}
			}
			c := newTestController(tr)
			if err := c.StartContinuousReading(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer c.StopContinuousReading()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			err := c.SendCommandAck(ctx, MotorCommand(1, 500))
			if tt.expected == nil && err != nil {
				t.Errorf("Expected success, got %v", err)
			}
			if tt.expected != nil && !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestSendCommandAck_NotReading(t *testing.T) {
	c := newTestController(newFakeTransport())
	if err := c.SendCommandAck(context.Background(), EmergencyStop()); !errors.Is(err, ErrNotReading) {
		t.Errorf("Expected ErrNotReading, got %v", err)
	}
}

func TestSendCommandAck_OneOutstanding(t *testing.T) {
	tr := newFakeTransport()
	c := newTestController(tr)
	if err := c.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.StopContinuousReading()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		first <- c.SendCommandAck(ctx, EmergencyStop())
	}()
	waitFor(t, func() bool { return len(tr.writes()) == 1 })

	if err := c.SendCommandAck(context.Background(), ClearEmergencyStop()); !errors.Is(err, ErrAckPending) {
		t.Errorf("Expected ErrAckPending, got %v", err)
	}

	tr.push("+\r")
	if err := <-first; err != nil {
		t.Errorf("First command should be acknowledged, got %v", err)
	}
	cancel()
}

// ============================================================
// Handshake Tests
// ============================================================

func handshakeReplies(trn, fid string) func(f *fakeTransport, cmd string) {
	return func(f *fakeTransport, cmd string) {
		switch cmd {
		case "\r?TRN\r":
			if trn != "" {
				f.push("?TRN\r" + trn + "\r")
			}
		case "\r?FID\r":
			if fid != "" {
				f.push("?FID\r" + fid + "\r")
			}
		}
	}
}

func TestIdentify(t *testing.T) {
	tr := newFakeTransport()
	tr.reply = handshakeReplies("TRN=RCB500:MDC2250", "FID=Roboteq v2.0 MDC2250 07/01/2020")
	tr.push("A=1:2\r") // stale telemetry to be drained

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := Identify(ctx, tr, DefaultModel)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if info.UnitID != "RCB500" || info.Model != "MDC2250" {
		t.Errorf("Unexpected device info: %+v", info)
	}
	if info.FirmwareID != "Roboteq v2.0 MDC2250 07/01/2020" {
		t.Errorf("Unexpected firmware id: %q", info.FirmwareID)
	}
	if w := tr.writes(); len(w) == 0 || w[0] != "# C\r" {
		t.Errorf("Expected history clear first, got %q", w)
	}
}

func TestIdentify_ModelMismatch(t *testing.T) {
	tr := newFakeTransport()
	tr.reply = handshakeReplies("TRN=RCB500:HDC2460", "")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := Identify(ctx, tr, DefaultModel)
	var mme *ModelMismatchError
	if !errors.As(err, &mme) {
		t.Fatalf("Expected *ModelMismatchError, got %v", err)
	}
	if mme.Actual != "HDC2460" {
		t.Errorf("Unexpected model in error: %q", mme.Actual)
	}
}

func TestIdentify_AnyModel(t *testing.T) {
	tr := newFakeTransport()
	tr.reply = handshakeReplies("TRN=RCB500:HDC2460", "")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	info, err := Identify(ctx, tr, "")
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if info.FirmwareID != "" {
		t.Errorf("Missing FID reply should leave firmware empty, got %q", info.FirmwareID)
	}
}

func TestIdentify_Silent(t *testing.T) {
	tr := newFakeTransport()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if _, err := Identify(ctx, tr, DefaultModel); !errors.Is(err, ErrHandshakeTimeout) {
		t.Errorf("Expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestIdentify_NotAController(t *testing.T) {
	tr := newFakeTransport()
	tr.reply = func(f *fakeTransport, cmd string) {
		if cmd == "\r?TRN\r" {
			f.push("?TRN\rERR\r")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if _, err := Identify(ctx, tr, DefaultModel); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestIdentify_Closed(t *testing.T) {
	tr := newFakeTransport()
	tr.Close()
	if _, err := Identify(context.Background(), tr, DefaultModel); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Expected ErrTransportUnavailable, got %v", err)
	}
}

func TestController_IdentifyWhileReading(t *testing.T) {
	c := newTestController(newFakeTransport())
	if err := c.StartContinuousReading(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.StopContinuousReading()

	if _, err := c.Identify(context.Background(), DefaultModel); err == nil {
		t.Error("Identify should refuse to run while reading")
	}
}
