// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package roboteq

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Transport is the byte link to the controller, normally a serial port.
// Read must return (0, nil) when the read timeout elapses without data.
type Transport interface {
	io.ReadWriteCloser
	IsOpen() bool
	SetReadTimeout(d time.Duration) error
}

// QueryCallback receives a snapshot of the status after every decoded
// runtime query response, together with the kind that was decoded.
type QueryCallback func(status Status, kind QueryKind)

// ConfigCallback receives the two channel values of a config response.
type ConfigCallback func(value1, value2 int64, kind ConfigKind)

// AckCallback receives true for an acknowledgement, false for a rejection.
type AckCallback func(ack bool)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller and its decoder.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithReadTimeout sets the transport read timeout used by continuous reading.
// Stopping continuous reading takes at most this long.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithReadBufferSize sets the size of the chunk buffer used per read.
func WithReadBufferSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// ResultHook observes a decode result together with the status as it was
// right after that packet was decoded.
type ResultHook func(res Result, status Status)

// WithResultHook registers an observer that sees every decode result, in
// order, before callbacks fire.
func WithResultHook(hook ResultHook) Option {
	return func(c *Controller) {
		c.resultHook = hook
	}
}

// Controller is a session with one motor controller. It owns the Status
// aggregate and serializes all decoding behind a mutex. Callbacks run on
// the reading goroutine, outside the state lock, with a snapshot of the
// status taken right after their packet was decoded. Callbacks may call
// Status and send commands.
type Controller struct {
	transport   Transport
	log         zerolog.Logger
	readTimeout time.Duration
	bufSize     int
	resultHook  ResultHook

	mu      sync.Mutex // guards status, framer, decoder, stats
	status  Status
	framer  *Framer
	decoder *Decoder
	stats   *Statistics

	cbMu           sync.RWMutex
	queryCallback  QueryCallback
	configCallback ConfigCallback
	ackCallback    AckCallback

	writeMu sync.Mutex

	ackMu     sync.Mutex // held while a command awaits its acknowledgement
	pendingMu sync.Mutex
	pending   chan bool

	stopMu  sync.Mutex
	readMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	reading atomic.Bool
}

// NewController creates a session over transport.
func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport:   transport,
		log:         zerolog.Nop(),
		readTimeout: DefaultReadTimeout,
		bufSize:     128,
		framer:      NewFramer(),
		stats:       NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.decoder = NewDecoder(c.log)
	return c
}

// OnQuery sets the runtime query callback.
func (c *Controller) OnQuery(cb QueryCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.queryCallback = cb
}

// OnConfig sets the config callback.
func (c *Controller) OnConfig(cb ConfigCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.configCallback = cb
}

// OnAck sets the acknowledgement callback.
func (c *Controller) OnAck(cb AckCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.ackCallback = cb
}

// Status returns a copy of the current status aggregate.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Statistics returns a copy of the session packet statistics.
func (c *Controller) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := *c.stats
	stats.CalculateRates()
	return stats
}

type decoded struct {
	res    Result
	status Status
}

// HandleChunk runs one received chunk through framing, classification and
// decoding, then dispatches callbacks in packet order. Lines split across
// chunks are reassembled. Malformed input is logged and dropped.
func (c *Controller) HandleChunk(chunk []byte) {
	c.mu.Lock()
	packets := c.framer.Feed(chunk)
	c.stats.LineOverflows = c.framer.Overflows()
	events := make([]decoded, 0, len(packets))
	for _, p := range packets {
		res := c.decoder.Decode(p, &c.status)
		c.stats.Update(res)
		events = append(events, decoded{res: res, status: c.status})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.dispatch(ev.res, ev.status)
	}
}

// dispatch fires at most one of the query, config or ack callbacks.
func (c *Controller) dispatch(res Result, status Status) {
	if c.resultHook != nil {
		c.resultHook(res, status)
	}

	c.cbMu.RLock()
	onQuery, onConfig, onAck := c.queryCallback, c.configCallback, c.ackCallback
	c.cbMu.RUnlock()

	switch {
	case res.Class == ClassAck || res.Class == ClassNack:
		ack := res.Class == ClassAck
		c.deliverAck(ack)
		if onAck != nil {
			onAck(ack)
		}
	case res.IsQuery():
		if onQuery != nil {
			onQuery(status, res.Query)
		}
	case res.IsConfig():
		if onConfig != nil {
			onConfig(res.ConfigValues[0], res.ConfigValues[1], res.Config)
		}
	}
}

// StartContinuousReading starts reading the transport on a new goroutine
// and feeding every chunk to HandleChunk. Calling it while already reading
// is a no-op. Reading ends when ctx is done, the transport fails, or
// StopContinuousReading is called.
func (c *Controller) StartContinuousReading(ctx context.Context) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.cancel != nil {
		return nil
	}
	if c.transport == nil || !c.transport.IsOpen() {
		return ErrTransportUnavailable
	}
	if err := c.transport.SetReadTimeout(c.readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.reading.Store(true)

	c.log.Info().Dur("timeout", c.readTimeout).Msg("starting continuous read")
	go c.readLoop(ctx, done)
	return nil
}

// StopContinuousReading stops the read goroutine and waits for it to exit.
// Once it returns no further callbacks are invoked by the read loop.
// It is safe to call at any time and more than once, but not from inside
// a callback.
func (c *Controller) StopContinuousReading() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.readMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.readMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.reading.Store(false)

	c.mu.Lock()
	c.framer.Reset()
	c.mu.Unlock()
}

// Reading reports whether the read loop is running.
func (c *Controller) Reading() bool {
	return c.reading.Load()
}

// Done returns a channel closed when the current read loop exits, or nil
// when not reading.
func (c *Controller) Done() <-chan struct{} {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.done
}

func (c *Controller) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.reading.Store(false)

	buf := make([]byte, c.bufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.transport.Read(buf)
		if n > 0 {
			c.HandleChunk(buf[:n])
		}
		if err != nil {
			if !c.transport.IsOpen() || err == io.EOF {
				c.log.Warn().Err(err).Msg("transport closed, stopping continuous read")
				return
			}
			c.log.Error().Err(err).Msg("read error")
			// Brief pause before retry on transient errors
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// Close stops reading and closes the transport.
func (c *Controller) Close() error {
	c.StopContinuousReading()
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// SendCommand writes a complete command in a single write. It does not wait
// for an acknowledgement. The write only counts as successful if the
// transport accepted every byte.
func (c *Controller) SendCommand(cmd string) error {
	if c.transport == nil || !c.transport.IsOpen() {
		return ErrTransportUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.transport.Write([]byte(cmd))
	if err != nil {
		c.log.Error().Err(err).Str("command", strings.TrimSpace(cmd)).Msg("failed to send command")
		return fmt.Errorf("send %q: %w", strings.TrimSpace(cmd), err)
	}
	if n != len(cmd) {
		c.log.Error().Int("written", n).Int("length", len(cmd)).Msg("short write")
		return ErrShortWrite
	}
	return nil
}

// SendCommandAck writes cmd and waits for the next acknowledgement seen by
// the read loop. Only one command may await acknowledgement at a time.
// The protocol carries no request tags, so an ack for an earlier
// fire-and-forget command that is still in flight is indistinguishable.
func (c *Controller) SendCommandAck(ctx context.Context, cmd string) error {
	if !c.Reading() {
		return ErrNotReading
	}
	if !c.ackMu.TryLock() {
		return ErrAckPending
	}
	defer c.ackMu.Unlock()

	ch := make(chan bool, 1)
	c.pendingMu.Lock()
	c.pending = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.pendingMu.Unlock()
	}()

	if err := c.SendCommand(cmd); err != nil {
		return err
	}

	select {
	case ack := <-ch:
		if !ack {
			return ErrNack
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAckTimeout, ctx.Err())
	}
}

func (c *Controller) deliverAck(ack bool) {
	c.pendingMu.Lock()
	ch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if ch != nil {
		ch <- ack
	}
}

// MotorCommand sends "!G <channel> <command>".
func (c *Controller) MotorCommand(channel, command int) error {
	return c.SendCommand(MotorCommand(channel, command))
}

// DualMotorCommand sends "!M <cmd1> <cmd2>".
func (c *Controller) DualMotorCommand(cmd1, cmd2 int) error {
	return c.SendCommand(DualMotorCommand(cmd1, cmd2))
}

// EmergencyStop sends "!EX".
func (c *Controller) EmergencyStop() error {
	return c.SendCommand(EmergencyStop())
}

// ClearEmergencyStop sends "!MG".
func (c *Controller) ClearEmergencyStop() error {
	return c.SendCommand(ClearEmergencyStop())
}

// Reset sends the soft reset command.
func (c *Controller) Reset() error {
	return c.SendCommand(Reset())
}

// FactoryReset sends the factory reset command.
func (c *Controller) FactoryReset() error {
	return c.SendCommand(FactoryReset())
}

// SaveConfiguration sends "%EESAV".
func (c *Controller) SaveConfiguration() error {
	return c.SendCommand(SaveConfiguration())
}

// SetTelemetryString configures periodic telemetry.
func (c *Controller) SetTelemetryString(queries string, periodMs int) error {
	return c.SendCommand(TelemetryString(queries, periodMs))
}

// ClearBufferHistory sends "# C".
func (c *Controller) ClearBufferHistory() error {
	return c.SendCommand(ClearBufferHistory())
}

// SendQueryHistory sends "# <period>".
func (c *Controller) SendQueryHistory(periodMs int) error {
	return c.SendCommand(QueryHistory(periodMs))
}

// SetEncoderPPR sends "^EPPR <channel> <ppr>". Out of range values are
// logged and nothing is written.
func (c *Controller) SetEncoderPPR(channel, ppr int) error {
	cmd, err := SetEncoderPPR(channel, ppr)
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid PPR value, not set")
		return err
	}
	return c.SendCommand(cmd)
}

// SetMaxRPM sends "^MRPM <channel> <mrpm>". Out of range values are logged
// and nothing is written.
func (c *Controller) SetMaxRPM(channel, mrpm int) error {
	cmd, err := SetMaxRPM(channel, mrpm)
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid RPM value, not set")
		return err
	}
	return c.SendCommand(cmd)
}
