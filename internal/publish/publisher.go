// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package publish forwards decoded status snapshots to Redis.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

// Client is the subset of *redis.Client used by the publisher.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Message is the JSON document published for every snapshot.
type Message struct {
	Unit   string         `json:"unit,omitempty"`
	Kind   string         `json:"kind"`
	Faults []string       `json:"faults,omitempty"`
	Status roboteq.Status `json:"status"`
	Time   time.Time      `json:"time"`
}

// Options for Dial.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Publisher decouples the decode path from Redis latency with a bounded
// queue. Enqueue never blocks; snapshots that do not fit are dropped.
type Publisher struct {
	client  Client
	channel string
	unit    string
	queue   chan Message
	log     zerolog.Logger
	onDrop  func()
	now     func() time.Time

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Publisher)

func WithLogger(log zerolog.Logger) Option {
	return func(p *Publisher) {
		p.log = log
	}
}

// WithUnit tags messages with the controller's unit id.
func WithUnit(unit string) Option {
	return func(p *Publisher) {
		p.unit = unit
	}
}

// WithDropHook is called for every dropped snapshot.
func WithDropHook(fn func()) Option {
	return func(p *Publisher) {
		p.onDrop = fn
	}
}

// New creates a publisher with room for size pending snapshots.
func New(client Client, channel string, size int, opts ...Option) *Publisher {
	if size <= 0 {
		size = 1
	}
	p := &Publisher{
		client:  client,
		channel: channel,
		queue:   make(chan Message, size),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue queues a snapshot for publishing. It reports false if the queue
// was full and the snapshot was dropped.
func (p *Publisher) Enqueue(status roboteq.Status, kind roboteq.QueryKind) bool {
	msg := Message{
		Unit:   p.unit,
		Kind:   kind.String(),
		Faults: status.Faults.Active(),
		Status: status,
		Time:   p.now(),
	}
	select {
	case p.queue <- msg:
		return true
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop()
		}
		return false
	}
}

// Run publishes queued snapshots until ctx is done. Each snapshot goes to
// the pub/sub channel and replaces the "<channel>:latest" key.
func (p *Publisher) Run(ctx context.Context) {
	p.log.Info().Str("channel", p.channel).Msg("status publisher started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().
				Uint64("published", p.published.Load()).
				Uint64("dropped", p.dropped.Load()).
				Msg("status publisher stopped")
			return
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				p.failed.Add(1)
				p.log.Warn().Err(err).Msg("status publish failed")
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := p.client.Set(ctx, p.channel+":latest", data, 0).Err(); err != nil {
		p.log.Debug().Err(err).Msg("failed to store latest status")
	}
	return nil
}

func (p *Publisher) Published() uint64 { return p.published.Load() }
func (p *Publisher) Dropped() uint64   { return p.dropped.Load() }
func (p *Publisher) Failed() uint64    { return p.failed.Load() }

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
