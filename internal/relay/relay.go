/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay forwards effect notifications to an external pubsub so
// presentation layers in other processes can follow the timeline.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fxline/internal/events"
)

// Publisher delivers an encoded message to a channel or subject.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Close() error
}

// Message is the wire form of one notification.
type Message struct {
	MessageID string    `json:"message_id"`
	NodeID    string    `json:"node_id"`
	Phase     string    `json:"phase"`
	Type      string    `json:"type"`
	BatchID   string    `json:"batch_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Elapsed   float64   `json:"elapsed"`
	Flushed   bool      `json:"flushed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type outbound struct {
	channel string
	msg     Message
}

// Relay subscribes to emitters and forwards notifications asynchronously.
// Notifications are dropped when the buffer is full so a slow broker never
// stalls the tick.
type Relay struct {
	pub    Publisher
	prefix string
	nodeID string
	logger zerolog.Logger

	queue   chan outbound
	mu      sync.Mutex
	dropped uint64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a relay. bufferSize <= 0 uses 256.
func New(pub Publisher, prefix string, bufferSize int, logger zerolog.Logger) *Relay {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Relay{
		pub:    pub,
		prefix: prefix,
		nodeID: nodeID(),
		logger: logger.With().Str("component", "relay").Logger(),
		queue:  make(chan outbound, bufferSize),
	}
}

// Channel returns the channel a notification is published on.
func (r *Relay) Channel(phase events.Phase, effectType string) string {
	return fmt.Sprintf("%s.%s.%s", r.prefix, phase, effectType)
}

// Attach subscribes to every effect type on the given emitters. The returned
// func unsubscribes.
func (r *Relay) Attach(emitters ...*events.Emitter) func() {
	type binding struct {
		em  *events.Emitter
		sub events.Subscription
	}
	bindings := make([]binding, 0, len(emitters))
	for _, em := range emitters {
		phase := em.Phase()
		sub := em.Subscribe(events.Wildcard, func(env events.Envelope) {
			r.enqueue(phase, env)
		})
		bindings = append(bindings, binding{em: em, sub: sub})
	}
	return func() {
		for _, b := range bindings {
			b.em.Unsubscribe(b.sub)
		}
	}
}

// Run publishes queued notifications until ctx is cancelled, then drains
// what is left.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case out := <-r.queue:
			r.send(ctx, out)
		}
	}
}

// Start runs the relay in the background until Close.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx)
	}()
}

// Close stops the background loop and closes the publisher.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if dropped := r.Dropped(); dropped > 0 {
		r.logger.Warn().Uint64("dropped", dropped).Msg("relay dropped notifications")
	}
	return r.pub.Close()
}

// Dropped returns how many notifications were discarded on a full buffer.
func (r *Relay) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Relay) enqueue(phase events.Phase, env events.Envelope) {
	out := outbound{
		channel: r.Channel(phase, env.Type),
		msg: Message{
			MessageID: uuid.NewString(),
			NodeID:    r.nodeID,
			Phase:     string(phase),
			Type:      env.Type,
			BatchID:   env.BatchID,
			Payload:   env.Payload,
			Elapsed:   env.Elapsed,
			Flushed:   env.Flushed,
			Timestamp: time.Now().UTC(),
		},
	}
	select {
	case r.queue <- out:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case out := <-r.queue:
			r.send(ctx, out)
		default:
			return
		}
	}
}

func (r *Relay) send(ctx context.Context, out outbound) {
	data, err := json.Marshal(out.msg)
	if err != nil {
		r.logger.Error().Err(err).Str("type", out.msg.Type).Msg("encode notification")
		return
	}
	if err := r.pub.Publish(ctx, out.channel, data); err != nil {
		r.logger.Warn().Err(err).Str("channel", out.channel).Msg("relay publish failed")
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fxline"
	}
	return host + "-" + uuid.NewString()[:8]
}
