/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// Phase names the channel a notification was published on.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// Wildcard subscribes a handler to every effect type.
const Wildcard = "*"

// Envelope is delivered to handlers for each effect notification.
type Envelope struct {
	Type    string
	Payload any
	// Snapshot is the latest host snapshot when the notification fired, which
	// may be newer than the snapshot currently exposed by the gate.
	Snapshot any
	BatchID  string
	Elapsed  float64
	Flushed  bool
}

// Handler receives envelopes synchronously on the publisher's goroutine.
type Handler func(Envelope)

// Subscription identifies a registered handler.
type Subscription struct {
	id        uint64
	eventType string
}

type entry struct {
	id      uint64
	handler Handler
}

// Emitter implements a synchronous in-process pubsub keyed by effect type.
type Emitter struct {
	phase  Phase
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]entry
}

// NewEmitter creates an emitter for the given phase.
func NewEmitter(phase Phase) *Emitter {
	return &Emitter{phase: phase, subs: make(map[string][]entry)}
}

// Phase returns the phase this emitter publishes.
func (e *Emitter) Phase() Phase {
	return e.phase
}

// Subscribe registers a handler for an effect type, or Wildcard for all types.
func (e *Emitter) Subscribe(eventType string, handler Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.subs[eventType] = append(e.subs[eventType], entry{id: e.nextID, handler: handler})
	return Subscription{id: e.nextID, eventType: eventType}
}

// Unsubscribe removes the handler. Removing twice is a no-op.
func (e *Emitter) Unsubscribe(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subs[sub.eventType]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(e.subs, sub.eventType)
		return
	}
	e.subs[sub.eventType] = subs
}

// Publish invokes handlers for eventType in registration order, then
// wildcard handlers in registration order.
func (e *Emitter) Publish(eventType string, env Envelope) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[eventType])+len(e.subs[Wildcard]))
	for _, s := range e.subs[eventType] {
		handlers = append(handlers, s.handler)
	}
	if eventType != Wildcard {
		for _, s := range e.subs[Wildcard] {
			handlers = append(handlers, s.handler)
		}
	}
	e.mu.RUnlock()

	env.Type = eventType
	for _, h := range handlers {
		h(env)
	}
}

// Subscribers reports how many handlers would receive eventType.
func (e *Emitter) Subscribers(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.subs[eventType])
	if eventType != Wildcard {
		n += len(e.subs[Wildcard])
	}
	return n
}
