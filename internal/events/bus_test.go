/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRegistrationOrder(t *testing.T) {
	em := NewEmitter(PhaseStart)
	var got []string
	em.Subscribe("dmg", func(Envelope) { got = append(got, "first") })
	em.Subscribe(Wildcard, func(Envelope) { got = append(got, "wildcard") })
	em.Subscribe("dmg", func(Envelope) { got = append(got, "second") })
	em.Subscribe("heal", func(Envelope) { got = append(got, "heal") })

	em.Publish("dmg", Envelope{Payload: 3})

	assert.Equal(t, []string{"first", "second", "wildcard"}, got)
}

func TestPublishDeliversEnvelope(t *testing.T) {
	em := NewEmitter(PhaseEnd)
	var got Envelope
	em.Subscribe("dmg", func(env Envelope) { got = env })

	em.Publish("dmg", Envelope{Payload: 7, Snapshot: "after", BatchID: "b1", Elapsed: 0.5, Flushed: true})

	assert.Equal(t, Envelope{Type: "dmg", Payload: 7, Snapshot: "after", BatchID: "b1", Elapsed: 0.5, Flushed: true}, got)
	assert.Equal(t, PhaseEnd, em.Phase())
}

func TestPublishWithoutSubscribers(t *testing.T) {
	em := NewEmitter(PhaseStart)
	require.NotPanics(t, func() { em.Publish("nobody", Envelope{}) })
	assert.Zero(t, em.Subscribers("nobody"))
}

func TestUnsubscribe(t *testing.T) {
	em := NewEmitter(PhaseStart)
	calls := 0
	sub := em.Subscribe("dmg", func(Envelope) { calls++ })
	other := em.Subscribe("dmg", func(Envelope) { calls += 10 })

	em.Unsubscribe(sub)
	em.Unsubscribe(sub)
	em.Publish("dmg", Envelope{})
	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, em.Subscribers("dmg"))

	em.Unsubscribe(other)
	em.Publish("dmg", Envelope{})
	assert.Equal(t, 10, calls)
	assert.Zero(t, em.Subscribers("dmg"))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	em := NewEmitter(PhaseStart)
	var sub Subscription
	calls := 0
	sub = em.Subscribe("dmg", func(Envelope) {
		calls++
		em.Unsubscribe(sub)
	})
	em.Subscribe("dmg", func(Envelope) { calls++ })

	em.Publish("dmg", Envelope{})
	em.Publish("dmg", Envelope{})
	assert.Equal(t, 3, calls)
}

func TestEmittersAreIndependent(t *testing.T) {
	starts := NewEmitter(PhaseStart)
	ends := NewEmitter(PhaseEnd)
	var started, ended int
	starts.Subscribe("dmg", func(Envelope) { started++ })
	ends.Subscribe("dmg", func(Envelope) { ended++ })

	starts.Publish("dmg", Envelope{})
	assert.Equal(t, 1, started)
	assert.Zero(t, ended)
}
