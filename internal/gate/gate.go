/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gate decides when the host's latest snapshot becomes visible to the
// presentation layer.
package gate

import "sync"

// Gate tracks the latest host snapshot and the one currently exposed. In
// deferred mode a batch swap withholds new snapshots until the timeline
// reaches the batch duration.
type Gate struct {
	deferUntilComplete bool

	mu         sync.RWMutex
	latest     any
	latestSeq  uint64
	exposed    any
	exposedSeq uint64
	threshold  float64
	open       bool
	nextWatch  uint64
	watchers   []watcher
}

type watcher struct {
	id uint64
	fn func(any)
}

// New creates a gate exposing initial.
func New(deferUntilComplete bool, initial any) *Gate {
	return &Gate{
		deferUntilComplete: deferUntilComplete,
		latest:             initial,
		exposed:            initial,
		open:               true,
	}
}

// Deferred reports whether exposure waits for batch completion.
func (g *Gate) Deferred() bool {
	return g.deferUntilComplete
}

// Offer records a new host snapshot. Outside deferred mode it is exposed
// immediately.
func (g *Gate) Offer(snapshot any) {
	g.mu.Lock()
	g.latestSeq++
	g.latest = snapshot
	g.mu.Unlock()

	if !g.deferUntilComplete {
		g.expose()
	}
}

// Settle handles a snapshot change unrelated to a new batch. Deferral only
// applies while a batch is playing.
func (g *Gate) Settle(playing bool) {
	if !g.deferUntilComplete || !playing {
		g.expose()
	}
}

// Arm closes the gate for a newly installed batch.
func (g *Gate) Arm(duration float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = 0
	if g.deferUntilComplete {
		g.threshold = duration
	}
	g.open = false
}

// Tick opens the gate once elapsed reaches the threshold. Once open it stays
// open until the next Arm.
func (g *Gate) Tick(elapsed float64) {
	g.mu.Lock()
	if !g.open && elapsed >= g.threshold {
		g.open = true
	}
	open := g.open
	g.mu.Unlock()

	if open && g.deferUntilComplete {
		g.expose()
	}
}

// IsOpen reports whether the current batch has reached the threshold.
func (g *Gate) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open
}

// Threshold returns the timeline seconds at which the gate opens.
func (g *Gate) Threshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// Exposed returns the snapshot visible to the presentation layer.
func (g *Gate) Exposed() any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.exposed
}

// Latest returns the newest host snapshot, exposed or not.
func (g *Gate) Latest() any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest
}

// Pending reports whether a newer snapshot is being withheld.
func (g *Gate) Pending() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latestSeq != g.exposedSeq
}

// Watch calls fn with each newly exposed snapshot. The returned func removes it.
func (g *Gate) Watch(fn func(any)) func() {
	g.mu.Lock()
	g.nextWatch++
	id := g.nextWatch
	g.watchers = append(g.watchers, watcher{id: id, fn: fn})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, w := range g.watchers {
			if w.id == id {
				g.watchers = append(g.watchers[:i:i], g.watchers[i+1:]...)
				return
			}
		}
	}
}

func (g *Gate) expose() {
	g.mu.Lock()
	if g.exposedSeq == g.latestSeq {
		g.mu.Unlock()
		return
	}
	g.exposedSeq = g.latestSeq
	g.exposed = g.latest
	snapshot := g.exposed
	watchers := g.watchers
	g.mu.Unlock()

	for _, w := range watchers {
		w.fn(snapshot)
	}
}
