/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline converts wall-clock instants into batch timeline seconds.
package timeline

import (
	"sync"
	"time"
)

// Clock holds the reference start instant and speed multiplier of the
// current batch timeline.
type Clock struct {
	provider TimeProvider
	speed    float64

	mu    sync.RWMutex
	start time.Time
}

// NewClock creates a clock. A nil provider uses SystemTime and a non-positive
// speed falls back to 1.
func NewClock(provider TimeProvider, speed float64) *Clock {
	if provider == nil {
		provider = SystemTime{}
	}
	if speed <= 0 {
		speed = 1
	}
	return &Clock{provider: provider, speed: speed, start: provider.Now()}
}

// Reset moves the start instant to now and returns it.
func (c *Clock) Reset() time.Time {
	now := c.provider.Now()
	c.mu.Lock()
	c.start = now
	c.mu.Unlock()
	return now
}

// Now returns the provider's current instant.
func (c *Clock) Now() time.Time {
	return c.provider.Now()
}

// Start returns the current reference instant.
func (c *Clock) Start() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Speed returns the speed multiplier.
func (c *Clock) Speed() float64 {
	return c.speed
}

// Elapsed returns timeline seconds elapsed since the last Reset.
func (c *Clock) Elapsed() float64 {
	return c.ElapsedAt(c.provider.Now())
}

// ElapsedAt returns timeline seconds between the start instant and now.
func (c *Clock) ElapsedAt(now time.Time) float64 {
	c.mu.RLock()
	start := c.start
	c.mu.RUnlock()
	return now.Sub(start).Seconds() * c.speed
}
