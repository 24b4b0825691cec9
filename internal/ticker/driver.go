/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ticker runs the repeating tick callback that advances a timeline.
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fxline/internal/timeline"
)

// TickFunc is invoked once per tick. ctx is cancelled when the run that
// produced the tick is stopped, so a late tick can detect it is stale.
type TickFunc func(ctx context.Context, now time.Time)

// Driver owns at most one running tick loop. With a zero interval the driver
// is externally paced: Start and Stop only track the running flag and the
// host delivers ticks itself, typically from a frame callback.
type Driver struct {
	interval time.Duration
	clock    timeline.TimeProvider
	tick     TickFunc
	logger   zerolog.Logger

	mu         sync.Mutex
	running    bool
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a stopped driver.
func New(interval time.Duration, clock timeline.TimeProvider, tick TickFunc, logger zerolog.Logger) *Driver {
	if clock == nil {
		clock = timeline.SystemTime{}
	}
	return &Driver{
		interval: interval,
		clock:    clock,
		tick:     tick,
		logger:   logger.With().Str("component", "ticker").Logger(),
		ctx:      context.Background(),
	}
}

// Paced reports whether the driver runs its own loop.
func (d *Driver) Paced() bool {
	return d.interval > 0
}

// Start begins ticking. Starting a running driver is a no-op and returns false.
func (d *Driver) Start(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return false
	}
	d.running = true
	d.generation++
	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.Paced() {
		d.wg.Add(1)
		go d.loop(d.ctx, d.generation)
	}
	d.logger.Debug().Uint64("generation", d.generation).Msg("driver started")
	return true
}

// Stop cancels future ticks. It never blocks, so it is safe to call from
// inside the tick callback. Stopping a stopped driver is a no-op.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.running = false
	d.cancel()
	d.logger.Debug().Uint64("generation", d.generation).Msg("driver stopped")
}

// IsRunning reports whether ticks are being delivered.
func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Context returns the context of the current run. It is cancelled once the
// run is stopped.
func (d *Driver) Context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// Wait blocks until every loop started so far has exited. It must not be
// called from the tick callback.
func (d *Driver) Wait() {
	d.wg.Wait()
}

func (d *Driver) loop(ctx context.Context, generation uint64) {
	defer d.wg.Done()
	defer d.finish(generation)

	t := time.NewTicker(d.interval)
	defer t.Stop()

	d.tick(ctx, d.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			d.tick(ctx, d.clock.Now())
		}
	}
}

// finish clears the running flag when the loop exits because its parent
// context ended rather than through Stop.
func (d *Driver) finish(generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation == generation && d.running {
		d.running = false
		d.cancel()
	}
}
