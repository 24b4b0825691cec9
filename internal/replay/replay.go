/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package replay plays a script against a scheduler and records what the
// presentation layer would have seen.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fxline/internal/events"
	"github.com/friendsincode/fxline/internal/scheduler"
	"github.com/friendsincode/fxline/internal/script"
	"github.com/friendsincode/fxline/internal/telemetry"
	"github.com/friendsincode/fxline/internal/timeline"
)

// ErrNoProgress indicates a simulated replay that did not settle.
var ErrNoProgress = errors.New("replay did not settle")

// DefaultTick is used when neither the options nor the script set a tick.
const DefaultTick = 16 * time.Millisecond

const maxSimulatedSteps = 1_000_000

// Event kinds recorded in a trace.
const (
	KindStart    = "start"
	KindEnd      = "end"
	KindSnapshot = "snapshot"
	KindComplete = "complete"
	KindRejected = "rejected"
)

// Event is one observable outcome. At is wall seconds since the replay began.
type Event struct {
	At       float64 `json:"at"`
	Kind     string  `json:"kind"`
	Type     string  `json:"type,omitempty"`
	BatchID  string  `json:"batch_id,omitempty"`
	Payload  any     `json:"payload,omitempty"`
	Elapsed  float64 `json:"elapsed,omitempty"`
	Flushed  bool    `json:"flushed,omitempty"`
	Snapshot any     `json:"snapshot,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Trace is the ordered record of a replay.
type Trace struct {
	Name   string  `json:"name"`
	Events []Event `json:"events"`
}

// Kinds returns the event kinds in order.
func (t *Trace) Kinds() []string {
	kinds := make([]string, len(t.Events))
	for i, e := range t.Events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Options control how a script is played.
type Options struct {
	// Simulate steps a mock clock by Tick instead of waiting in real time.
	Simulate bool
	// Tick overrides the script tick when non-zero.
	Tick time.Duration
	// Speed overrides the script speed when non-zero.
	Speed float64
	// DeferUntilComplete is OR-ed with the script setting.
	DeferUntilComplete bool
	// SkipValidation installs batches without checking their ordering.
	SkipValidation bool

	Metrics *telemetry.Metrics
	Logger  zerolog.Logger

	// Attach is called with the scheduler before the first observation,
	// so callers can hook up relays or an HTTP feed.
	Attach func(*scheduler.Service)
}

// Run plays sc and returns its trace.
func Run(ctx context.Context, sc *script.Script, opts Options) (*Trace, error) {
	tick, err := sc.Settings.TickInterval()
	if err != nil {
		return nil, err
	}
	if opts.Tick > 0 {
		tick = opts.Tick
	}
	if tick == 0 {
		tick = DefaultTick
	}
	speed := sc.Settings.Speed
	if opts.Speed > 0 {
		speed = opts.Speed
	}

	schedOpts := scheduler.DefaultOptions()
	schedOpts.SpeedMultiplier = speed
	schedOpts.DeferUntilComplete = sc.Settings.DeferUntilComplete || opts.DeferUntilComplete
	schedOpts.ValidateBatches = !opts.SkipValidation
	schedOpts.InitialSnapshot = sc.InitialSnapshot
	schedOpts.Metrics = opts.Metrics
	schedOpts.Logger = opts.Logger

	r := &runner{
		script: sc,
		tick:   tick,
		logger: opts.Logger.With().Str("component", "replay").Str("script", sc.Name).Logger(),
		trace:  &Trace{Name: sc.Name, Events: []Event{}},
	}

	var mock *timeline.MockTimeProvider
	if opts.Simulate {
		mock = timeline.NewMockTimeProvider(time.Unix(0, 0).UTC())
		schedOpts.Clock = mock
		schedOpts.TickInterval = 0
	} else {
		schedOpts.TickInterval = tick
	}

	svc, err := scheduler.New(schedOpts)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	defer svc.Close()

	r.svc = svc
	r.record()
	if opts.Attach != nil {
		opts.Attach(svc)
	}

	r.logger.Info().
		Bool("simulate", opts.Simulate).
		Dur("tick", tick).
		Int("observations", len(sc.Observations)).
		Msg("replay starting")

	if opts.Simulate {
		err = r.simulate(ctx, mock)
	} else {
		err = r.realtime(ctx)
	}
	if err != nil {
		return r.trace, err
	}

	r.logger.Info().Int("events", len(r.trace.Events)).Msg("replay finished")
	return r.trace, nil
}

type runner struct {
	script *script.Script
	svc    *scheduler.Service
	tick   time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	now   func() time.Duration
	trace *Trace
}

func (r *runner) record() {
	for _, em := range []*events.Emitter{r.svc.Starts(), r.svc.Ends()} {
		kind := KindStart
		if em.Phase() == events.PhaseEnd {
			kind = KindEnd
		}
		em.Subscribe(events.Wildcard, func(env events.Envelope) {
			r.add(Event{
				Kind:    kind,
				Type:    env.Type,
				BatchID: env.BatchID,
				Payload: env.Payload,
				Elapsed: round(env.Elapsed),
				Flushed: env.Flushed,
			})
		})
	}
	r.svc.OnSnapshot(func(snapshot any) {
		r.add(Event{Kind: KindSnapshot, Snapshot: snapshot})
	})
}

func (r *runner) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now != nil {
		e.At = round(r.now().Seconds())
	}
	r.trace.Events = append(r.trace.Events, e)
}

func (r *runner) observe(ctx context.Context, step script.Step) {
	if err := r.svc.Observe(ctx, step.Observation()); err != nil {
		r.logger.Warn().Err(err).Str("batch_id", step.BatchID).Msg("observation rejected")
		r.add(Event{Kind: KindRejected, BatchID: step.BatchID, Error: err.Error()})
	}
}

func (r *runner) complete() {
	st := r.svc.Status()
	r.add(Event{Kind: KindComplete, BatchID: st.BatchID, Elapsed: round(st.Elapsed)})
}

// simulate steps the mock clock one tick at a time: due observations are
// applied first, then the timeline advances.
func (r *runner) simulate(ctx context.Context, mock *timeline.MockTimeProvider) error {
	start := mock.Now()
	var offset time.Duration
	r.mu.Lock()
	r.now = func() time.Duration { return offset }
	r.mu.Unlock()

	next := 0
	steps := r.script.Observations
	for i := 0; i < maxSimulatedSteps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		offset = time.Duration(i) * r.tick
		mock.Set(start.Add(offset))

		for next < len(steps) && steps[next].Offset() <= offset {
			r.observe(ctx, steps[next])
			next++
		}

		if r.svc.IsRunning() {
			r.svc.Advance()
			if !r.svc.IsRunning() {
				r.complete()
			}
		}

		if next == len(steps) && !r.svc.IsRunning() {
			return nil
		}
	}
	return fmt.Errorf("%w after %d steps", ErrNoProgress, maxSimulatedSteps)
}

// realtime waits for each observation offset on the wall clock and lets the
// scheduler's own driver pace the timeline.
func (r *runner) realtime(ctx context.Context) error {
	began := time.Now()
	r.mu.Lock()
	r.now = func() time.Duration { return time.Since(began) }
	r.mu.Unlock()

	wasRunning := false
	poll := time.NewTicker(r.tick)
	defer poll.Stop()

	next := 0
	steps := r.script.Observations
	for {
		running := r.svc.IsRunning()
		if wasRunning && !running {
			r.complete()
		}

		for next < len(steps) && time.Since(began) >= steps[next].Offset() {
			r.observe(ctx, steps[next])
			next++
		}
		wasRunning = r.svc.IsRunning()
		if next == len(steps) && !wasRunning {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
