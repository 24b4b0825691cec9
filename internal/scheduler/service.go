/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler replays batches of timed effects against a wall-clock
// timeline and gates when the host's latest snapshot becomes visible.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fxline/internal/effect"
	"github.com/friendsincode/fxline/internal/events"
	"github.com/friendsincode/fxline/internal/gate"
	"github.com/friendsincode/fxline/internal/queue"
	"github.com/friendsincode/fxline/internal/telemetry"
	"github.com/friendsincode/fxline/internal/ticker"
	"github.com/friendsincode/fxline/internal/timeline"
)

var (
	// ErrInvalidSpeed indicates a negative speed multiplier.
	ErrInvalidSpeed = errors.New("speed multiplier must be positive")

	// ErrInvalidTickInterval indicates a negative tick interval.
	ErrInvalidTickInterval = errors.New("tick interval must not be negative")
)

// State is the batch controller state.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
)

// Options are fixed for the lifetime of a Service.
type Options struct {
	// SpeedMultiplier scales wall time into timeline time. Zero means 1.
	SpeedMultiplier float64
	// DeferUntilComplete withholds new snapshots until a batch finishes.
	DeferUntilComplete bool
	// TickInterval paces the driver. Zero leaves pacing to the host, which
	// calls Advance from its own frame callback.
	TickInterval time.Duration
	// ValidateBatches rejects malformed batches instead of installing them.
	ValidateBatches bool
	// InitialSnapshot is exposed until the host reports another one.
	InitialSnapshot any

	Clock   timeline.TimeProvider
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// DefaultOptions returns a frame-paced configuration.
func DefaultOptions() Options {
	return Options{
		SpeedMultiplier: 1,
		TickInterval:    16 * time.Millisecond,
		ValidateBatches: true,
		Logger:          zerolog.Nop(),
	}
}

// Observation is one host state report.
type Observation struct {
	EffectsEnabled bool
	BatchID        string
	Queue          []effect.Effect
	Duration       float64
	Snapshot       any
}

// Status summarizes the scheduler for diagnostics.
type Status struct {
	State    State   `json:"state"`
	BatchID  string  `json:"batch_id,omitempty"`
	Elapsed  float64 `json:"elapsed"`
	Duration float64 `json:"duration"`
	Pending  int     `json:"pending"`
	Active   int     `json:"active"`
	GateOpen bool    `json:"gate_open"`
	Withheld bool    `json:"snapshot_withheld"`
	Running  bool    `json:"running"`
}

// Service owns one batch timeline: its queue, clock, driver, emitters and gate.
type Service struct {
	opts    Options
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	clock  *timeline.Clock
	store  *queue.Store
	driver *ticker.Driver
	gate   *gate.Gate
	starts *events.Emitter
	ends   *events.Emitter

	// mu serializes batch swaps and ticks; emission happens while it is held.
	mu sync.Mutex

	metaMu   sync.RWMutex
	batchID  string
	duration float64
	latest   any
}

// New creates an idle scheduler.
func New(opts Options) (*Service, error) {
	if opts.SpeedMultiplier < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, opts.SpeedMultiplier)
	}
	if opts.SpeedMultiplier == 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.TickInterval < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTickInterval, opts.TickInterval)
	}
	if opts.Clock == nil {
		opts.Clock = timeline.SystemTime{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics()
	}

	s := &Service{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "scheduler").Logger(),
		metrics: opts.Metrics,
		clock:   timeline.NewClock(opts.Clock, opts.SpeedMultiplier),
		gate:    gate.New(opts.DeferUntilComplete, opts.InitialSnapshot),
		starts:  events.NewEmitter(events.PhaseStart),
		ends:    events.NewEmitter(events.PhaseEnd),
		latest:  opts.InitialSnapshot,
	}
	s.store = queue.NewStore(func(st queue.State) {
		s.metrics.SetQueue(len(st.Pending), len(st.Active))
	})
	s.driver = ticker.New(opts.TickInterval, opts.Clock, s.tick, opts.Logger)
	return s, nil
}

// Starts returns the emitter for effect start notifications.
func (s *Service) Starts() *events.Emitter {
	return s.starts
}

// Ends returns the emitter for effect end notifications.
func (s *Service) Ends() *events.Emitter {
	return s.ends
}

// Snapshot returns the snapshot currently exposed to the presentation layer.
func (s *Service) Snapshot() any {
	return s.gate.Exposed()
}

// OnSnapshot calls fn whenever the exposed snapshot changes. The returned func
// removes the watcher.
func (s *Service) OnSnapshot(fn func(any)) func() {
	return s.gate.Watch(fn)
}

// PendingLen returns the number of effects waiting to start.
func (s *Service) PendingLen() int {
	return s.store.PendingLen()
}

// IsRunning reports whether the tick driver is running.
func (s *Service) IsRunning() bool {
	return s.driver.IsRunning()
}

// State reports whether a batch is being played.
func (s *Service) State() State {
	batchID, _ := s.batch()
	if batchID != "" && s.driver.IsRunning() {
		return StatePlaying
	}
	return StateIdle
}

// Status returns a diagnostic summary. It is safe to call from handlers.
func (s *Service) Status() Status {
	batchID, duration := s.batch()
	st := Status{
		State:    s.State(),
		BatchID:  batchID,
		Duration: duration,
		Pending:  s.store.PendingLen(),
		Active:   s.store.ActiveLen(),
		GateOpen: s.gate.IsOpen(),
		Withheld: s.gate.Pending(),
		Running:  s.driver.IsRunning(),
	}
	if batchID != "" {
		st.Elapsed = s.clock.Elapsed()
	}
	return st
}

// Observe handles a host state report. A batch id different from the loaded
// one swaps batches: active effects of the old batch end immediately, the
// new queue is installed, the clock resets and the driver starts. Anything
// else is a plain snapshot change. Handlers run synchronously and must not
// call Observe or Advance.
func (s *Service) Observe(ctx context.Context, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLatest(obs.Snapshot)
	s.gate.Offer(obs.Snapshot)

	current, _ := s.batch()
	if !obs.EffectsEnabled || obs.BatchID == "" || obs.BatchID == current {
		s.gate.Settle(s.driver.IsRunning())
		return nil
	}

	batch := effect.Batch{ID: obs.BatchID, Queue: obs.Queue, Duration: obs.Duration}
	if s.opts.ValidateBatches {
		if err := batch.Validate(); err != nil {
			s.metrics.BatchesRejected.Inc()
			s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("batch rejected")
			s.gate.Settle(s.driver.IsRunning())
			return fmt.Errorf("observe batch: %w", err)
		}
	}

	s.swap(ctx, batch, obs.Snapshot)
	return nil
}

// Advance runs one tick at the current time. It is how externally paced
// hosts drive the timeline and reports false when the driver is stopped.
func (s *Service) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.driver.IsRunning() {
		return false
	}
	s.step(s.clock.Now())
	return true
}

// Close stops the driver and waits for its loop to exit.
func (s *Service) Close() error {
	s.driver.Stop()
	s.driver.Wait()
	s.metrics.SetRunning(false)
	return nil
}

func (s *Service) swap(ctx context.Context, batch effect.Batch, snapshot any) {
	ctx, span := telemetry.StartBatchSpan(ctx, batch.ID, len(batch.Queue), batch.Duration)
	defer span.End()

	prevID, _ := s.batch()
	elapsed := s.clock.Elapsed()
	flushed := s.store.Flush()
	for _, e := range flushed {
		s.ends.Publish(e.Type, events.Envelope{
			Payload:  e.Payload,
			Snapshot: snapshot,
			BatchID:  prevID,
			Elapsed:  elapsed,
			Flushed:  true,
		})
		s.metrics.EffectsEnded.WithLabelValues(e.Type, telemetry.ReasonFlushed).Inc()
	}

	s.store.Install(batch.Queue)
	s.setBatch(batch.ID, batch.Duration)
	s.clock.Reset()
	s.gate.Arm(batch.Duration)
	started := s.driver.Start(context.WithoutCancel(ctx))

	s.metrics.BatchSwaps.Inc()
	s.metrics.SetRunning(true)
	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("previous_batch_id", prevID).
		Int("effects", len(batch.Queue)).
		Strs("types", batch.Types()).
		Float64("duration", batch.Duration).
		Int("flushed", len(flushed)).
		Bool("driver_started", started).
		Msg("batch installed")
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || !s.driver.IsRunning() {
		return
	}
	s.step(now)
}

// step advances the queue to now. Ends are published before starts.
func (s *Service) step(now time.Time) {
	began := time.Now()
	defer func() {
		s.metrics.Ticks.Inc()
		s.metrics.TickDuration.Observe(time.Since(began).Seconds())
	}()

	elapsed := s.clock.ElapsedAt(now)
	batchID, duration := s.batch()
	snapshot := s.latestSnapshot()

	res := s.store.Advance(elapsed)
	for _, e := range res.Ended {
		s.ends.Publish(e.Type, events.Envelope{Payload: e.Payload, Snapshot: snapshot, BatchID: batchID, Elapsed: elapsed})
		s.metrics.EffectsEnded.WithLabelValues(e.Type, telemetry.ReasonElapsed).Inc()
		s.logger.Debug().Str("type", e.Type).Float64("elapsed", elapsed).Msg("effect ended")
	}
	for _, e := range res.Started {
		s.starts.Publish(e.Type, events.Envelope{Payload: e.Payload, Snapshot: snapshot, BatchID: batchID, Elapsed: elapsed})
		s.metrics.EffectsStarted.WithLabelValues(e.Type).Inc()
		s.logger.Debug().Str("type", e.Type).Float64("elapsed", elapsed).Msg("effect started")
	}

	s.gate.Tick(elapsed)

	if elapsed > duration {
		s.driver.Stop()
		s.metrics.SetRunning(false)
		s.logger.Info().
			Str("batch_id", batchID).
			Float64("elapsed", elapsed).
			Int("active", s.store.ActiveLen()).
			Msg("batch timeline complete")
	}
}

func (s *Service) batch() (string, float64) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.batchID, s.duration
}

func (s *Service) setBatch(id string, duration float64) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.batchID = id
	s.duration = duration
}

func (s *Service) latestSnapshot() any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.latest
}

func (s *Service) setLatest(snapshot any) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.latest = snapshot
}
