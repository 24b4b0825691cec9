/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package script loads replay scripts: a timed sequence of host observations
// that can be fed to the scheduler without a live host engine.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/fxline/internal/effect"
	"github.com/friendsincode/fxline/internal/scheduler"
)

// ErrInvalidScript indicates a script that cannot be replayed.
var ErrInvalidScript = errors.New("invalid script")

// Script is a named sequence of observations.
type Script struct {
	// Name identifies the script in traces and logs.
	Name string `yaml:"name"`

	// Description explains what the script exercises.
	Description string `yaml:"description,omitempty"`

	// Settings override scheduler options for this script.
	Settings Settings `yaml:"settings,omitempty"`

	// InitialSnapshot is exposed before the first observation.
	InitialSnapshot any `yaml:"initial_snapshot,omitempty"`

	// Observations are applied in order at their At offsets.
	Observations []Step `yaml:"observations"`
}

// Settings are per-script scheduler options. Zero values defer to the caller.
type Settings struct {
	Speed              float64 `yaml:"speed,omitempty"`
	DeferUntilComplete bool    `yaml:"defer_until_complete,omitempty"`
	// Tick is a Go duration string such as "16ms".
	Tick string `yaml:"tick,omitempty"`
}

// TickInterval parses Tick. An empty Tick returns zero.
func (s Settings) TickInterval() (time.Duration, error) {
	if s.Tick == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Tick)
	if err != nil {
		return 0, fmt.Errorf("%w: tick %q: %v", ErrInvalidScript, s.Tick, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: tick must be positive, got %s", ErrInvalidScript, d)
	}
	return d, nil
}

// Step is one host observation.
type Step struct {
	// At is the wall-clock offset in seconds from the start of the replay.
	At float64 `yaml:"at"`

	// EffectsEnabled defaults to true when omitted.
	EffectsEnabled *bool `yaml:"effects_enabled,omitempty"`

	BatchID  string          `yaml:"batch_id,omitempty"`
	Duration float64         `yaml:"duration,omitempty"`
	Queue    []effect.Effect `yaml:"queue,omitempty"`
	Snapshot any             `yaml:"snapshot,omitempty"`
}

// Offset returns At as a duration.
func (s Step) Offset() time.Duration {
	return time.Duration(math.Round(s.At * float64(time.Second)))
}

// Observation converts the step into a scheduler observation.
func (s Step) Observation() scheduler.Observation {
	enabled := true
	if s.EffectsEnabled != nil {
		enabled = *s.EffectsEnabled
	}
	return scheduler.Observation{
		EffectsEnabled: enabled,
		BatchID:        s.BatchID,
		Queue:          s.Queue,
		Duration:       s.Duration,
		Snapshot:       s.Snapshot,
	}
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes a script, rejecting unknown fields, assigns ids to batches
// that have a queue but no id, defaults an omitted duration to the last
// effect end and validates the structure. Batch contents are checked by
// ValidateBatches.
func Parse(data []byte) (*Script, error) {
	var sc Script
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidScript, err)
	}

	for i := range sc.Observations {
		step := &sc.Observations[i]
		if step.BatchID == "" && len(step.Queue) > 0 {
			step.BatchID = uuid.NewString()
		}
		if step.Duration == 0 {
			for _, e := range step.Queue {
				step.Duration = math.Max(step.Duration, e.EndT)
			}
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the script's structure: name, settings and observation
// order.
func (sc *Script) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScript)
	}
	if len(sc.Observations) == 0 {
		return fmt.Errorf("%w: observations list is required and must be non-empty", ErrInvalidScript)
	}
	if sc.Settings.Speed < 0 {
		return fmt.Errorf("%w: speed must not be negative", ErrInvalidScript)
	}
	if _, err := sc.Settings.TickInterval(); err != nil {
		return err
	}

	prev := 0.0
	for i, step := range sc.Observations {
		if step.At < prev {
			return fmt.Errorf("%w: observations[%d]: at %v is before %v", ErrInvalidScript, i, step.At, prev)
		}
		prev = step.At

		if len(step.Queue) > 0 && step.BatchID == "" {
			return fmt.Errorf("%w: observations[%d]: queue without batch_id", ErrInvalidScript, i)
		}
	}
	return nil
}

// ValidateBatches checks every batch against the scheduler's preconditions.
// Replays leave this to the scheduler so that batch validation can be
// switched off.
func (sc *Script) ValidateBatches() error {
	for i, step := range sc.Observations {
		batch := effect.Batch{ID: step.BatchID, Queue: step.Queue, Duration: step.Duration}
		if err := batch.Validate(); err != nil {
			return fmt.Errorf("%w: observations[%d]: %w", ErrInvalidScript, i, err)
		}
	}
	return nil
}

// End returns the offset of the last observation.
func (sc *Script) End() time.Duration {
	if len(sc.Observations) == 0 {
		return 0
	}
	return sc.Observations[len(sc.Observations)-1].Offset()
}
