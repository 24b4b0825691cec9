/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package effect defines the timed effect descriptors produced by the host
// engine and the batch that carries them.
package effect

import (
	"errors"
	"fmt"
)

// ErrMalformedBatch indicates a batch that cannot be scheduled correctly.
var ErrMalformedBatch = errors.New("malformed batch")

// Effect is one timed occurrence on a batch timeline. T and EndT are
// timeline seconds relative to the batch start.
type Effect struct {
	Type    string  `json:"type" yaml:"type"`
	Payload any     `json:"payload,omitempty" yaml:"payload,omitempty"`
	T       float64 `json:"t" yaml:"t"`
	EndT    float64 `json:"endT" yaml:"endT"`
}

// Batch is the ordered effect queue emitted for one host state transition.
// Queue must be sorted ascending by T and every EndT must lie within Duration.
type Batch struct {
	ID       string   `json:"id" yaml:"id"`
	Queue    []Effect `json:"queue" yaml:"queue"`
	Duration float64  `json:"duration" yaml:"duration"`
}

// Validate checks the ordering and timing preconditions the scheduler relies on.
func (b Batch) Validate() error {
	if b.Duration < 0 {
		return fmt.Errorf("%w: batch %q has negative duration %v", ErrMalformedBatch, b.ID, b.Duration)
	}
	for i, e := range b.Queue {
		if e.T < 0 {
			return fmt.Errorf("%w: batch %q effect %d (%s) starts before zero", ErrMalformedBatch, b.ID, i, e.Type)
		}
		if e.EndT < e.T {
			return fmt.Errorf("%w: batch %q effect %d (%s) ends at %v before it starts at %v", ErrMalformedBatch, b.ID, i, e.Type, e.EndT, e.T)
		}
		if i > 0 && e.T < b.Queue[i-1].T {
			return fmt.Errorf("%w: batch %q effect %d (%s) is out of order", ErrMalformedBatch, b.ID, i, e.Type)
		}
		if e.EndT > b.Duration {
			return fmt.Errorf("%w: batch %q effect %d (%s) ends at %v after batch duration %v", ErrMalformedBatch, b.ID, i, e.Type, e.EndT, b.Duration)
		}
	}
	return nil
}

// Types returns the distinct effect types in queue order.
func (b Batch) Types() []string {
	seen := make(map[string]bool, len(b.Queue))
	types := make([]string, 0, len(b.Queue))
	for _, e := range b.Queue {
		if seen[e.Type] {
			continue
		}
		seen[e.Type] = true
		types = append(types, e.Type)
	}
	return types
}
