/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"sync"

	"github.com/friendsincode/fxline/internal/effect"
)

// Store is the directly readable cell holding the current State. Writes go
// to the cell and then to the change hook, so the tick callback never has to
// re-subscribe to observe the latest queue.
type Store struct {
	mu       sync.RWMutex
	state    State
	onChange func(State)
}

// NewStore creates an empty store. onChange may be nil.
func NewStore(onChange func(State)) *Store {
	return &Store{onChange: onChange}
}

// Load returns the current state.
func (s *Store) Load() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PendingLen returns the number of effects not yet started.
func (s *Store) PendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Pending)
}

// ActiveLen returns the number of started effects that have not ended.
func (s *Store) ActiveLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Active)
}

// Install replaces the state with a fresh queue and no active effects.
func (s *Store) Install(pending []effect.Effect) {
	queued := make([]effect.Effect, len(pending))
	copy(queued, pending)
	s.publish(State{Pending: queued})
}

// Flush removes every active effect and returns a copy of them, leaving pending
// untouched.
func (s *Store) Flush() []effect.Effect {
	s.mu.RLock()
	current := s.state
	s.mu.RUnlock()
	if len(current.Active) == 0 {
		return nil
	}
	s.publish(State{Pending: current.Pending})
	return append([]effect.Effect(nil), current.Active...)
}

// Advance runs one tick against the stored state. The cell and hook are
// updated only when an effect started or ended.
func (s *Store) Advance(elapsed float64) Result {
	res := Advance(s.Load(), elapsed)
	if res.Changed {
		s.publish(res.State)
	}
	return res
}

func (s *Store) publish(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(state)
	}
}
