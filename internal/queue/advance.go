/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the pending and active partitions of a batch and
// advances them along the timeline.
package queue

import "github.com/friendsincode/fxline/internal/effect"

// State partitions a batch's effects. Pending stays sorted by T; Active has
// no required order. Ended effects are in neither.
type State struct {
	Pending []effect.Effect
	Active  []effect.Effect
}

// Result is the outcome of one Advance.
type Result struct {
	State   State
	Ended   []effect.Effect
	Started []effect.Effect
	Changed bool
}

// Advance moves effects along the timeline at elapsed seconds. Active effects
// with EndT <= elapsed end; pending effects with T <= elapsed start and join
// Active. An effect that starts in this pass can only end in a later pass.
// Pending must be sorted by T: the scan stops at the first future effect.
func Advance(s State, elapsed float64) Result {
	var res Result

	active := make([]effect.Effect, 0, len(s.Active))
	for _, e := range s.Active {
		if e.EndT <= elapsed {
			res.Ended = append(res.Ended, e)
			continue
		}
		active = append(active, e)
	}

	i := 0
	for ; i < len(s.Pending); i++ {
		e := s.Pending[i]
		if e.T > elapsed {
			break
		}
		res.Started = append(res.Started, e)
		active = append(active, e)
	}

	res.Changed = len(res.Ended) > 0 || len(res.Started) > 0
	if !res.Changed {
		res.State = s
		return res
	}
	res.State = State{Pending: s.Pending[i:], Active: active}
	return res
}
