/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/fxline/internal/effect"
)

func TestLoad(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "two_effects.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "two_effects", sc.Name)
	assert.Equal(t, "s0", sc.InitialSnapshot)
	require.Len(t, sc.Observations, 1)

	tick, err := sc.Settings.TickInterval()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, tick)

	obs := sc.Observations[0].Observation()
	assert.True(t, obs.EffectsEnabled)
	assert.Equal(t, "b1", obs.BatchID)
	assert.Equal(t, 1.5, obs.Duration)
	assert.Equal(t, "s1", obs.Snapshot)
	assert.Equal(t, []effect.Effect{
		{Type: "dmg", Payload: "first", T: 0, EndT: 1},
		{Type: "dmg", Payload: "second", T: 0.5, EndT: 1.5},
	}, obs.Queue)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseAssignsBatchID(t *testing.T) {
	sc, err := Parse([]byte(`
name: anon
observations:
  - at: 0
    duration: 1
    queue:
      - {type: flash, t: 0, endT: 1}
  - at: 2
    snapshot: later
`))
	require.NoError(t, err)
	assert.NotEmpty(t, sc.Observations[0].BatchID)
	assert.Empty(t, sc.Observations[1].BatchID)
}

func TestParseEffectsDisabled(t *testing.T) {
	sc, err := Parse([]byte(`
name: disabled
observations:
  - at: 0
    effects_enabled: false
    batch_id: b1
    duration: 1
`))
	require.NoError(t, err)
	assert.False(t, sc.Observations[0].Observation().EffectsEnabled)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "name: x\nobservation: []\n"},
		{"missing name", "observations:\n  - at: 0\n"},
		{"no observations", "name: x\n"},
		{"negative speed", "name: x\nsettings: {speed: -1}\nobservations:\n  - at: 0\n"},
		{"bad tick", "name: x\nsettings: {tick: soon}\nobservations:\n  - at: 0\n"},
		{"zero tick", "name: x\nsettings: {tick: 0s}\nobservations:\n  - at: 0\n"},
		{"out of order", "name: x\nobservations:\n  - at: 2\n  - at: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}
}

func TestParseLeavesBatchChecksToValidateBatches(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"effect ends early", "name: x\nobservations:\n  - at: 0\n    batch_id: b\n    duration: 1\n    queue:\n      - {type: a, t: 1, endT: 0.5}\n"},
		{"unsorted queue", "name: x\nobservations:\n  - at: 0\n    batch_id: b\n    duration: 2\n    queue:\n      - {type: a, t: 1, endT: 2}\n      - {type: b, t: 0, endT: 1}\n"},
		{"ends after duration", "name: x\nobservations:\n  - at: 0\n    batch_id: b\n    duration: 1\n    queue:\n      - {type: a, t: 0, endT: 1}\n      - {type: late, t: 3, endT: 4}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			err = sc.ValidateBatches()
			assert.ErrorIs(t, err, ErrInvalidScript)
			assert.ErrorIs(t, err, effect.ErrMalformedBatch)
		})
	}
}

func TestParseDefaultsDurationToLastEnd(t *testing.T) {
	sc, err := Parse([]byte(`
name: implicit
observations:
  - at: 0
    batch_id: b1
    queue:
      - {type: a, t: 0, endT: 1}
      - {type: b, t: 0.5, endT: 1.5}
  - at: 2
    snapshot: later
`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, sc.Observations[0].Duration)
	assert.Zero(t, sc.Observations[1].Duration)
	require.NoError(t, sc.ValidateBatches())
}

func TestValidateBatchesWrapsMalformedBatch(t *testing.T) {
	sc := &Script{
		Name: "direct",
		Observations: []Step{{
			BatchID:  "b",
			Duration: -1,
		}},
	}
	require.NoError(t, sc.Validate())
	err := sc.ValidateBatches()
	assert.ErrorIs(t, err, ErrInvalidScript)
	assert.ErrorIs(t, err, effect.ErrMalformedBatch)
}

func TestEnd(t *testing.T) {
	sc := &Script{Observations: []Step{{At: 0}, {At: 0.6}, {At: 2.5}}}
	assert.Equal(t, 2500*time.Millisecond, sc.End())
	assert.Equal(t, 600*time.Millisecond, sc.Observations[1].Offset())
	assert.Equal(t, time.Duration(0), (&Script{}).End())
}
