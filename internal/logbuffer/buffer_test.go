/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWrapsOldest(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "d", entries[2].Message)
	assert.Equal(t, 3, b.Len())
}

func TestBufferEmpty(t *testing.T) {
	b := New(0)
	assert.Empty(t, b.Entries())
	assert.Empty(t, b.Query(QueryParams{}))
}

func TestQuery(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Component: "scheduler", Message: "batch installed", Fields: map[string]any{"batch_id": "b1"}})
	b.Add(LogEntry{Level: "warn", Component: "scheduler", Message: "batch rejected", Fields: map[string]any{"batch_id": "b2"}})
	b.Add(LogEntry{Level: "info", Component: "relay", Message: "relay enabled"})
	b.Add(LogEntry{Level: "info", Component: "scheduler", Message: "Batch timeline complete", Fields: map[string]any{"batch_id": "b1"}})

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"all", QueryParams{}, []string{"batch installed", "batch rejected", "relay enabled", "Batch timeline complete"}},
		{"level", QueryParams{Level: "warn"}, []string{"batch rejected"}},
		{"component", QueryParams{Component: "relay"}, []string{"relay enabled"}},
		{"batch", QueryParams{BatchID: "b1"}, []string{"batch installed", "Batch timeline complete"}},
		{"search ignores case", QueryParams{Search: "BATCH"}, []string{"batch installed", "batch rejected", "Batch timeline complete"}},
		{"newest first with limit", QueryParams{Descending: true, Limit: 2}, []string{"Batch timeline complete", "relay enabled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, e := range b.Query(tt.params) {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriterParsesZerologJSON(t *testing.T) {
	b := New(4)
	var fallback bytes.Buffer
	w := NewWriter(b, &fallback)

	line := []byte(`{"level":"warn","component":"scheduler","batch_id":"b2","time":1767268800,"message":"batch rejected"}` + "\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)
	assert.Equal(t, string(line), fallback.String())

	entries := b.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "warn", e.Level)
	assert.Equal(t, "batch rejected", e.Message)
	assert.Equal(t, "scheduler", e.Component)
	assert.Equal(t, time.Unix(1767268800, 0), e.Timestamp)
	assert.Equal(t, map[string]any{"batch_id": "b2"}, e.Fields)
}

func TestWriterSkipsNonJSON(t *testing.T) {
	b := New(4)
	n, err := NewWriter(b, nil).Write([]byte("plain text\n"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Zero(t, b.Len())
}
