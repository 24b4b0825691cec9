/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/friendsincode/fxline/internal/effect"
	"github.com/friendsincode/fxline/internal/logbuffer"
	"github.com/friendsincode/fxline/internal/scheduler"
	"github.com/friendsincode/fxline/internal/telemetry"
	"github.com/friendsincode/fxline/internal/timeline"
)

func newTestServer(t *testing.T) (*Server, *scheduler.Service, *httptest.Server) {
	t.Helper()
	return newTestServerWithLogs(t, nil)
}

func newTestServerWithLogs(t *testing.T, logs *logbuffer.Buffer) (*Server, *scheduler.Service, *httptest.Server) {
	t.Helper()
	opts := scheduler.DefaultOptions()
	opts.TickInterval = 0
	opts.Clock = timeline.NewMockTimeProvider(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts.Metrics = telemetry.NewMetrics()
	opts.InitialSnapshot = "s0"
	svc, err := scheduler.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	srv := New("127.0.0.1:0", svc, opts.Metrics, logs, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, svc, ts
}

func flashBatch(id string) scheduler.Observation {
	return scheduler.Observation{
		EffectsEnabled: true,
		BatchID:        id,
		Queue:          []effect.Effect{{Type: "flash", T: 0, EndT: 1}},
		Duration:       1,
		Snapshot:       "s1",
	}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealthz(t *testing.T) {
	_, _, ts := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestStatusReflectsLoadedBatch(t *testing.T) {
	_, svc, ts := newTestServer(t)

	var idle scheduler.Status
	getJSON(t, ts.URL+"/status", &idle)
	assert.Equal(t, scheduler.StateIdle, idle.State)
	assert.Empty(t, idle.BatchID)

	require.NoError(t, svc.Observe(context.Background(), flashBatch("b1")))

	var playing scheduler.Status
	getJSON(t, ts.URL+"/status", &playing)
	assert.Equal(t, scheduler.StatePlaying, playing.State)
	assert.Equal(t, "b1", playing.BatchID)
	assert.Equal(t, 1, playing.Pending)
	assert.Equal(t, 1.0, playing.Duration)
	assert.True(t, playing.Running)
}

func TestSnapshotEndpoint(t *testing.T) {
	_, svc, ts := newTestServer(t)

	var body map[string]any
	getJSON(t, ts.URL+"/snapshot", &body)
	assert.Equal(t, "s0", body["snapshot"])

	require.NoError(t, svc.Observe(context.Background(), scheduler.Observation{Snapshot: "s2"}))
	getJSON(t, ts.URL+"/snapshot", &body)
	assert.Equal(t, "s2", body["snapshot"])
	assert.Equal(t, false, body["snapshot_withheld"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, svc, ts := newTestServer(t)
	require.NoError(t, svc.Observe(context.Background(), flashBatch("b1")))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "fxline_batch_swaps_total 1")
}

func TestLogsEndpoint(t *testing.T) {
	logs := logbuffer.New(10)
	logs.Add(logbuffer.LogEntry{Level: "info", Component: "scheduler", Message: "batch installed", Fields: map[string]any{"batch_id": "b1"}})
	logs.Add(logbuffer.LogEntry{Level: "warn", Component: "scheduler", Message: "batch rejected", Fields: map[string]any{"batch_id": "b2"}})
	logs.Add(logbuffer.LogEntry{Level: "info", Component: "http", Message: "HTTP server listening"})
	_, _, ts := newTestServerWithLogs(t, logs)

	var body struct {
		Entries []logbuffer.LogEntry `json:"entries"`
		Total   int                  `json:"total"`
	}
	getJSON(t, ts.URL+"/logs?component=scheduler&limit=1", &body)
	assert.Equal(t, 3, body.Total)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "batch rejected", body.Entries[0].Message)

	getJSON(t, ts.URL+"/logs?batch_id=b1", &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "batch installed", body.Entries[0].Message)

	resp, err := http.Get(ts.URL + "/logs?limit=lots")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogsNotMountedWithoutBuffer(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialFeed(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg FeedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventsFeed(t *testing.T) {
	_, svc, ts := newTestServer(t)
	conn := dialFeed(t, ts, "")

	hello := readFrame(t, conn)
	require.Equal(t, KindStatus, hello.Kind)
	require.NotNil(t, hello.Status)
	assert.Equal(t, scheduler.StateIdle, hello.Status.State)

	require.NoError(t, svc.Observe(context.Background(), flashBatch("b1")))
	require.True(t, svc.Advance())

	snap := readFrame(t, conn)
	assert.Equal(t, KindSnapshot, snap.Kind)
	assert.Equal(t, "s1", snap.Snapshot)

	start := readFrame(t, conn)
	assert.Equal(t, KindStart, start.Kind)
	assert.Equal(t, "flash", start.Type)
	assert.Equal(t, "b1", start.BatchID)

	// A new batch flushes the active effect.
	next := flashBatch("b2")
	next.Snapshot = "s3"
	require.NoError(t, svc.Observe(context.Background(), next))

	snap = readFrame(t, conn)
	assert.Equal(t, KindSnapshot, snap.Kind)
	assert.Equal(t, "s3", snap.Snapshot)

	end := readFrame(t, conn)
	assert.Equal(t, KindEnd, end.Kind)
	assert.Equal(t, "flash", end.Type)
	assert.Equal(t, "b1", end.BatchID)
	assert.True(t, end.Flushed)
}

func TestEventsFeedFiltersTypes(t *testing.T) {
	_, svc, ts := newTestServer(t)
	conn := dialFeed(t, ts, "?types=shake")

	require.Equal(t, KindStatus, readFrame(t, conn).Kind)

	require.NoError(t, svc.Observe(context.Background(), flashBatch("b1")))
	require.True(t, svc.Advance())
	require.NoError(t, svc.Observe(context.Background(), scheduler.Observation{Snapshot: "s9"}))

	assert.Equal(t, "s1", readFrame(t, conn).Snapshot)
	// The flash start is filtered out, so the next frame is the snapshot.
	next := readFrame(t, conn)
	assert.Equal(t, KindSnapshot, next.Kind)
	assert.Equal(t, "s9", next.Snapshot)
}

func TestParseEffectTypes(t *testing.T) {
	assert.Nil(t, parseEffectTypes(""))
	assert.Equal(t, []string{"flash", "shake"}, parseEffectTypes(" flash, ,shake "))
}
