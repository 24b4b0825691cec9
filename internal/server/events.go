/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/friendsincode/fxline/internal/events"
	"github.com/friendsincode/fxline/internal/scheduler"
)

const (
	feedBuffer   = 64
	pingInterval = 15 * time.Second
)

// Feed message kinds.
const (
	KindStatus   = "status"
	KindStart    = "start"
	KindEnd      = "end"
	KindSnapshot = "snapshot"
	KindPing     = "ping"
)

// FeedMessage is one frame on the websocket feed.
type FeedMessage struct {
	Kind     string            `json:"kind"`
	Type     string            `json:"type,omitempty"`
	BatchID  string            `json:"batch_id,omitempty"`
	Payload  any               `json:"payload,omitempty"`
	Elapsed  float64           `json:"elapsed,omitempty"`
	Flushed  bool              `json:"flushed,omitempty"`
	Snapshot any               `json:"snapshot,omitempty"`
	Status   *scheduler.Status `json:"status,omitempty"`
}

// handleEvents streams start, end and snapshot notifications. The optional
// types query parameter limits effect notifications to a comma separated list
// of effect types. The first frame is always the current status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	// Reads are only needed to observe the peer closing.
	ctx := conn.CloseRead(r.Context())

	feed := make(chan FeedMessage, feedBuffer)
	push := func(msg FeedMessage) {
		select {
		case feed <- msg:
		default:
			s.logger.Debug().Str("kind", msg.Kind).Msg("websocket feed full, dropping")
		}
	}

	types := parseEffectTypes(r.URL.Query().Get("types"))
	unsubscribe := s.subscribe(types, push)
	defer unsubscribe()

	status := s.scheduler.Status()
	if err := writeFrame(ctx, conn, FeedMessage{Kind: KindStatus, Status: &status}); err != nil {
		s.logger.Debug().Err(err).Msg("websocket status write failed")
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := writeFrame(ctx, conn, FeedMessage{Kind: KindPing}); err != nil {
				s.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case msg := <-feed:
			if err := writeFrame(ctx, conn, msg); err != nil {
				s.logger.Error().Err(err).Msg("websocket write failed")
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (s *Server) subscribe(types []string, push func(FeedMessage)) func() {
	if len(types) == 0 {
		types = []string{events.Wildcard}
	}

	var cancels []func()
	for _, em := range []*events.Emitter{s.scheduler.Starts(), s.scheduler.Ends()} {
		kind := KindStart
		if em.Phase() == events.PhaseEnd {
			kind = KindEnd
		}
		for _, t := range types {
			sub := em.Subscribe(t, func(env events.Envelope) {
				push(FeedMessage{
					Kind:    kind,
					Type:    env.Type,
					BatchID: env.BatchID,
					Payload: env.Payload,
					Elapsed: env.Elapsed,
					Flushed: env.Flushed,
				})
			})
			cancels = append(cancels, func() { em.Unsubscribe(sub) })
		}
	}
	cancels = append(cancels, s.scheduler.OnSnapshot(func(snapshot any) {
		push(FeedMessage{Kind: KindSnapshot, Snapshot: snapshot})
	}))

	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseEffectTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
