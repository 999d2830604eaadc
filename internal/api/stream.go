package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tycoon/internal/store"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 45 * time.Second
)

// streamEvent is one frame sent to stream clients.
type streamEvent struct {
	Topic string `json:"topic"`
	store.Change
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// handleStream upgrades to a WebSocket and relays store changes for one
// topic until either side goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	changes, err := s.game.Watch(ctx, user.UserID, topic)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", "account_id", user.UserID, "err", err)
		return
	}
	defer conn.Close()
	s.log.Info("stream opened", "account_id", user.UserID, "topic", topic)

	// The read loop only exists to notice the client closing.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(streamEvent{Topic: topic, Change: c}); err != nil {
				s.log.Debug("stream write failed", "account_id", user.UserID, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
