package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
	"github.com/smartmob-project/smartmob-agent/internal/loghub"
)

// pingInterval keeps the WebSocket connection alive across idle periods
// (no output from the child) so intermediate proxies don't reap it.
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The agent is a same-host operator tool, not a public browser
	// endpoint; spec.md's non-goals exclude auth/authz entirely, so
	// origin checking is intentionally permissive here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAttach upgrades to a WebSocket and streams slug's log hub as one
// text frame per line, replaying the tail buffer first (spec.md §4.3,
// Open Question 2 in SPEC_FULL.md).
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	// Confirm the process exists before upgrading, so a bad slug gets a
	// plain 404 instead of an upgraded-then-immediately-closed socket.
	if _, err := s.reg.Get(slug); err != nil {
		s.writeRegistryError(w, err, http.StatusNotFound)
		return
	}

	var sub *loghub.Subscriber
	var err error
	if since := r.URL.Query().Get("since"); since != "" {
		sinceID, parseErr := strconv.ParseInt(since, 10, 64)
		if parseErr != nil {
			s.writeRegistryError(w, apierr.New(apierr.KindInvalidRequest, "since must be an integer line ID"), http.StatusBadRequest)
			return
		}
		sub, err = s.reg.SubscribeFrom(slug, sinceID)
	} else {
		sub, err = s.reg.Subscribe(slug, true)
	}
	if err != nil {
		s.writeRegistryError(w, err, http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "slug", slug, "error", err)
		sub.Close()
		return
	}
	defer conn.Close()
	defer sub.Close()

	// Discard inbound frames; this endpoint is output-only. Reading keeps
	// the connection's control-frame (ping/pong/close) handling alive.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-sub.Recv():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			if err := writeLine(conn, line); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// writeLine sends line as a single text frame, literally (spec.md §6/§8:
// "each text frame is one line", no channel prefix).
func writeLine(conn *websocket.Conn, line loghub.Line) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(line.Text))
}
