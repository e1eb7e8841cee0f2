// internal/httpserver/routes_stream.go
//
// GET /game/{id}/ws streams every snapshot of a session over a websocket.
// The client may also drive the session over the same socket by sending
// {"type":"flip","index":n}, {"type":"hint"}, {"type":"extra_time"} or
// {"type":"dismiss"}; results arrive through the stream like any other change.

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// streamMessage is sent to the client for every snapshot.
type streamMessage struct {
	Type  string    `json:"type"`
	State stateView `json:"state"`
}

// streamCommand is read from the client.
type streamCommand struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	origin := s.Config.ClientOrigin
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == origin || !s.Config.Production
		},
	}
}

// handleStream upgrades the connection and pumps snapshots until either
// side goes away or the session closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if s.streamOwner(r) != entry.Owner {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe, err := entry.Session.Subscribe(ctx)
	if err != nil {
		writeError(w, http.StatusGone, "session_closed")
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	go s.readCommands(ctx, cancel, conn, entry.Session)
	writeSnapshots(ctx, conn, updates)
}

// streamOwner resolves the player key without setting cookies: the
// upgrade response cannot carry them.
func (s *Server) streamOwner(r *http.Request) string {
	if me := currentUser(r); me != nil {
		return "user:" + me.ID
	}
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return "anon:" + c.Value
	}
	return ""
}

// readCommands applies client commands and cancels the stream when the
// connection drops.
func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, g *game.Session) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd streamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session", g.ID()).Msg("websocket read")
			}
			return
		}
		var err error
		switch cmd.Type {
		case "flip":
			_, err = g.Flip(ctx, cmd.Index)
		case "hint":
			_, err = g.Hint(ctx)
		case "extra_time":
			_, err = g.AddExtraTime(ctx)
		case "dismiss":
			_, err = g.Dismiss(ctx)
		default:
			log.Debug().Str("type", cmd.Type).Msg("unknown websocket command")
		}
		if err != nil {
			return
		}
	}
}

// writeSnapshots forwards updates and keeps the connection alive with pings.
func writeSnapshots(ctx context.Context, conn *websocket.Conn, updates <-chan game.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(streamMessage{Type: "state", State: viewOf(snap)}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
