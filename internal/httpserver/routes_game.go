// internal/httpserver/routes_game.go
//
// HTTP routes for FlipMatch game sessions.
//   - POST /game/new               → create a session and start a round
//   - GET  /game/{id}              → current state
//   - POST /game/{id}/flip         → flip the card at {"index": n}
//   - POST /game/{id}/hint         → reveal one pair
//   - POST /game/{id}/extra-time   → extend the countdown
//   - POST /game/{id}/dismiss      → acknowledge the completion screen
//   - POST /game/{id}/restart      → replay the current puzzle
//   - POST /game/{id}/next         → advance to the next puzzle (409 at the end)
//   - GET  /game/{id}/ws           → websocket snapshot stream
//
// Only the player that created a session may drive it. Faces of cards that
// are neither flipped nor matched are never sent to the client.

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/game"
	"github.com/flipmatch/go-server/internal/store"
)

// cardView is one grid cell as the client sees it.
type cardView struct {
	Index   int    `json:"index"`
	Empty   bool   `json:"empty,omitempty"`
	Flipped bool   `json:"flipped"`
	Matched bool   `json:"matched"`
	ID      *int   `json:"id,omitempty"`
	Image   string `json:"image,omitempty"`
	Glyph   string `json:"glyph,omitempty"`
}

// stateView is the JSON form of game.Snapshot.
type stateView struct {
	SessionID          string     `json:"sessionId"`
	Seq                uint64     `json:"seq"`
	Phase              game.Phase `json:"phase"`
	Cards              []cardView `json:"cards"`
	Completed          bool       `json:"completed"`
	TimedOut           bool       `json:"timedOut"`
	Moves              int        `json:"moves"`
	Score              int        `json:"score"`
	RemainingSeconds   int        `json:"remainingSeconds"`
	HintsRemaining     int        `json:"hintsRemaining"`
	ExtraTimeRemaining int        `json:"extraTimeRemaining"`
	Level              int        `json:"level"`
	Round              int        `json:"round"`
	PuzzleID           int        `json:"puzzleId"`
	Category           string     `json:"category"`
}

func viewOf(s game.Snapshot) stateView {
	cards := make([]cardView, len(s.Cards))
	for i, c := range s.Cards {
		v := cardView{Index: i, Empty: c.Empty(), Flipped: c.Flipped, Matched: c.Matched}
		if !v.Empty && (c.Flipped || c.Matched) {
			id := c.Face.ID
			v.ID, v.Image, v.Glyph = &id, c.Face.Image, c.Face.Glyph
		}
		cards[i] = v
	}
	return stateView{
		SessionID:          s.SessionID,
		Seq:                s.Seq,
		Phase:              s.Phase,
		Cards:              cards,
		Completed:          s.Completed,
		TimedOut:           s.TimedOut,
		Moves:              s.Moves,
		Score:              s.Score,
		RemainingSeconds:   s.RemainingSeconds,
		HintsRemaining:     s.HintsRemaining,
		ExtraTimeRemaining: s.ExtraTimeRemaining,
		Level:              s.Level,
		Round:              s.Round,
		PuzzleID:           s.PuzzleID,
		Category:           s.Category,
	}
}

// mountGame registers the /game routes except the websocket stream.
func (s *Server) mountGame(r chi.Router) {
	r.Post("/game/new", s.handleNewGame)
	r.Get("/game/{id}", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		return g.Snapshot(ctx)
	}))
	r.Post("/game/{id}/flip", s.gameAction(func(ctx context.Context, g *game.Session, r *http.Request) (game.Snapshot, error) {
		var body struct {
			Index *int `json:"index"`
		}
		if err := decodeJSON(r, &body); err != nil || body.Index == nil {
			return game.Snapshot{}, errBadRequest
		}
		return g.Flip(ctx, *body.Index)
	}))
	r.Post("/game/{id}/hint", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		return g.Hint(ctx)
	}))
	r.Post("/game/{id}/extra-time", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		return g.AddExtraTime(ctx)
	}))
	r.Post("/game/{id}/dismiss", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		return g.Dismiss(ctx)
	}))
	r.Post("/game/{id}/restart", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		cur, err := g.Snapshot(ctx)
		if err != nil {
			return cur, err
		}
		return g.Start(ctx, cur.Round)
	}))
	r.Post("/game/{id}/next", s.gameAction(func(ctx context.Context, g *game.Session, _ *http.Request) (game.Snapshot, error) {
		cur, err := g.Snapshot(ctx)
		if err != nil {
			return cur, err
		}
		return g.Start(ctx, cur.Round+1)
	}))
}

var errBadRequest = errors.New("bad request")

type newGameReq struct {
	Round int `json:"round"`
}

// newSession builds a session owned by the caller and registers it.
func (s *Server) newSession(owner, userID string, sink game.ScoreSink) *game.Session {
	id := uuid.NewString()
	g := game.NewSession(id, userID, s.Catalog, sink, game.Options{
		Config: s.Config.Game,
		Clock:  s.Clock,
	})
	s.Sessions.Save(owner, g)
	return g
}

// handleNewGame creates a session and starts the requested round (default 0).
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	owner, userID := s.playerKey(w, r)
	g := s.newSession(owner, userID, s.Scores)
	snap, err := g.Start(r.Context(), req.Round)
	if err != nil {
		s.Sessions.Delete(g.ID())
		s.writeGameError(w, err)
		return
	}
	log.Info().Str("session", g.ID()).Str("owner", owner).Int("round", req.Round).Msg("game started")
	writeJSON(w, http.StatusCreated, viewOf(snap))
}

// gameAction resolves {id}, checks ownership and runs fn.
func (s *Server) gameAction(fn func(ctx context.Context, g *game.Session, r *http.Request) (game.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if owner, _ := s.playerKey(w, r); owner != entry.Owner {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		snap, err := fn(r.Context(), entry.Session, r)
		if err != nil {
			s.writeGameError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(snap))
	}
}

func (s *Server) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNoMorePuzzles):
		writeError(w, http.StatusConflict, "no_more_puzzles")
	case errors.Is(err, game.ErrSessionClosed), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusGone, "session_closed")
	case errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout")
	default:
		log.Error().Err(err).Msg("game action")
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
