// internal/httpserver/routes_daily.go
//
// HTTP routes for the daily puzzle.
//   - POST /daily/new         → start (or resume) today's session
//   - GET  /daily/leaderboard → results for today (or ?date=YYYY-MM-DD)
//
// Every player gets the same puzzle on a given UTC day, picked
// deterministically from date + salt. The session is driven through the
// regular /game/{id}/* routes; the first completed round of the day is
// recorded in daily_results, and for logged-in players it also counts
// towards their totals like any other round.

package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/daily"
	"github.com/flipmatch/go-server/internal/game"
)

// dailyServer tracks today's session per player. A player is the user ID,
// or the guest's "anon:<cookie>" key.
type dailyServer struct {
	srv      *Server
	mu       sync.Mutex
	sessions map[string]string // player|date → session ID
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	dd := &dailyServer{srv: s, sessions: make(map[string]string)}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Get("/leaderboard", dd.handleLeaderboard)
	})
}

// today returns the date key and the catalog index of today's puzzle.
func (d *dailyServer) today() (date string, round int) {
	now := d.srv.Clock.Now()
	return daily.DateKey(now), daily.PuzzleIndex(now, d.srv.Config.DailySalt, d.srv.Catalog.Len())
}

// newRes is returned by /daily/new.
type newRes struct {
	Date   string     `json:"date"`
	Played bool       `json:"played"`
	State  *stateView `json:"state,omitempty"`
}

// handleNew creates or resumes today's daily session.
//   - If the player already has a result for today → Played=true.
//   - Otherwise reuse the live session or start a new one.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	owner, userID := d.srv.playerKey(w, r)
	player := userID
	if player == "" {
		player = owner
	}
	date, round := d.today()

	played, err := d.srv.Daily.AlreadyPlayed(r.Context(), player, date)
	if err != nil {
		log.Error().Err(err).Msg("daily already played")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if played {
		writeJSON(w, http.StatusOK, newRes{Date: date, Played: true})
		return
	}

	key := player + "|" + date
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.sessions[key]; ok {
		if entry, err := d.srv.Sessions.Get(id); err == nil {
			if snap, err := entry.Session.Snapshot(r.Context()); err == nil {
				v := viewOf(snap)
				writeJSON(w, http.StatusOK, newRes{Date: date, State: &v})
				return
			}
		}
		delete(d.sessions, key)
	}

	puzzleID := d.srv.Catalog.Puzzles()[round].ID
	g := d.srv.newSession(owner, userID, d.sink(player, date, puzzleID))
	snap, err := g.Start(r.Context(), round)
	if err != nil {
		d.srv.Sessions.Delete(g.ID())
		d.srv.writeGameError(w, err)
		return
	}
	d.sessions[key] = g.ID()
	v := viewOf(snap)
	writeJSON(w, http.StatusCreated, newRes{Date: date, State: &v})
}

// sink records a daily session's rounds: the daily puzzle's first result
// goes to daily_results under the date the session started on, and every
// round still counts on the player's totals.
func (d *dailyServer) sink(player, date string, puzzleID int) game.ScoreSink {
	return game.ScoreSinkFunc(func(ctx context.Context, res game.RoundResult) error {
		if res.PuzzleID == puzzleID {
			if err := d.srv.Daily.InsertResult(ctx, daily.Result{
				UserID: player, Date: date, PuzzleID: puzzleID, Score: res.Score, Moves: res.Moves,
			}); err != nil {
				return err
			}
			d.mu.Lock()
			delete(d.sessions, player+"|"+date)
			d.mu.Unlock()
		}
		return d.srv.Scores.Submit(ctx, res)
	})
}

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date, _ = d.today()
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rows, err := d.srv.Daily.Leaderboard(r.Context(), date, 20)
	if err != nil {
		log.Error().Err(err).Msg("daily leaderboard")
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, lbRes{Date: date, Top: rows})
}
