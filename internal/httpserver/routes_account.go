// internal/httpserver/routes_account.go
//
// Player-facing data outside a running game:
//   - GET /leaderboard           → top 10 by total score (+ the caller if outside)
//   - GET /profile/me, PUT        → profile screen (stats, best scores, edits)
//   - GET /games/mine             → recent rounds
//   - GET /settings, PUT          → settings screen

package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/scores"
	"github.com/flipmatch/go-server/internal/settings"
	"github.com/flipmatch/go-server/internal/users"
)

func (s *Server) mountAccountRoutes(r chi.Router) {
	r.With(s.withOptionalAuth()).Get("/leaderboard", s.handleLeaderboard)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth())
		r.Get("/profile/me", s.handleProfile)
		r.Put("/profile/me", s.handleUpdateProfile)
		r.Get("/games/mine", s.handleMyGames)
		r.Get("/settings", s.handleSettings)
		r.Put("/settings", s.handleUpdateSettings)
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var me string
	if u := currentUser(r); u != nil {
		me = u.ID
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.Scores.Leaderboard(r.Context(), me, min(limit, 100))
	if err != nil {
		log.Error().Err(err).Msg("leaderboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// profileRes is the profile screen payload.
type profileRes struct {
	*users.User
	Rank       int            `json:"rank"`
	BestScores map[string]int `json:"bestScores"`
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request, u *users.User) {
	stats, err := s.Scores.Profile(r.Context(), u.ID)
	if errors.Is(err, scores.ErrUnknownUser) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user", u.ID).Msg("profile stats")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, profileRes{User: u, Rank: stats.Rank, BestScores: stats.BestScores})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.FindByID(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	s.profile(w, r, u)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch users.ProfilePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	u, err := s.Users.UpdateProfile(r.Context(), currentUser(r).ID, patch)
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if errors.Is(err, users.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("update profile")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	s.profile(w, r, u)
}

func (s *Server) handleMyGames(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Scores.History(r.Context(), currentUser(r).ID, 50)
	if err != nil {
		log.Error().Err(err).Msg("games/mine")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.Settings.Get(r.Context(), currentUser(r).ID)
	if err != nil {
		log.Error().Err(err).Msg("settings")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	st, err := s.Settings.Update(r.Context(), currentUser(r).ID, patch)
	if errors.Is(err, settings.ErrInvalidDarkMode) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("update settings")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
