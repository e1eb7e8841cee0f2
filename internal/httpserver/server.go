// internal/httpserver/server.go
//
// HTTP server wiring for the FlipMatch backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/puzzles".
//   - Game endpoints (optional auth): /game/new, /game/{id}/*, websocket stream.
//   - Daily puzzle endpoints (optional auth): mounted under /daily.
//   - Auth + profile/settings/leaderboard endpoints: /auth/*, /profile/me,
//     /settings, /games/mine, /leaderboard.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token is present;
//     routes can still run for guests.
//   - The websocket route is mounted outside the request timeout.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/config"
	"github.com/flipmatch/go-server/internal/daily"
	"github.com/flipmatch/go-server/internal/puzzles"
	"github.com/flipmatch/go-server/internal/scores"
	"github.com/flipmatch/go-server/internal/settings"
	"github.com/flipmatch/go-server/internal/store"
	"github.com/flipmatch/go-server/internal/users"
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Config   *config.Config
	Catalog  *puzzles.Catalog
	Sessions *store.Sessions
	Users    *users.Store
	Scores   *scores.Store
	Settings *settings.Store
	Daily    *daily.Store
	// Clock drives game timers; nil means the real clock.
	Clock clockwork.Clock
}

// Server bundles router, session registry and stores.
type Server struct {
	r  *chi.Mux
	hs *http.Server
	Deps
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	s := &Server{r: chi.NewRouter(), Deps: d}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(jsonContentType) // default JSON responses
	s.r.Use(s.cors)          // credentials-friendly CORS

	// Websocket stream: long-lived, so no request timeout.
	s.r.With(s.withOptionalAuth()).Get("/game/{id}/ws", s.handleStream)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"service":   "flipmatch-go",
				"endpoints": []string{"/health", "/puzzles", "POST /game/new", "/game/{id}/*", "/daily/*", "/auth/*", "/leaderboard"},
			})
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.Sessions.Len()})
		})
		r.Get("/puzzles", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.Catalog.Summaries())
		})

		// Game endpoints: OPTIONAL AUTH (guests can play)
		s.mountGame(r.With(s.withOptionalAuth()))

		// Daily puzzle: OPTIONAL AUTH (guests can play; first result per day is kept)
		s.mountDaily(r.With(s.withOptionalAuth()))

		// Auth, profile, settings, leaderboard
		s.mountAuthRoutes(r)
		s.mountAccountRoutes(r)
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Start begins serving HTTP on addr. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error {
	s.hs = &http.Server{Addr: addr, Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	return s.hs.ListenAndServe()
}

// Shutdown stops accepting connections and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.hs != nil {
		err = s.hs.Shutdown(ctx)
	}
	s.Sessions.CloseAll()
	return err
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.Config.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------- helpers -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body; an empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
