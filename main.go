// main.go
//
// FlipMatch server entry point: load config, open and migrate the database,
// load the puzzle catalog, start the idle-session sweeper and serve HTTP
// until SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/config"
	"github.com/flipmatch/go-server/internal/daily"
	"github.com/flipmatch/go-server/internal/db"
	"github.com/flipmatch/go-server/internal/httpserver"
	"github.com/flipmatch/go-server/internal/puzzles"
	"github.com/flipmatch/go-server/internal/scores"
	"github.com/flipmatch/go-server/internal/settings"
	"github.com/flipmatch/go-server/internal/store"
	"github.com/flipmatch/go-server/internal/users"
)

func main() {
	cfg := config.Load()
	zerolog.SetGlobalLevel(cfg.LogLevel)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	catalog, err := puzzles.Load(cfg.PuzzlesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load puzzles")
	}
	log.Info().Int("puzzles", catalog.Len()).Msg("catalog loaded")

	sessions := store.NewSessions()
	sweeper, err := store.StartSweeper(sessions, time.Minute, cfg.SessionIdleTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}

	srv := httpserver.New(httpserver.Deps{
		Config:   cfg,
		Catalog:  catalog,
		Sessions: sessions,
		Users:    users.NewStore(database),
		Scores:   scores.NewStore(database),
		Settings: settings.NewStore(database),
		Daily:    daily.NewStore(database),
	})

	go func() {
		log.Info().Str("port", cfg.Port).Str("driver", database.Driver).Msg("starting go-server")
		if err := srv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sweeper.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("sweeper shutdown")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}
