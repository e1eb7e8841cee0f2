// internal/config/config.go
//
// Environment-driven configuration for the FlipMatch server.
// A .env file in the working directory is loaded first (development);
// real environment variables win over it.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flipmatch/go-server/internal/game"
)

const devJWTSecret = "dev_secret_change_me"

// Config holds every runtime setting.
type Config struct {
	Port           string
	LogLevel       zerolog.Level
	DatabaseURL    string
	JWTSecret      string
	JWTExpiresDays int
	CookieName     string
	ClientOrigin   string
	Production     bool
	DailySalt      string
	PuzzlesFile    string
	SessionIdleTTL time.Duration
	Game           game.Config
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading from environment")
	}

	lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	d := game.DefaultConfig()
	cfg := &Config{
		Port:           getEnv("PORT", "5175"),
		LogLevel:       lvl,
		DatabaseURL:    getEnv("DATABASE_URL", "./data/flipmatch.db"),
		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		JWTExpiresDays: getEnvAsInt("JWT_EXPIRES_DAYS", 14),
		CookieName:     getEnv("COOKIE_NAME", "flipmatch_token"),
		ClientOrigin:   getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		Production:     os.Getenv("APP_ENV") == "production",
		DailySalt:      getEnv("DAILY_SALT", "local_dev_salt"),
		PuzzlesFile:    os.Getenv("PUZZLES_FILE"),
		SessionIdleTTL: getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		Game: game.Config{
			Countdown:       time.Duration(getEnvAsInt("GAME_COUNTDOWN_SECONDS", int(d.Countdown/time.Second))) * time.Second,
			MismatchDelay:   time.Duration(getEnvAsInt("GAME_MISMATCH_DELAY_MS", int(d.MismatchDelay/time.Millisecond))) * time.Millisecond,
			MatchPoints:     getEnvAsInt("GAME_MATCH_POINTS", d.MatchPoints),
			MismatchPenalty: getEnvAsCount("GAME_MISMATCH_PENALTY", d.MismatchPenalty),
			Hints:           getEnvAsCount("GAME_HINTS", d.Hints),
			ExtraTimeUses:   getEnvAsCount("GAME_EXTRA_TIME_USES", d.ExtraTimeUses),
			ExtraTime:       time.Duration(getEnvAsInt("GAME_EXTRA_TIME_SECONDS", int(d.ExtraTime/time.Second))) * time.Second,
			BonusDivisor:    d.BonusDivisor,
			SubmitTimeout:   d.SubmitTimeout,
		},
	}

	if cfg.JWTSecret == devJWTSecret {
		if cfg.Production {
			log.Warn().Msg("JWT_SECRET is not set in production; using the development secret")
		} else {
			log.Debug().Msg("using development JWT secret")
		}
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

// getEnvAsCount reads a count where 0 means "none". game.Config treats
// zero as unset, so an explicit 0 becomes -1.
func getEnvAsCount(key string, def int) int {
	n := getEnvAsInt(key, def)
	if n == 0 {
		return -1
	}
	return n
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return def
}
