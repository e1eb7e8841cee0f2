// internal/settings/store.go
//
// Per-user preferences for the settings screen. A user without a stored row
// sees the defaults: dark mode follows the system, sound and notifications on.

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flipmatch/go-server/internal/db"
)

type DarkMode string

const (
	DarkModeSystem DarkMode = "SYSTEM"
	DarkModeLight  DarkMode = "LIGHT"
	DarkModeDark   DarkMode = "DARK"
)

// ErrInvalidDarkMode is returned for values other than SYSTEM, LIGHT or DARK.
var ErrInvalidDarkMode = errors.New("darkMode must be SYSTEM, LIGHT or DARK")

func (m DarkMode) Valid() bool {
	switch m {
	case DarkModeSystem, DarkModeLight, DarkModeDark:
		return true
	}
	return false
}

type Settings struct {
	DarkMode      DarkMode `json:"darkMode"`
	Sound         bool     `json:"sound"`
	Notifications bool     `json:"notifications"`
}

func Defaults() Settings {
	return Settings{DarkMode: DarkModeSystem, Sound: true, Notifications: true}
}

// Patch holds optional fields; nil means unchanged.
type Patch struct {
	DarkMode      *DarkMode `json:"darkMode"`
	Sound         *bool     `json:"sound"`
	Notifications *bool     `json:"notifications"`
}

type Store struct{ db *db.DB }

func NewStore(d *db.DB) *Store { return &Store{db: d} }

// Get returns the user's settings, or Defaults when none are stored.
func (s *Store) Get(ctx context.Context, userID string) (Settings, error) {
	var mode string
	var sound, notify int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT dark_mode, sound, notifications FROM user_settings WHERE user_id=?`), userID,
	).Scan(&mode, &sound, &notify)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return Settings{DarkMode: DarkMode(mode), Sound: sound != 0, Notifications: notify != 0}, nil
}

// Update applies p on top of the current settings and stores the result.
func (s *Store) Update(ctx context.Context, userID string, p Patch) (Settings, error) {
	if p.DarkMode != nil && !p.DarkMode.Valid() {
		return Settings{}, ErrInvalidDarkMode
	}
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if p.DarkMode != nil {
		cur.DarkMode = *p.DarkMode
	}
	if p.Sound != nil {
		cur.Sound = *p.Sound
	}
	if p.Notifications != nil {
		cur.Notifications = *p.Notifications
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO user_settings (user_id, dark_mode, sound, notifications, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            dark_mode = excluded.dark_mode,
            sound = excluded.sound,
            notifications = excluded.notifications,
            updated_at = excluded.updated_at`),
		userID, string(cur.DarkMode), boolInt(cur.Sound), boolInt(cur.Notifications), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return cur, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
