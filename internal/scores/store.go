// internal/scores/store.go
//
// Score persistence, leaderboard and profile statistics.
// Store implements game.ScoreSink: each completed round adds its final score
// to the player's running total, bumps games played, raises the best score
// for the puzzle category when exceeded, and is kept in round_results.

package scores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flipmatch/go-server/internal/db"
	"github.com/flipmatch/go-server/internal/game"
)

// ErrUnknownUser is returned by Submit when the user row does not exist.
var ErrUnknownUser = errors.New("scores: unknown user")

const defaultLeaderboardSize = 10

// Store persists round scores.
type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store { return &Store{db: d} }

var _ game.ScoreSink = (*Store)(nil)

// Submit records a completed round in one transaction. Rounds played by
// guests (empty user ID) are accepted and not stored.
func (s *Store) Submit(ctx context.Context, r game.RoundResult) error {
	if r.UserID == "" {
		return nil
	}
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	ts := finished.Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE users SET total_score = total_score + ?, games_played = games_played + 1 WHERE id=?`),
		r.Score, r.UserID)
	if err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnknownUser
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO user_best_scores (user_id, category, best_score, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id, category) DO UPDATE SET
            best_score = CASE WHEN excluded.best_score > user_best_scores.best_score
                              THEN excluded.best_score ELSE user_best_scores.best_score END,
            updated_at = excluded.updated_at`),
		r.UserID, r.Category, max(r.Score, 0), ts); err != nil {
		return fmt.Errorf("upsert best score: %w", err)
	}

	timedOut := 0
	if r.TimedOut {
		timedOut = 1
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO round_results (id, session_id, user_id, puzzle_id, category, score, moves, level, timed_out, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), r.SessionID, r.UserID, r.PuzzleID, r.Category, r.Score, r.Moves, r.Level, timedOut, ts); err != nil {
		return fmt.Errorf("insert round result: %w", err)
	}
	return tx.Commit()
}

// Entry is one leaderboard row.
type Entry struct {
	Rank            int    `json:"rank"`
	UserID          string `json:"userId"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profileImageUrl"`
	TotalScore      int    `json:"totalScore"`
	GamesPlayed     int    `json:"gamesPlayed"`
	Current         bool   `json:"current,omitempty"`
}

/**
 * Leaderboard returns the top players by total score.
 *
 * - Ordered by total_score DESC, then created_at ASC.
 * - Default limit is 10 if not specified.
 * - When currentUserID is set and outside the top list, that player is
 *   appended with their real rank.
 */
func (s *Store) Leaderboard(ctx context.Context, currentUserID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
        SELECT id, username, display_name, profile_image_url, total_score, games_played
        FROM users
        ORDER BY total_score DESC, created_at ASC
        LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit+1)
	found := false
	for rows.Next() {
		var e Entry
		var username, display string
		if err := rows.Scan(&e.UserID, &username, &display, &e.ProfileImageURL, &e.TotalScore, &e.GamesPlayed); err != nil {
			return nil, err
		}
		e.Name = displayName(username, display)
		e.Rank = len(out) + 1
		if e.UserID == currentUserID {
			e.Current, found = true, true
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if currentUserID != "" && !found {
		me, err := s.entry(ctx, currentUserID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			me.Current = true
			out = append(out, *me)
		}
	}
	return out, nil
}

// entry loads a single player's leaderboard row with rank.
func (s *Store) entry(ctx context.Context, userID string) (*Entry, error) {
	var e Entry
	var username, display, created string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
        SELECT id, username, display_name, profile_image_url, total_score, games_played, created_at
        FROM users WHERE id=?`), userID).
		Scan(&e.UserID, &username, &display, &e.ProfileImageURL, &e.TotalScore, &e.GamesPlayed, &created)
	if err != nil {
		return nil, err
	}
	e.Name = displayName(username, display)

	var ahead int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(`
        SELECT COUNT(1) FROM users
        WHERE total_score > ? OR (total_score = ? AND created_at < ?)`),
		e.TotalScore, e.TotalScore, created).Scan(&ahead); err != nil {
		return nil, err
	}
	e.Rank = ahead + 1
	return &e, nil
}

// Profile is the profile screen's statistics block.
type Profile struct {
	Entry
	BestScores map[string]int `json:"bestScores"`
}

// Profile returns rank, totals and best score per category for a user.
func (s *Store) Profile(ctx context.Context, userID string) (*Profile, error) {
	e, err := s.entry(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	p := &Profile{Entry: *e, BestScores: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT category, best_score FROM user_best_scores WHERE user_id=?`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var best int
		if err := rows.Scan(&cat, &best); err != nil {
			return nil, err
		}
		p.BestScores[cat] = best
	}
	return p, rows.Err()
}

// RoundRow is one entry of a player's history.
type RoundRow struct {
	SessionID  string `json:"sessionId"`
	PuzzleID   int    `json:"puzzleId"`
	Category   string `json:"category"`
	Score      int    `json:"score"`
	Moves      int    `json:"moves"`
	Level      int    `json:"level"`
	TimedOut   bool   `json:"timedOut"`
	FinishedAt string `json:"finishedAt"`
}

// History lists a player's most recent rounds (default 50).
func (s *Store) History(ctx context.Context, userID string, limit int) ([]RoundRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
        SELECT session_id, puzzle_id, category, score, moves, level, timed_out, finished_at
        FROM round_results
        WHERE user_id=?
        ORDER BY finished_at DESC
        LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RoundRow{}
	for rows.Next() {
		var r RoundRow
		var timedOut int
		if err := rows.Scan(&r.SessionID, &r.PuzzleID, &r.Category, &r.Score, &r.Moves, &r.Level, &timedOut, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.TimedOut = timedOut != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func displayName(username, display string) string {
	if display != "" {
		return display
	}
	return username
}
