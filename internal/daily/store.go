package daily

import (
	"context"
	"time"

	"github.com/flipmatch/go-server/internal/db"
)

// Result is one player's finished daily round.
type Result struct {
	UserID   string `json:"userId"`
	Date     string `json:"date"`
	PuzzleID int    `json:"puzzleId"`
	Score    int    `json:"score"`
	Moves    int    `json:"moves"`
}

type Store struct{ db *db.DB }

func NewStore(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) AlreadyPlayed(ctx context.Context, userID, date string) (bool, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT COUNT(1) FROM daily_results WHERE user_id=? AND date=?"),
		userID, date,
	).Scan(&cnt)
	return cnt > 0, err
}

// InsertResult stores the first result for (user, date); later ones are ignored.
func (s *Store) InsertResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO daily_results(user_id, date, puzzle_id, score, moves, created_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT (user_id, date) DO NOTHING`),
		r.UserID, r.Date, r.PuzzleID, r.Score, r.Moves, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

type LBRow struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Moves  int    `json:"moves"`
}

// Leaderboard ranks a day's results by score, then fewer moves, then first to finish.
func (s *Store) Leaderboard(ctx context.Context, date string, limit int) ([]LBRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT d.user_id, COALESCE(NULLIF(u.display_name, ''), u.username, ''), d.score, d.moves
		FROM daily_results d
		LEFT JOIN users u ON u.id = d.user_id
		WHERE d.date=?
		ORDER BY d.score DESC, d.moves ASC, d.created_at ASC
		LIMIT ?`), date, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LBRow{}
	for rows.Next() {
		var r LBRow
		if err := rows.Scan(&r.UserID, &r.Name, &r.Score, &r.Moves); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
