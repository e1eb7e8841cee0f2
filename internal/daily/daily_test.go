package daily

import (
	"context"
	"testing"
	"time"

	"github.com/flipmatch/go-server/internal/db/dbtest"
)

func TestPuzzleIndexDeterministic(t *testing.T) {
	day := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	a := PuzzleIndex(day, "salt", 4)
	b := PuzzleIndex(day.Add(-20*time.Hour), "salt", 4)
	if a != b {
		t.Fatalf("same day gave %d and %d", a, b)
	}
	if a < 0 || a >= 4 {
		t.Fatalf("index %d out of range", a)
	}
	if got := PuzzleIndex(day, "salt", 0); got != 0 {
		t.Fatalf("empty catalog index = %d", got)
	}

	seen := map[int]bool{}
	for i := 0; i < 60; i++ {
		seen[PuzzleIndex(day.AddDate(0, 0, i), "salt", 4)] = true
	}
	if len(seen) < 2 {
		t.Fatal("index never changes across days")
	}
}

func TestDateKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	if got := DateKey(time.Date(2026, 5, 2, 5, 0, 0, 0, loc)); got != "2026-05-01" {
		t.Fatalf("DateKey = %s", got)
	}
}

func TestStoreFirstResultWins(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	ctx := context.Background()
	date := "2026-05-01"

	played, err := s.AlreadyPlayed(ctx, "u1", date)
	if err != nil || played {
		t.Fatalf("AlreadyPlayed = %v, %v", played, err)
	}
	for _, r := range []Result{
		{UserID: "u1", Date: date, PuzzleID: 2, Score: 40, Moves: 10},
		{UserID: "u1", Date: date, PuzzleID: 2, Score: 90, Moves: 8},
		{UserID: "u2", Date: date, PuzzleID: 2, Score: 40, Moves: 7},
		{UserID: "u3", Date: date, PuzzleID: 2, Score: 55, Moves: 12},
	} {
		if err := s.InsertResult(ctx, r); err != nil {
			t.Fatalf("InsertResult: %v", err)
		}
	}
	if played, _ := s.AlreadyPlayed(ctx, "u1", date); !played {
		t.Fatal("u1 should have played")
	}

	lb, err := s.Leaderboard(ctx, date, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"u3", "u2", "u1"}
	if len(lb) != len(want) {
		t.Fatalf("rows = %+v", lb)
	}
	for i, id := range want {
		if lb[i].UserID != id {
			t.Fatalf("row %d = %s, want %s", i, lb[i].UserID, id)
		}
	}
	if lb[2].Score != 40 {
		t.Fatalf("second insert should be ignored, got score %d", lb[2].Score)
	}
}
