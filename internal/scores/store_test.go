package scores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flipmatch/go-server/internal/db/dbtest"
	"github.com/flipmatch/go-server/internal/game"
	"github.com/flipmatch/go-server/internal/users"
)

func newUser(t *testing.T, us *users.Store, name string) *users.User {
	t.Helper()
	u, err := us.Create(context.Background(), name, "password123")
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return u
}

func TestSubmitAccumulatesAndKeepsBest(t *testing.T) {
	d := dbtest.Open(t)
	us := users.NewStore(d)
	s := NewStore(d)
	ctx := context.Background()
	alice := newUser(t, us, "alice")

	rounds := []game.RoundResult{
		{SessionID: "s1", UserID: alice.ID, PuzzleID: 1, Category: "easy", Score: 35, Moves: 2, Level: 1},
		{SessionID: "s1", UserID: alice.ID, PuzzleID: 2, Category: "easy", Score: 20, Moves: 9, Level: 2},
		{SessionID: "s1", UserID: alice.ID, PuzzleID: 3, Category: "medium", Score: -4, Moves: 6, Level: 3, TimedOut: true},
	}
	for i, r := range rounds {
		r.FinishedAt = time.Date(2026, 1, 1, 12, i, 0, 0, time.UTC)
		if err := s.Submit(ctx, r); err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
	}

	p, err := s.Profile(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.TotalScore != 51 || p.GamesPlayed != 3 || p.Rank != 1 {
		t.Fatalf("unexpected totals: %+v", p.Entry)
	}
	if p.BestScores["easy"] != 35 || p.BestScores["medium"] != 0 {
		t.Fatalf("best scores = %v", p.BestScores)
	}

	hist, err := s.History(ctx, alice.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 || hist[0].PuzzleID != 3 || !hist[0].TimedOut || hist[2].Score != 35 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestSubmitGuestAndUnknownUser(t *testing.T) {
	s := NewStore(dbtest.Open(t))
	ctx := context.Background()

	if err := s.Submit(ctx, game.RoundResult{Score: 10, Category: "easy"}); err != nil {
		t.Fatalf("guest submit: %v", err)
	}
	err := s.Submit(ctx, game.RoundResult{UserID: "ghost", Score: 10, Category: "easy"})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown user err = %v", err)
	}
	if _, err := s.Profile(ctx, "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("profile err = %v", err)
	}
}

func TestLeaderboardAppendsCurrentUser(t *testing.T) {
	d := dbtest.Open(t)
	us := users.NewStore(d)
	s := NewStore(d)
	ctx := context.Background()

	alice := newUser(t, us, "alice")
	bob := newUser(t, us, "bob")
	carol := newUser(t, us, "carol")
	for _, r := range []game.RoundResult{
		{UserID: alice.ID, Category: "easy", Score: 50},
		{UserID: bob.ID, Category: "easy", Score: 80},
		{UserID: carol.ID, Category: "easy", Score: 10},
	} {
		if err := s.Submit(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	top, err := s.Leaderboard(ctx, carol.ID, 2)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("entries = %d, want 3", len(top))
	}
	if top[0].UserID != bob.ID || top[1].UserID != alice.ID {
		t.Fatalf("order = %s, %s", top[0].Name, top[1].Name)
	}
	me := top[2]
	if me.UserID != carol.ID || !me.Current || me.Rank != 3 {
		t.Fatalf("current user entry = %+v", me)
	}

	top, err = s.Leaderboard(ctx, bob.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 3 || !top[0].Current {
		t.Fatalf("bob should be flagged in place: %+v", top)
	}
}
