package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type staticSource []Puzzle

func (s staticSource) Puzzles() []Puzzle { return s }

type recordingSink struct {
	mu      sync.Mutex
	results []RoundResult
	err     error
}

func (r *recordingSink) Submit(_ context.Context, res RoundResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return r.err
}

func (r *recordingSink) all() []RoundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RoundResult(nil), r.results...)
}

func twoPairPuzzle() Puzzle {
	return Puzzle{
		ID:         1,
		Difficulty: "easy",
		GridSize:   2,
		Faces:      []CardFace{{ID: 1, Glyph: "✅"}, {ID: 2, Glyph: "🦒"}},
	}
}

func newTestSession(t *testing.T, cfg Config, puzzles ...Puzzle) (*Session, *clockwork.FakeClock, *recordingSink) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	nop := zerolog.Nop()
	s := NewSession("s1", "u1", staticSource(puzzles), sink, Options{
		Config: cfg,
		Clock:  clock,
		Rand:   rand.New(rand.NewPCG(1, 2)),
		Logger: &nop,
	})
	t.Cleanup(s.Close)
	return s, clock, sink
}

func mustStart(t *testing.T, s *Session, round int) Snapshot {
	t.Helper()
	snap, err := s.Start(context.Background(), round)
	if err != nil {
		t.Fatalf("Start(%d): %v", round, err)
	}
	return snap
}

func mustFlip(t *testing.T, s *Session, i int) Snapshot {
	t.Helper()
	snap, err := s.Flip(context.Background(), i)
	if err != nil {
		t.Fatalf("Flip(%d): %v", i, err)
	}
	return snap
}

// indicesOf returns the grid positions holding face id.
func indicesOf(cards []Card, id int) []int {
	var out []int
	for i, c := range cards {
		if !c.Empty() && c.Face.ID == id {
			out = append(out, i)
		}
	}
	return out
}

func firstEmpty(cards []Card) int {
	for i, c := range cards {
		if c.Empty() {
			return i
		}
	}
	return -1
}

// waitFor polls the session until cond holds. Timer callbacks run on the
// session loop, so their effect is only visible through a later snapshot.
func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline; last snapshot: %+v", snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartBuildsSquareGrid(t *testing.T) {
	cases := []struct {
		name  string
		size  int
		faces int
	}{
		{"1x1 single face", 1, 1},
		{"2x2 exact", 2, 2},
		{"3x3 padded", 3, 2},
		{"3x3 truncated", 3, 6},
		{"4x4 exact", 4, 8},
		{"5x5 padded", 5, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Puzzle{ID: 7, Difficulty: "medium", GridSize: tc.size}
			for i := 0; i < tc.faces; i++ {
				p.Faces = append(p.Faces, CardFace{ID: i + 1, Glyph: "x"})
			}
			s, _, _ := newTestSession(t, Config{}, p)
			snap := mustStart(t, s, 0)
			if got, want := len(snap.Cards), tc.size*tc.size; got != want {
				t.Fatalf("cards = %d, want %d", got, want)
			}
			if snap.Phase != PhaseAwaitingFirstPick {
				t.Fatalf("phase = %s, want %s", snap.Phase, PhaseAwaitingFirstPick)
			}
			if snap.Level != 1 || snap.RemainingSeconds != 30 || snap.HintsRemaining != 3 || snap.ExtraTimeRemaining != 3 {
				t.Fatalf("unexpected round defaults: %+v", snap)
			}
		})
	}
}

func TestStartPastCatalogLeavesStateUnchanged(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())

	idle, err := s.Start(context.Background(), 1)
	if !errors.Is(err, ErrNoMorePuzzles) {
		t.Fatalf("err = %v, want ErrNoMorePuzzles", err)
	}
	if idle.Phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle", idle.Phase)
	}

	before := mustStart(t, s, 0)
	mustFlip(t, s, 0)
	before, _ = s.Snapshot(context.Background())

	after, err := s.Start(context.Background(), 1)
	if !errors.Is(err, ErrNoMorePuzzles) {
		t.Fatalf("err = %v, want ErrNoMorePuzzles", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed:\nbefore %+v\nafter  %+v", before, after)
	}
	if _, err := s.Start(context.Background(), -1); !errors.Is(err, ErrNoMorePuzzles) {
		t.Fatalf("negative round: err = %v", err)
	}
}

func TestTwoPairRoundScenario(t *testing.T) {
	s, _, sink := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)

	a := indicesOf(snap.Cards, 1)
	b := indicesOf(snap.Cards, 2)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected two of each face, got a=%v b=%v", a, b)
	}

	mustFlip(t, s, a[0])
	snap = mustFlip(t, s, a[1])
	if !snap.Cards[a[0]].Matched || !snap.Cards[a[1]].Matched {
		t.Fatalf("face A not matched: %+v", snap.Cards)
	}
	if snap.Score != 10 || snap.Moves != 1 {
		t.Fatalf("score=%d moves=%d, want 10 and 1", snap.Score, snap.Moves)
	}
	if snap.Phase != PhaseAwaitingFirstPick {
		t.Fatalf("lock not released after match: phase %s", snap.Phase)
	}

	mustFlip(t, s, b[0])
	snap = mustFlip(t, s, b[1])
	if !snap.Completed || snap.Phase != PhaseCompleted || snap.TimedOut {
		t.Fatalf("round not completed by matching: %+v", snap)
	}
	// 20 from matches plus 30/2 time bonus.
	if snap.Score != 35 || snap.Moves != 2 {
		t.Fatalf("score=%d moves=%d, want 35 and 2", snap.Score, snap.Moves)
	}

	s.WaitSubmissions()
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("submissions = %d, want 1", len(got))
	}
	if got[0].UserID != "u1" || got[0].Category != "easy" || got[0].Score != 35 || got[0].PuzzleID != 1 {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}

func TestMismatchLocksUntilReversal(t *testing.T) {
	s, clock, _ := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	a := indicesOf(snap.Cards, 1)
	b := indicesOf(snap.Cards, 2)

	mustFlip(t, s, a[0])
	locked := mustFlip(t, s, b[0])
	if locked.Score != -2 || locked.Moves != 1 {
		t.Fatalf("score=%d moves=%d, want -2 and 1", locked.Score, locked.Moves)
	}
	if locked.Phase != PhaseEvaluatingPair {
		t.Fatalf("phase = %s, want evaluating", locked.Phase)
	}

	if again := mustFlip(t, s, a[1]); !reflect.DeepEqual(again, locked) {
		t.Fatalf("flip accepted during lock")
	}

	clock.Advance(499 * time.Millisecond)
	if snap, _ := s.Snapshot(context.Background()); snap.Phase != PhaseEvaluatingPair {
		t.Fatalf("lock released early: %s", snap.Phase)
	}

	clock.Advance(time.Millisecond)
	snap = waitFor(t, s, func(sn Snapshot) bool { return sn.Phase == PhaseAwaitingFirstPick })
	if snap.Cards[a[0]].Flipped || snap.Cards[b[0]].Flipped {
		t.Fatalf("mismatched cards not flipped back: %+v", snap.Cards)
	}
	if snap.Score != -2 {
		t.Fatalf("score = %d after reversal, want -2", snap.Score)
	}

	if next := mustFlip(t, s, a[1]); !next.Cards[a[1]].Flipped {
		t.Fatalf("flip rejected after lock release")
	}
}

func TestIgnoredFlips(t *testing.T) {
	padded := Puzzle{ID: 2, Difficulty: "easy", GridSize: 2, Faces: []CardFace{{ID: 1, Image: "cat.png"}}}

	t.Run("idle session", func(t *testing.T) {
		s, _, _ := newTestSession(t, Config{}, padded)
		before, _ := s.Snapshot(context.Background())
		if after := mustFlip(t, s, 0); !reflect.DeepEqual(before, after) {
			t.Fatalf("idle flip changed state")
		}
	})

	s, _, _ := newTestSession(t, Config{}, padded)
	snap := mustStart(t, s, 0)
	pair := indicesOf(snap.Cards, 1)
	empty := firstEmpty(snap.Cards)

	check := func(name string, index int) {
		t.Helper()
		before, _ := s.Snapshot(context.Background())
		after := mustFlip(t, s, index)
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: state changed:\nbefore %+v\nafter  %+v", name, before, after)
		}
	}

	check("negative index", -1)
	check("index past grid", 4)
	check("empty slot", empty)

	mustFlip(t, s, pair[0])
	check("already flipped", pair[0])

	mustFlip(t, s, pair[1])
	check("already matched", pair[1])
}

func TestCountdownCompletesRound(t *testing.T) {
	s, clock, sink := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	a := indicesOf(snap.Cards, 1)
	b := indicesOf(snap.Cards, 2)

	// One mismatch so the score is non-zero when time runs out.
	mustFlip(t, s, a[0])
	mustFlip(t, s, b[0])

	for want := 29; want >= 0; want-- {
		clock.Advance(time.Second)
		w := want
		waitFor(t, s, func(sn Snapshot) bool { return sn.RemainingSeconds == w })
	}

	snap = waitFor(t, s, func(sn Snapshot) bool { return sn.Completed })
	if !snap.TimedOut || snap.Phase != PhaseCompleted {
		t.Fatalf("expected timed-out completion: %+v", snap)
	}
	if snap.Score != -2 || snap.RemainingSeconds != 0 {
		t.Fatalf("score=%d remaining=%d, want -2 and 0", snap.Score, snap.RemainingSeconds)
	}

	clock.Advance(5 * time.Second)
	later, _ := s.Snapshot(context.Background())
	if later.RemainingSeconds != 0 {
		t.Fatalf("countdown kept running: %d", later.RemainingSeconds)
	}

	s.WaitSubmissions()
	if got := sink.all(); len(got) != 1 || !got[0].TimedOut || got[0].Score != -2 {
		t.Fatalf("submissions = %+v, want one timed-out result", got)
	}
}

func TestRestartCancelsCountdown(t *testing.T) {
	s, clock, _ := newTestSession(t, Config{}, twoPairPuzzle())
	mustStart(t, s, 0)

	clock.Advance(time.Second)
	waitFor(t, s, func(sn Snapshot) bool { return sn.RemainingSeconds == 29 })

	snap := mustStart(t, s, 0)
	if snap.RemainingSeconds != 30 || snap.Level != 2 || snap.Score != 0 || snap.Moves != 0 {
		t.Fatalf("restart did not reset round: %+v", snap)
	}

	clock.Advance(time.Second)
	snap = waitFor(t, s, func(sn Snapshot) bool { return sn.RemainingSeconds < 30 })
	if snap.RemainingSeconds != 29 {
		t.Fatalf("remaining = %d, want 29 (one countdown only)", snap.RemainingSeconds)
	}
}

func TestHint(t *testing.T) {
	s, _, sink := newTestSession(t, Config{}, twoPairPuzzle())
	mustStart(t, s, 0)

	snap, err := s.Hint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	matched := 0
	for _, c := range snap.Cards {
		if c.Matched {
			if !c.Flipped {
				t.Fatalf("hinted card not flipped: %+v", c)
			}
			matched++
		}
	}
	if matched != 2 || snap.HintsRemaining != 2 || snap.Moves != 0 || snap.Score != 0 {
		t.Fatalf("after first hint: matched=%d %+v", matched, snap)
	}

	snap, _ = s.Hint(context.Background())
	if !snap.Completed || snap.HintsRemaining != 1 {
		t.Fatalf("second hint should complete the round: %+v", snap)
	}
	if snap.Score != 15 {
		t.Fatalf("score = %d, want time bonus 15", snap.Score)
	}

	after, _ := s.Hint(context.Background())
	if !reflect.DeepEqual(snap, after) {
		t.Fatalf("hint after completion changed state")
	}

	s.WaitSubmissions()
	if n := len(sink.all()); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
}

func TestHintSkipsPendingPick(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	a := indicesOf(snap.Cards, 1)
	b := indicesOf(snap.Cards, 2)

	mustFlip(t, s, a[0])
	snap, _ = s.Hint(context.Background())
	if !snap.Cards[b[0]].Matched || !snap.Cards[b[1]].Matched {
		t.Fatalf("hint should reveal the untouched pair: %+v", snap.Cards)
	}
	if snap.Cards[a[1]].Flipped {
		t.Fatalf("hint touched the pending pick's partner")
	}
}

func TestHintNoOps(t *testing.T) {
	t.Run("no hints left", func(t *testing.T) {
		s, _, _ := newTestSession(t, Config{Hints: -1}, twoPairPuzzle())
		before := mustStart(t, s, 0)
		after, _ := s.Hint(context.Background())
		if !reflect.DeepEqual(before, after) || after.HintsRemaining != 0 {
			t.Fatalf("hint with zero budget changed state: %+v", after)
		}
	})

	t.Run("no valid pair", func(t *testing.T) {
		single := Puzzle{ID: 3, Difficulty: "hard", GridSize: 1, Faces: []CardFace{{ID: 1, Glyph: "a"}}}
		s, _, _ := newTestSession(t, Config{}, single)
		before := mustStart(t, s, 0)
		after, _ := s.Hint(context.Background())
		if !reflect.DeepEqual(before, after) || after.HintsRemaining != 3 {
			t.Fatalf("hint without a pair changed state: %+v", after)
		}
	})
}

func TestExtraTime(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())
	mustStart(t, s, 0)

	for i, want := range []int{45, 60, 75} {
		snap, err := s.AddExtraTime(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if snap.RemainingSeconds != want || snap.ExtraTimeRemaining != 2-i {
			t.Fatalf("use %d: remaining=%d uses=%d", i, snap.RemainingSeconds, snap.ExtraTimeRemaining)
		}
	}
	before, _ := s.Snapshot(context.Background())
	after, _ := s.AddExtraTime(context.Background())
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("extra time applied with no uses left")
	}
}

func TestExtraTimeDisabled(t *testing.T) {
	s, _, _ := newTestSession(t, Config{ExtraTimeUses: -1}, twoPairPuzzle())
	before := mustStart(t, s, 0)
	after, _ := s.AddExtraTime(context.Background())
	if after.RemainingSeconds != 30 || !reflect.DeepEqual(before, after) {
		t.Fatalf("extra time changed remaining: %+v", after)
	}
}

func TestDismissKeepsRoundFinished(t *testing.T) {
	s, _, sink := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	for _, id := range []int{1, 2} {
		idx := indicesOf(snap.Cards, id)
		mustFlip(t, s, idx[0])
		mustFlip(t, s, idx[1])
	}
	done, _ := s.Snapshot(context.Background())
	if !done.Completed {
		t.Fatalf("round not completed")
	}

	dismissed, err := s.Dismiss(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dismissed.Completed || dismissed.Score != done.Score || dismissed.Phase != PhaseCompleted {
		t.Fatalf("dismiss altered more than the flag: %+v", dismissed)
	}

	// A second dismiss and further play are no-ops.
	again, _ := s.Dismiss(context.Background())
	if !reflect.DeepEqual(again, dismissed) {
		t.Fatalf("second dismiss changed state")
	}
	s.WaitSubmissions()
	if n := len(sink.all()); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
}

func TestSinkFailureIsAbsorbed(t *testing.T) {
	s, _, sink := newTestSession(t, Config{}, twoPairPuzzle(), twoPairPuzzle())
	sink.err = errors.New("backend down")

	snap := mustStart(t, s, 0)
	for _, id := range []int{1, 2} {
		idx := indicesOf(snap.Cards, id)
		mustFlip(t, s, idx[0])
		mustFlip(t, s, idx[1])
	}
	s.WaitSubmissions()

	next, err := s.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("next round after failed submit: %v", err)
	}
	if next.Level != 2 || next.Round != 1 || next.Completed {
		t.Fatalf("unexpected next round: %+v", next)
	}
}

func TestSubscribeDeliversOrderedSnapshots(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())
	ch, cancel, err := s.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	initial := <-ch
	if initial.Phase != PhaseIdle {
		t.Fatalf("initial phase = %s", initial.Phase)
	}

	snap := mustStart(t, s, 0)
	a := indicesOf(snap.Cards, 1)
	mustFlip(t, s, a[0])
	mustFlip(t, s, a[1])
	s.Hint(context.Background())

	last := initial.Seq
	for i := 0; i < 4; i++ {
		select {
		case sn := <-ch:
			if sn.Seq != last+1 {
				t.Fatalf("seq %d after %d", sn.Seq, last)
			}
			last = sn.Seq
		case <-time.After(time.Second):
			t.Fatalf("missing snapshot %d", i)
		}
	}
}

func TestClose(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())
	mustStart(t, s, 0)
	ch, _, err := s.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	<-ch

	s.Close()
	if _, err := s.Flip(context.Background(), 0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("subscription still open after Close")
	}
}

func TestTimeoutDuringMismatchLock(t *testing.T) {
	s, clock, sink := newTestSession(t, Config{Countdown: 2 * time.Second, MismatchDelay: 10 * time.Second}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	a := indicesOf(snap.Cards, 1)
	b := indicesOf(snap.Cards, 2)

	mustFlip(t, s, a[0])
	if locked := mustFlip(t, s, b[0]); locked.Phase != PhaseEvaluatingPair {
		t.Fatalf("phase = %s, want evaluating", locked.Phase)
	}

	clock.Advance(time.Second)
	waitFor(t, s, func(sn Snapshot) bool { return sn.RemainingSeconds == 1 })
	clock.Advance(time.Second)
	snap = waitFor(t, s, func(sn Snapshot) bool { return sn.Completed })
	if !snap.TimedOut || snap.Score != -2 || snap.Phase != PhaseCompleted {
		t.Fatalf("expected timed-out completion during lock: %+v", snap)
	}

	// The pending reversal still turns the pair face down, but the round
	// stays completed and nothing is submitted twice.
	clock.Advance(8 * time.Second)
	snap = waitFor(t, s, func(sn Snapshot) bool { return !sn.Cards[a[0]].Flipped && !sn.Cards[b[0]].Flipped })
	if snap.Phase != PhaseCompleted || !snap.Completed || snap.Score != -2 {
		t.Fatalf("reversal disturbed the finished round: %+v", snap)
	}

	s.WaitSubmissions()
	if got := sink.all(); len(got) != 1 || !got[0].TimedOut {
		t.Fatalf("submissions = %+v, want one timed-out result", got)
	}

	next := mustStart(t, s, 0)
	if next.Phase != PhaseAwaitingFirstPick || next.Completed || next.Score != 0 || next.RemainingSeconds != 2 {
		t.Fatalf("restart after timeout: %+v", next)
	}
}

func TestMismatchPenaltyDisabled(t *testing.T) {
	s, _, _ := newTestSession(t, Config{MismatchPenalty: -1}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	mustFlip(t, s, indicesOf(snap.Cards, 1)[0])
	if locked := mustFlip(t, s, indicesOf(snap.Cards, 2)[0]); locked.Score != 0 || locked.Moves != 1 {
		t.Fatalf("score=%d moves=%d, want 0 and 1", locked.Score, locked.Moves)
	}
}

func TestQueuedOpSurvivesCancelledContext(t *testing.T) {
	s, _, _ := newTestSession(t, Config{}, twoPairPuzzle())
	snap := mustStart(t, s, 0)
	target := indicesOf(snap.Cards, 1)[0]

	running, release := make(chan struct{}), make(chan struct{})
	s.post(func() {
		close(running)
		<-release
	})
	<-running

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		snap Snapshot
		err  error
	}
	out := make(chan result, 1)
	go func() {
		sn, err := s.Flip(ctx, target)
		out <- result{sn, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.ops) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("flip never queued")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)

	r := <-out
	if r.err != nil {
		t.Fatalf("Flip returned %v for an applied flip", r.err)
	}
	if !r.snap.Cards[target].Flipped || r.snap.Phase != PhaseAwaitingSecondPick {
		t.Fatalf("flip result not returned: %+v", r.snap)
	}
}
