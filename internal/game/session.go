// internal/game/session.go
//
// Session runs one player's FlipMatch rounds.
// Responsibilities:
//   - Own the grid, selection, counters and countdown of the active round.
//   - Serialize every mutation on a single operation queue (actor loop).
//   - Evaluate pairs, run the mismatch reversal and the countdown as timers
//     whose callbacks are queued back onto the same loop.
//   - Detect completion, add the time bonus and hand the result to the
//     ScoreSink exactly once per round.
//   - Publish an ordered stream of snapshots to subscribers.
//
// Invalid inputs (bad index, locked grid, exhausted power-ups, finished
// round) are ignored: the returned snapshot is unchanged and no new Seq is
// emitted. Only Start can fail, with ErrNoMorePuzzles.

package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	opQueueSize  = 64
	subQueueSize = 64
)

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Config Config
	Clock  clockwork.Clock
	Rand   *rand.Rand
	Logger *zerolog.Logger
}

// selection holds the pending picks of the current attempt.
type selection struct {
	picks [2]int
	n     int
}

func (s *selection) add(i int) { s.picks[s.n] = i; s.n++ }
func (s *selection) clear()    { s.n = 0 }

// Session is a single-owner game session. All exported methods are safe for
// concurrent use.
type Session struct {
	id     string
	userID string
	cfg    Config
	source PuzzleSource
	sink   ScoreSink
	clock  clockwork.Clock
	log    zerolog.Logger

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
	submits   sync.WaitGroup

	// Everything below is owned by the run loop.
	rng       *rand.Rand
	phase     Phase
	cards     []Card
	puzzle    Puzzle
	round     int
	level     int
	moves     int
	score     int
	remaining int
	hints     int
	extraUses int
	completed bool
	timedOut  bool
	sel       selection
	gen       uint64
	tick      clockwork.Timer
	seq       uint64
	subs      map[uint64]chan Snapshot
	nextSub   uint64
}

// NewSession creates an idle session and starts its loop. Call Start to
// load the first round and Close to release it.
func NewSession(id, userID string, source PuzzleSource, sink ScoreSink, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Session{
		id:     id,
		userID: userID,
		cfg:    opts.Config.withDefaults(),
		source: source,
		sink:   sink,
		clock:  clock,
		log:    logger.With().Str("session", id).Str("user", userID).Logger(),
		ops:    make(chan func(), opQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		rng:    rng,
		phase:  PhaseIdle,
		subs:   make(map[uint64]chan Snapshot),
	}
	s.touch()
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owner the session submits scores for.
func (s *Session) UserID() string { return s.userID }

// LastActive reports when a caller last invoked an operation.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Start loads the puzzle at index round and begins a fresh round.
// Any countdown from the previous round is cancelled.
func (s *Session) Start(ctx context.Context, round int) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.start(round) })
}

// Flip turns the card at index face up and evaluates the pair when it is
// the second pick.
func (s *Session) Flip(ctx context.Context, index int) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.flip(index), nil })
}

// Hint reveals and matches one remaining pair.
func (s *Session) Hint(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.hint(), nil })
}

// AddExtraTime extends the countdown.
func (s *Session) AddExtraTime(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.addExtraTime(), nil })
}

// Dismiss clears the completed flag after the player acknowledged it.
func (s *Session) Dismiss(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.dismiss(), nil })
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() (Snapshot, error) { return s.snapshot(), nil })
}

// Subscribe returns a channel that first receives the current state and
// then every emitted snapshot in order. A subscriber that falls behind is
// dropped and its channel closed. The returned func unsubscribes.
func (s *Session) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	var (
		id uint64
		ch chan Snapshot
	)
	_, err := s.do(ctx, func() (Snapshot, error) {
		id = s.nextSub
		s.nextSub++
		ch = make(chan Snapshot, subQueueSize)
		ch <- s.snapshot()
		s.subs[id] = ch
		return Snapshot{}, nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	cancel := func() {
		s.post(func() {
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// Close stops the loop and the countdown and closes all subscriptions.
// In-flight score submissions are left to finish on their own.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// WaitSubmissions blocks until every score submission started so far has
// returned.
func (s *Session) WaitSubmissions() { s.submits.Wait() }

// --------------------------------- loop -------------------------------------

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			s.stopCountdown()
			for id, ch := range s.subs {
				close(ch)
				delete(s.subs, id)
			}
			return
		}
	}
}

// do queues fn on the loop and waits for its result. ctx only bounds the
// wait for a queue slot: once queued, fn runs and its result is returned
// even if ctx is cancelled meanwhile.
func (s *Session) do(ctx context.Context, fn func() (Snapshot, error)) (Snapshot, error) {
	type result struct {
		snap Snapshot
		err  error
	}
	s.touch()
	ch := make(chan result, 1)
	op := func() {
		snap, err := fn()
		ch <- result{snap, err}
	}
	select {
	case <-s.quit:
		return Snapshot{}, ErrSessionClosed
	default:
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-ch:
		return r.snap, r.err
	case <-s.done:
		select {
		case r := <-ch:
			return r.snap, r.err
		default:
			return Snapshot{}, ErrSessionClosed
		}
	}
}

// post queues op without waiting. Used by timer callbacks.
func (s *Session) post(op func()) {
	select {
	case s.ops <- op:
	case <-s.done:
	}
}

func (s *Session) touch() { s.lastSeen.Store(s.clock.Now().UnixNano()) }

// ------------------------------ transitions ---------------------------------

func (s *Session) start(round int) (Snapshot, error) {
	list := s.source.Puzzles()
	if round < 0 || round >= len(list) {
		return s.snapshot(), ErrNoMorePuzzles
	}
	p := list[round]

	s.gen++
	s.stopCountdown()
	s.puzzle = p
	s.round = round
	s.level++
	s.cards = buildGrid(p, s.rng)
	s.moves, s.score = 0, 0
	s.remaining = int(s.cfg.Countdown / time.Second)
	s.hints = max(s.cfg.Hints, 0)
	s.extraUses = max(s.cfg.ExtraTimeUses, 0)
	s.completed, s.timedOut = false, false
	s.sel.clear()
	s.phase = PhaseAwaitingFirstPick
	s.scheduleTick()

	s.log.Debug().Int("round", round).Int("puzzle", p.ID).Int("level", s.level).Msg("round started")
	return s.emit(), nil
}

func (s *Session) flip(i int) Snapshot {
	if s.phase != PhaseAwaitingFirstPick && s.phase != PhaseAwaitingSecondPick {
		return s.snapshot()
	}
	if i < 0 || i >= len(s.cards) {
		return s.snapshot()
	}
	c := &s.cards[i]
	if c.Empty() || c.Flipped || c.Matched {
		return s.snapshot()
	}
	c.Flipped = true
	s.sel.add(i)
	if s.sel.n == 1 {
		s.phase = PhaseAwaitingSecondPick
		return s.emit()
	}
	s.moves++
	s.evaluate()
	return s.emit()
}

// evaluate resolves the two pending picks. A match is settled immediately;
// a mismatch keeps the grid locked until the reversal timer fires.
func (s *Session) evaluate() {
	a, b := s.sel.picks[0], s.sel.picks[1]
	s.phase = PhaseEvaluatingPair

	if s.cards[a].pairsWith(s.cards[b]) {
		s.cards[a].Matched = true
		s.cards[b].Matched = true
		s.score += s.cfg.MatchPoints
		s.sel.clear()
		s.phase = PhaseAwaitingFirstPick
		s.checkCompletion()
		return
	}

	s.score -= max(s.cfg.MismatchPenalty, 0)
	gen := s.gen
	s.clock.AfterFunc(s.cfg.MismatchDelay, func() {
		s.post(func() { s.flipBack(gen, a, b) })
	})
}

// flipBack turns a mismatched pair face down and releases the lock.
// Callbacks from an earlier round are ignored.
func (s *Session) flipBack(gen uint64, a, b int) {
	if gen != s.gen {
		return
	}
	s.cards[a].Flipped = false
	s.cards[b].Flipped = false
	s.sel.clear()
	if s.phase == PhaseEvaluatingPair {
		s.phase = PhaseAwaitingFirstPick
	}
	s.emit()
}

func (s *Session) hint() Snapshot {
	if !s.playing() || s.hints <= 0 {
		return s.snapshot()
	}
	a, b, ok := pickHintPair(s.cards, s.rng)
	if !ok {
		return s.snapshot()
	}
	for _, i := range []int{a, b} {
		s.cards[i].Flipped = true
		s.cards[i].Matched = true
	}
	s.hints--
	s.checkCompletion()
	return s.emit()
}

func (s *Session) addExtraTime() Snapshot {
	if !s.playing() || s.extraUses <= 0 {
		return s.snapshot()
	}
	s.remaining += int(s.cfg.ExtraTime / time.Second)
	s.extraUses--
	return s.emit()
}

func (s *Session) dismiss() Snapshot {
	if !s.completed {
		return s.snapshot()
	}
	s.completed = false
	return s.emit()
}

func (s *Session) playing() bool {
	switch s.phase {
	case PhaseAwaitingFirstPick, PhaseAwaitingSecondPick, PhaseEvaluatingPair:
		return true
	}
	return false
}

// ------------------------------- completion ---------------------------------

func (s *Session) checkCompletion() {
	if s.phase == PhaseCompleted || !allMatched(s.cards) {
		return
	}
	s.complete(false)
}

// complete ends the round: time bonus, countdown stop, one submission.
func (s *Session) complete(timedOut bool) {
	if s.remaining > 0 {
		s.score += s.remaining / s.cfg.BonusDivisor
	}
	s.stopCountdown()
	s.completed = true
	s.timedOut = timedOut
	s.phase = PhaseCompleted

	s.log.Info().
		Int("puzzle", s.puzzle.ID).
		Int("score", s.score).
		Int("moves", s.moves).
		Bool("timedOut", timedOut).
		Msg("round completed")
	s.submit(RoundResult{
		SessionID:  s.id,
		UserID:     s.userID,
		PuzzleID:   s.puzzle.ID,
		Category:   s.puzzle.Difficulty,
		Score:      s.score,
		Moves:      s.moves,
		Level:      s.level,
		TimedOut:   timedOut,
		FinishedAt: s.clock.Now().UTC(),
	})
}

// submit hands the result to the sink without blocking the loop.
func (s *Session) submit(r RoundResult) {
	if s.sink == nil {
		return
	}
	s.submits.Add(1)
	go func() {
		defer s.submits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
		defer cancel()
		if err := s.sink.Submit(ctx, r); err != nil {
			s.log.Warn().Err(err).Str("category", r.Category).Int("score", r.Score).Msg("submit score")
		}
	}()
}

// -------------------------------- countdown ---------------------------------

func (s *Session) scheduleTick() {
	gen := s.gen
	s.tick = s.clock.AfterFunc(time.Second, func() {
		s.post(func() { s.onTick(gen) })
	})
}

func (s *Session) onTick(gen uint64) {
	if gen != s.gen || s.phase == PhaseCompleted {
		return
	}
	s.remaining--
	if s.remaining <= 0 {
		s.remaining = 0
		s.tick = nil
		s.complete(true)
	} else {
		s.scheduleTick()
	}
	s.emit()
}

func (s *Session) stopCountdown() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
}

// -------------------------------- snapshots ---------------------------------

func (s *Session) snapshot() Snapshot {
	var cards []Card
	if s.cards != nil {
		cards = make([]Card, len(s.cards))
		copy(cards, s.cards)
	}
	return Snapshot{
		SessionID:          s.id,
		Seq:                s.seq,
		Phase:              s.phase,
		Cards:              cards,
		Completed:          s.completed,
		TimedOut:           s.timedOut,
		Moves:              s.moves,
		Score:              s.score,
		RemainingSeconds:   s.remaining,
		HintsRemaining:     s.hints,
		ExtraTimeRemaining: s.extraUses,
		Level:              s.level,
		Round:              s.round,
		PuzzleID:           s.puzzle.ID,
		Category:           s.puzzle.Difficulty,
	}
}

// emit bumps Seq and fans the new snapshot out to subscribers.
func (s *Session) emit() Snapshot {
	s.seq++
	snap := s.snapshot()
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.log.Warn().Uint64("subscriber", id).Msg("subscriber too slow, dropping")
			close(ch)
			delete(s.subs, id)
		}
	}
	return snap
}
