// internal/game/types.go
//
// Core type definitions for the FlipMatch game engine.
// Defines:
//   - CardFace / Puzzle: catalog records consumed from a PuzzleSource.
//   - Face / Card: one placed card on the grid (playable face or empty slot).
//   - Phase: the session state machine.
//   - Snapshot: immutable view of a session emitted after every mutation.
//   - RoundResult: what a ScoreSink receives when a round completes.

package game

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoMorePuzzles is returned by Session.Start when the requested round
	// index is outside the catalog. Callers should stop advancing rounds.
	ErrNoMorePuzzles = errors.New("no more puzzles")

	// ErrSessionClosed is returned by every Session method after Close.
	ErrSessionClosed = errors.New("session closed")
)

// CardFace is a catalog card definition. Two cards on the grid share an ID
// when they form a pair. Exactly one of Image or Glyph is set.
type CardFace struct {
	ID    int
	Image string
	Glyph string
}

// Validate enforces the image XOR glyph rule.
func (f CardFace) Validate() error {
	if (f.Image == "") == (f.Glyph == "") {
		return fmt.Errorf("card %d: exactly one of image or glyph must be set", f.ID)
	}
	return nil
}

// Puzzle is one catalog entry. The grid is GridSize x GridSize.
type Puzzle struct {
	ID         int
	Difficulty string
	GridSize   int
	Faces      []CardFace
}

// Cells returns the number of grid cells (GridSize²).
func (p Puzzle) Cells() int { return p.GridSize * p.GridSize }

// Validate checks grid size, face content and face ID uniqueness.
func (p Puzzle) Validate() error {
	if p.GridSize < 1 {
		return fmt.Errorf("puzzle %d: grid size must be >= 1, got %d", p.ID, p.GridSize)
	}
	if len(p.Faces) == 0 {
		return fmt.Errorf("puzzle %d: no card faces", p.ID)
	}
	seen := make(map[int]struct{}, len(p.Faces))
	for _, f := range p.Faces {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("puzzle %d: %w", p.ID, err)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("puzzle %d: duplicate card id %d", p.ID, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// FaceKind tags a Face as playable or as grid padding.
type FaceKind int

const (
	FacePlayable FaceKind = iota
	FaceEmpty
)

func (k FaceKind) String() string {
	if k == FaceEmpty {
		return "empty"
	}
	return "playable"
}

// Face is the content placed in a grid cell. Empty faces carry no ID,
// image or glyph and never match anything.
type Face struct {
	Kind  FaceKind
	ID    int
	Image string
	Glyph string
}

// playable wraps a catalog face.
func playable(f CardFace) Face {
	return Face{Kind: FacePlayable, ID: f.ID, Image: f.Image, Glyph: f.Glyph}
}

// emptySlot is the padding face.
func emptySlot() Face { return Face{Kind: FaceEmpty} }

// Card is one placed card on the grid.
type Card struct {
	Face    Face
	Flipped bool
	Matched bool
}

// Empty reports whether the card is grid padding.
func (c Card) Empty() bool { return c.Face.Kind == FaceEmpty }

// pairsWith reports whether two cards form a pair.
func (c Card) pairsWith(o Card) bool {
	return !c.Empty() && !o.Empty() && c.Face.ID == o.Face.ID
}

// Phase is the session state.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseAwaitingFirstPick  Phase = "awaiting_first_pick"
	PhaseAwaitingSecondPick Phase = "awaiting_second_pick"
	PhaseEvaluatingPair     Phase = "evaluating_pair"
	PhaseCompleted          Phase = "completed"
)

// Snapshot is an immutable copy of a session's state. Seq increases by one
// for every emitted snapshot, so consumers can verify ordering.
type Snapshot struct {
	SessionID          string
	Seq                uint64
	Phase              Phase
	Cards              []Card
	Completed          bool
	TimedOut           bool
	Moves              int
	Score              int
	RemainingSeconds   int
	HintsRemaining     int
	ExtraTimeRemaining int
	Level              int
	Round              int
	PuzzleID           int
	Category           string
}

// RoundResult is submitted to a ScoreSink exactly once per completed round.
type RoundResult struct {
	SessionID  string
	UserID     string
	PuzzleID   int
	Category   string
	Score      int
	Moves      int
	Level      int
	TimedOut   bool
	FinishedAt time.Time
}

// PuzzleSource returns the ordered puzzle catalog. It must be stable for
// the lifetime of the process.
type PuzzleSource interface {
	Puzzles() []Puzzle
}

// ScoreSink persists a completed round. Failures are logged by the session
// and never retried.
type ScoreSink interface {
	Submit(ctx context.Context, r RoundResult) error
}

// ScoreSinkFunc adapts a function to ScoreSink.
type ScoreSinkFunc func(ctx context.Context, r RoundResult) error

func (f ScoreSinkFunc) Submit(ctx context.Context, r RoundResult) error { return f(ctx, r) }

// Config holds the scoring and timing constants of a round.
type Config struct {
	Countdown       time.Duration // initial remaining time
	MismatchDelay   time.Duration // how long a mismatched pair stays face up
	MatchPoints     int           // added on a match
	MismatchPenalty int           // subtracted on a mismatch
	Hints           int           // hints per round
	ExtraTimeUses   int           // extra-time uses per round
	ExtraTime       time.Duration // added per extra-time use
	BonusDivisor    int           // completion bonus = remaining seconds / divisor
	SubmitTimeout   time.Duration // bound on a single ScoreSink call
}

// DefaultConfig returns the standard round constants.
func DefaultConfig() Config {
	return Config{
		Countdown:       30 * time.Second,
		MismatchDelay:   500 * time.Millisecond,
		MatchPoints:     10,
		MismatchPenalty: 2,
		Hints:           3,
		ExtraTimeUses:   3,
		ExtraTime:       15 * time.Second,
		BonusDivisor:    2,
		SubmitTimeout:   5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. A negative Hints or
// ExtraTimeUses disables that power-up, and a negative MismatchPenalty
// disables the penalty. Load maps an explicit 0 in the environment to -1.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Countdown <= 0 {
		c.Countdown = d.Countdown
	}
	if c.MismatchDelay <= 0 {
		c.MismatchDelay = d.MismatchDelay
	}
	if c.MatchPoints == 0 {
		c.MatchPoints = d.MatchPoints
	}
	if c.MismatchPenalty == 0 {
		c.MismatchPenalty = d.MismatchPenalty
	}
	if c.Hints == 0 {
		c.Hints = d.Hints
	}
	if c.ExtraTimeUses == 0 {
		c.ExtraTimeUses = d.ExtraTimeUses
	}
	if c.ExtraTime <= 0 {
		c.ExtraTime = d.ExtraTime
	}
	if c.BonusDivisor <= 0 {
		c.BonusDivisor = d.BonusDivisor
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	return c
}
