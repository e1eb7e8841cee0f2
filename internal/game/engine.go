// internal/game/engine.go
//
// Pure grid logic for a single FlipMatch round.
// Responsibilities:
//   - Build a shuffled N×N grid from a puzzle's faces (pairs + empty padding).
//   - Pick a remaining valid pair for a hint.
//   - Detect when every playable card is matched.
//
// Notes:
//   - Nothing here touches session state; Session calls these from its loop.
//   - Randomness is injected so tests can pin the shuffle.

package game

import (
	"math/rand/v2"
	"sort"
)

// buildGrid lays out a round's cards.
//
// Steps:
//   - Duplicate every face into two playable cards.
//   - Shuffle, then truncate to N² when there are more cards than cells.
//   - Pad with empty slots when there are fewer.
//   - Shuffle again so padding is spread over the grid.
//
// Truncation can leave an unpaired card on the grid; such a round can only
// end by the countdown.
func buildGrid(p Puzzle, rng *rand.Rand) []Card {
	cells := p.Cells()
	cards := make([]Card, 0, 2*len(p.Faces))
	for _, f := range p.Faces {
		face := playable(f)
		cards = append(cards, Card{Face: face}, Card{Face: face})
	}
	rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })

	if len(cards) > cells {
		cards = cards[:cells]
	}
	for len(cards) < cells {
		cards = append(cards, Card{Face: emptySlot()})
	}
	rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	return cards
}

// pickHintPair returns the indices of a random pair whose cards are both
// face down and unmatched. ok is false when no such pair exists.
func pickHintPair(cards []Card, rng *rand.Rand) (a, b int, ok bool) {
	groups := make(map[int][]int)
	for i, c := range cards {
		if c.Empty() || c.Flipped || c.Matched {
			continue
		}
		groups[c.Face.ID] = append(groups[c.Face.ID], i)
	}

	// Sorted IDs keep the choice reproducible for a seeded rng.
	var ids []int
	for id, idx := range groups {
		if len(idx) == 2 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, 0, false
	}
	sort.Ints(ids)
	pair := groups[ids[rng.IntN(len(ids))]]
	return pair[0], pair[1], true
}

// allMatched returns true if every playable card is matched.
func allMatched(cards []Card) bool {
	for _, c := range cards {
		if !c.Empty() && !c.Matched {
			return false
		}
	}
	return true
}
