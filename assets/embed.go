// assets/embed.go
//
// Embedded default puzzle catalog. Used when PUZZLES_FILE is not set.

package assets

import (
	_ "embed"
)

//go:embed puzzles.json
var puzzlesJSON []byte

// PuzzlesJSON returns a copy of the embedded catalog.
func PuzzlesJSON() []byte {
	out := make([]byte, len(puzzlesJSON))
	copy(out, puzzlesJSON)
	return out
}
