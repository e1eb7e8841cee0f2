// internal/puzzles/catalog.go
//
// Puzzle catalog management for the game engine.
//
// Responsibilities:
//   - Load the catalog from PUZZLES_FILE (JSON or YAML) or fall back to the
//     embedded default in the assets package.
//   - Validate every puzzle before the server starts.
//   - Serve the catalog to game sessions through game.PuzzleSource.
//
// File format (JSON shown; YAML uses the same keys):
//
//	[
//	  {"id": 1, "difficulty": "easy", "gridSize": 2,
//	   "images": [{"id": 1, "emoji": "🐶"}, {"id": 2, "image": "cat.png"}]}
//	]
//
// The catalog is immutable once loaded.

package puzzles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/flipmatch/go-server/assets"
	"github.com/flipmatch/go-server/internal/game"
)

// ErrEmptyCatalog is returned when a catalog file holds no puzzles.
var ErrEmptyCatalog = errors.New("puzzles: catalog is empty")

// cardRecord is one entry of a puzzle's "images" list.
type cardRecord struct {
	ID    int    `json:"id" yaml:"id"`
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
	Emoji string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
}

// puzzleRecord is one catalog entry as stored on disk.
type puzzleRecord struct {
	ID         int          `json:"id" yaml:"id"`
	Difficulty string       `json:"difficulty" yaml:"difficulty"`
	GridSize   int          `json:"gridSize" yaml:"gridSize"`
	Images     []cardRecord `json:"images" yaml:"images"`
}

// Summary is the public description of a puzzle (no card faces).
type Summary struct {
	Round      int    `json:"round"`
	ID         int    `json:"id"`
	Difficulty string `json:"difficulty"`
	GridSize   int    `json:"gridSize"`
	Pairs      int    `json:"pairs"`
}

// Catalog is an ordered, validated list of puzzles.
type Catalog struct {
	puzzles []game.Puzzle
}

// New validates puzzles and wraps them in a Catalog.
func New(puzzles []game.Puzzle) (*Catalog, error) {
	if len(puzzles) == 0 {
		return nil, ErrEmptyCatalog
	}
	for _, p := range puzzles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		warnLayout(p)
	}
	return &Catalog{puzzles: append([]game.Puzzle(nil), puzzles...)}, nil
}

// Load reads the catalog at path, or the embedded default when path is "".
func Load(path string) (*Catalog, error) {
	var (
		recs []puzzleRecord
		err  error
	)
	if path == "" {
		recs, err = decode(assets.PuzzlesJSON(), ".json")
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		recs, err = decode(data, strings.ToLower(filepath.Ext(path)))
	}
	if err != nil {
		return nil, err
	}

	out := make([]game.Puzzle, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toPuzzle())
	}
	c, err := New(out)
	if err != nil {
		return nil, err
	}
	src := path
	if src == "" {
		src = "embedded"
	}
	log.Info().Str("source", src).Int("puzzles", len(out)).Msg("puzzle catalog loaded")
	return c, nil
}

// decode parses a catalog by file extension.
func decode(data []byte, ext string) ([]puzzleRecord, error) {
	var recs []puzzleRecord
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode yaml catalog: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode json catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("puzzles: unsupported catalog format %q", ext)
	}
	return recs, nil
}

func (r puzzleRecord) toPuzzle() game.Puzzle {
	p := game.Puzzle{ID: r.ID, Difficulty: r.Difficulty, GridSize: r.GridSize}
	for _, c := range r.Images {
		p.Faces = append(p.Faces, game.CardFace{ID: c.ID, Image: c.Image, Glyph: c.Emoji})
	}
	return p
}

// warnLayout logs puzzles that cannot be cleared by matching alone.
func warnLayout(p game.Puzzle) {
	cards := 2 * len(p.Faces)
	switch {
	case cards > p.Cells():
		log.Warn().Int("puzzle", p.ID).Int("cards", cards).Int("cells", p.Cells()).
			Msg("more cards than cells; some faces will be dropped and the round may only end by timeout")
	case p.Cells()-cards > 0:
		log.Debug().Int("puzzle", p.ID).Int("empty", p.Cells()-cards).Msg("grid padded with empty slots")
	}
}

// Puzzles implements game.PuzzleSource.
func (c *Catalog) Puzzles() []game.Puzzle { return c.puzzles }

// Len returns the number of puzzles.
func (c *Catalog) Len() int { return len(c.puzzles) }

// Summaries lists the catalog without revealing card faces.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, len(c.puzzles))
	for i, p := range c.puzzles {
		out[i] = Summary{Round: i, ID: p.ID, Difficulty: p.Difficulty, GridSize: p.GridSize, Pairs: len(p.Faces)}
	}
	return out
}
