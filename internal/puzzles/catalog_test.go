package puzzles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load embedded: %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("embedded catalog is empty")
	}
	first := c.Puzzles()[0]
	if first.GridSize != 2 || len(first.Faces) != 2 || first.Faces[0].Glyph == "" {
		t.Fatalf("unexpected first puzzle: %+v", first)
	}
	sums := c.Summaries()
	if len(sums) != c.Len() || sums[0].Round != 0 || sums[0].Pairs != 2 {
		t.Fatalf("unexpected summaries: %+v", sums)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
- id: 10
  difficulty: medium
  gridSize: 2
  images:
    - id: 1
      image: sun.png
    - id: 2
      emoji: "🌙"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	p := c.Puzzles()[0]
	if p.ID != 10 || p.Difficulty != "medium" || p.Faces[0].Image != "sun.png" || p.Faces[1].Glyph != "🌙" {
		t.Fatalf("unexpected puzzle: %+v", p)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
	}{
		{"malformed json", "bad.json", `[{"id": 1,`},
		{"zero grid", "zero.json", `[{"id":1,"difficulty":"easy","gridSize":0,"images":[{"id":1,"emoji":"a"}]}]`},
		{"card without content", "blank.json", `[{"id":1,"difficulty":"easy","gridSize":2,"images":[{"id":1}]}]`},
		{"card with both", "both.json", `[{"id":1,"difficulty":"easy","gridSize":2,"images":[{"id":1,"emoji":"a","image":"a.png"}]}]`},
		{"unknown extension", "catalog.toml", `x = 1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tc.file, tc.body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadEmptyCatalog(t *testing.T) {
	_, err := Load(writeFile(t, "empty.json", `[]`))
	if !errors.Is(err, ErrEmptyCatalog) {
		t.Fatalf("err = %v, want ErrEmptyCatalog", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
