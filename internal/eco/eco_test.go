package eco_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/graph"
)

func writeTSV(t *testing.T, dir string) {
	t.Helper()
	content := "eco\tname\tpgn\n" +
		"B00\tKing's Pawn Game\t1. e4\n" +
		"C20\tKing's Pawn Game\t1. e4 e5\n" +
		"B20\tSicilian Defense\t1. e4 c5\n"
	if err := os.WriteFile(filepath.Join(dir, "openings.tsv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write tsv: %v", err)
	}
}

func keyAfter(t *testing.T, sans ...string) graph.PositionKey {
	t.Helper()
	pos := pgn.NewStartingPosition()
	for _, san := range sans {
		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			t.Fatalf("ParseSAN %s: %v", san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			t.Fatalf("ApplyMove %s: %v", san, err)
		}
	}
	return graph.Normalize(pos.ToFEN())
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeTSV(t, dir)

	db := eco.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if db.Count() != 3 {
		t.Errorf("expected 3 openings, got %d", db.Count())
	}

	o := db.Lookup(keyAfter(t, "e4"))
	if o == nil || o.ECO != "B00" {
		t.Errorf("after 1. e4: %+v", o)
	}
	if o := db.Lookup(graph.StartingKey); o != nil {
		t.Errorf("starting position should not be an opening: %+v", o)
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	writeTSV(t, dir)
	db := eco.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	// Deepest match wins: 1. e4 e5 classifies as C20, not B00.
	positions := []graph.PositionKey{
		keyAfter(t, "e4"),
		keyAfter(t, "e4", "e5"),
	}
	if o := db.Classify(positions); o.ECO != "C20" {
		t.Errorf("deepest match: got %s", o.ECO)
	}

	// Unmatched games fall back to Unknown with an empty code.
	o := db.Classify([]graph.PositionKey{keyAfter(t, "d4"), keyAfter(t, "d4", "d5")})
	if o.ECO != "" || o.Name != "Unknown" {
		t.Errorf("fallback: %+v", o)
	}
	if o := db.Classify(nil); o != eco.Unknown {
		t.Errorf("empty positions: %+v", o)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	db := eco.NewDatabase()
	if err := db.LoadDir(t.TempDir()); err == nil {
		t.Error("expected error for directory with no .tsv files")
	}
}
