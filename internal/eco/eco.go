// Package eco provides ECO (Encyclopedia of Chess Openings) lookup keyed by
// normalized position.
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/scoutbook/internal/graph"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Unknown is the fallback classification when no position in a game's
// opening matches the reference index.
var Unknown = Opening{ECO: "", Name: "Unknown"}

// Database holds ECO opening data indexed by position key.
type Database struct {
	byPosition map[graph.PositionKey]Opening
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[graph.PositionKey]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file (eco \t name \t pgn).
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		key, err := finalPosition(parts[2])
		if err != nil {
			// Skip invalid lines silently
			continue
		}
		db.Add(key, Opening{ECO: parts[0], Name: parts[1]})
	}

	return scanner.Err()
}

// Add registers an opening for a position key.
func (db *Database) Add(key graph.PositionKey, o Opening) {
	if _, exists := db.byPosition[key]; !exists {
		db.count++
	}
	db.byPosition[key] = o
}

// finalPosition parses PGN moves like "1. e4 e5 2. Nf3" and returns the
// normalized key of the resulting position.
func finalPosition(pgnMoves string) (graph.PositionKey, error) {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	moves := strings.Fields(cleaned)

	pos := pgn.NewStartingPosition()
	for _, san := range moves {
		if san == "" || san[0] == '$' || san[0] == '{' {
			continue
		}
		san = strings.TrimSuffix(san, "+")
		san = strings.TrimSuffix(san, "#")

		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return "", fmt.Errorf("parse %q: %w", san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return "", fmt.Errorf("apply %q: %w", san, err)
		}
	}
	return graph.Normalize(pos.ToFEN()), nil
}

// Lookup returns the ECO opening for a position, or nil if not found.
func (db *Database) Lookup(key graph.PositionKey) *Opening {
	if o, ok := db.byPosition[key]; ok {
		return &o
	}
	return nil
}

// Classify walks a game's opening positions from deepest to shallowest and
// returns the longest matching opening. Games with no match classify as
// Unknown with an empty code.
func (db *Database) Classify(positions []graph.PositionKey) Opening {
	for i := len(positions) - 1; i >= 0; i-- {
		if o, ok := db.byPosition[positions[i]]; ok {
			return o
		}
	}
	return Unknown
}

// Count returns the number of openings loaded.
func (db *Database) Count() int {
	return db.count
}
