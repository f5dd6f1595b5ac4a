package source

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PlayerInfo is one side's identity and rating at time of play.
type PlayerInfo struct {
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating int `json:"rating"`
}

// GameRecord is one game as delivered by the remote history export:
// one JSON record per line.
type GameRecord struct {
	ID         string `json:"id"`
	Rated      bool   `json:"rated"`
	Speed      string `json:"speed"`
	Status     string `json:"status"`
	Winner     string `json:"winner"` // "white", "black", or empty for a draw
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	Moves      string `json:"moves"`
	PGN        string `json:"pgn,omitempty"`
	Players    struct {
		White PlayerInfo `json:"white"`
		Black PlayerInfo `json:"black"`
	} `json:"players"`
}

// White returns the white player's name.
func (g *GameRecord) White() string { return g.Players.White.User.Name }

// Black returns the black player's name.
func (g *GameRecord) Black() string { return g.Players.Black.User.Name }

// ParseGame parses one NDJSON line into a GameRecord, filling gaps from
// embedded PGN metadata when the structured fields are absent.
func ParseGame(line []byte) (*GameRecord, error) {
	var g GameRecord
	if err := json.Unmarshal(line, &g); err != nil {
		return nil, fmt.Errorf("parse game record: %w", err)
	}
	g.fillFromPGN()
	if g.ID == "" {
		return nil, fmt.Errorf("game record missing id")
	}
	return &g, nil
}

var pgnTagRegex = regexp.MustCompile(`\[(\w+)\s+"([^"]*)"\]`)

// fillFromPGN backfills fields from PGN tag pairs and movetext when the
// transport did not provide them structurally.
func (g *GameRecord) fillFromPGN() {
	if g.PGN == "" {
		return
	}
	tags := make(map[string]string)
	for _, m := range pgnTagRegex.FindAllStringSubmatch(g.PGN, -1) {
		tags[m[1]] = m[2]
	}

	if g.Players.White.User.Name == "" {
		g.Players.White.User.Name = tags["White"]
	}
	if g.Players.Black.User.Name == "" {
		g.Players.Black.User.Name = tags["Black"]
	}
	if g.Players.White.Rating == 0 {
		g.Players.White.Rating = parseRating(tags["WhiteElo"])
	}
	if g.Players.Black.Rating == 0 {
		g.Players.Black.Rating = parseRating(tags["BlackElo"])
	}
	if g.Winner == "" {
		switch tags["Result"] {
		case "1-0":
			g.Winner = "white"
		case "0-1":
			g.Winner = "black"
		}
	}
	if g.Speed == "" {
		g.Speed = strings.ToLower(tags["Speed"])
	}
	if g.Moves == "" {
		g.Moves = movetext(g.PGN)
	}
}

// movetext strips tag pairs and surrounding whitespace from a PGN document,
// leaving the move section.
func movetext(pgnText string) string {
	lines := strings.Split(pgnText, "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "[") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, " ")
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	var r int
	_, _ = fmt.Sscanf(s, "%d", &r)
	return r
}
