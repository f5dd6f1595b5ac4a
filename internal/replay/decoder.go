// Package replay decodes a game's move text into per-ply facts by applying
// moves one at a time against the chess rules engine.
package replay

import (
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/scoutbook/internal/graph"
)

// Side is the color a player held in one game.
type Side uint8

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}

// Ply is one decoded half-move: the position before the move and the move
// itself in compact (UCI) and human (SAN) form.
type Ply struct {
	Index    int               `json:"ply"`
	Position graph.PositionKey `json:"position"`
	Mover    Side              `json:"mover"`
	UCI      string            `json:"uci"`
	SAN      string            `json:"san"`
}

// Game is a fully decoded game from the studied player's point of view.
type Game struct {
	Plies       []Ply
	SubjectSide Side
	Outcome     graph.Outcome
}

// moveNumberRegex strips move numbers like "1." or "12..." from move text.
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// SubjectSide matches the studied player's name against the two player names
// (case-insensitive). The second return is false when neither side matches,
// in which case the game is skipped entirely.
func SubjectSide(white, black, subject string) (Side, bool) {
	switch {
	case strings.EqualFold(white, subject):
		return White, true
	case strings.EqualFold(black, subject):
		return Black, true
	}
	return White, false
}

// OutcomeFor maps a winner color ("white", "black", or "" for a draw) to the
// studied player's perspective.
func OutcomeFor(winner string, side Side) graph.Outcome {
	switch winner {
	case "white":
		if side == White {
			return graph.OutcomeWin
		}
		return graph.OutcomeLoss
	case "black":
		if side == Black {
			return graph.OutcomeWin
		}
		return graph.OutcomeLoss
	}
	return graph.OutcomeDraw
}

// Decode replays moveText (SAN tokens, move numbers tolerated) and returns
// the ordered ply sequence. Decoding stops at the first move that fails to
// parse or apply; everything decoded before it is kept.
func Decode(moveText string, subjectSide Side, outcome graph.Outcome) *Game {
	g := &Game{SubjectSide: subjectSide, Outcome: outcome}

	cleaned := moveNumberRegex.ReplaceAllString(moveText, "")
	tokens := strings.Fields(cleaned)

	pos := pgn.NewStartingPosition()
	depth := 0
	for _, san := range tokens {
		if san == "" || san[0] == '$' || san[0] == '{' || isResultToken(san) {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimSuffix(san, "#"), "+")

		mv, err := pgn.ParseSAN(pos, trimmed)
		if err != nil {
			break
		}
		key := graph.Normalize(pos.ToFEN())
		mover := White
		if depth%2 == 1 {
			mover = Black
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
		g.Plies = append(g.Plies, Ply{
			Index:    depth,
			Position: key,
			Mover:    mover,
			UCI:      MoveUCI(mv),
			SAN:      san,
		})
		depth++
	}
	return g
}

func isResultToken(tok string) bool {
	switch tok {
	case "1-0", "0-1", "1/2-1/2", "*":
		return true
	}
	return false
}

// MoveUCI converts a pgn.Mv to UCI notation (e.g. "e2e4", "e7e8q").
func MoveUCI(mv pgn.Mv) string {
	files := "abcdefgh"
	ranks := "12345678"

	uci := string(files[mv.From%8]) + string(ranks[mv.From/8]) +
		string(files[mv.To%8]) + string(ranks[mv.To/8])

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}
	return uci
}

// ApplyUCI finds the legal move matching a UCI string and applies it,
// returning false if no legal move matches. Used by the coverage walk to
// advance a position along recorded moves.
func ApplyUCI(pos *pgn.GameState, uci string) bool {
	for _, mv := range pgn.GenerateLegalMoves(pos) {
		if MoveUCI(mv) == uci {
			if err := pgn.ApplyMove(pos, mv); err != nil {
				return false
			}
			return true
		}
	}
	return false
}

// Trace returns the first n plies of a decoded game, for caching alongside
// the raw game record.
func Trace(g *Game, n int) []Ply {
	if len(g.Plies) <= n {
		return g.Plies
	}
	return g.Plies[:n]
}
