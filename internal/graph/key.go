package graph

import "strings"

// PositionKey is a canonical position identifier: the first four FEN fields
// (placement, side to move, castling rights, en-passant target) joined by a
// single space. Halfmove clock and fullmove number are dropped so positions
// reached by different move-count histories share a key.
type PositionKey string

// Normalize canonicalizes a FEN-like position string into a PositionKey.
// Inputs with fewer than four fields are returned trimmed and unchanged.
func Normalize(fen string) PositionKey {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return PositionKey(strings.TrimSpace(fen))
	}
	return PositionKey(strings.Join(fields[:4], " "))
}

// StartingKey is the normalized standard starting position.
const StartingKey PositionKey = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -"
