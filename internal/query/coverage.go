package query

import (
	"context"
	"fmt"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/replay"
)

// maxCoverageDepth caps the walk; beyond this the book depth stops being
// a useful preparation signal.
const maxCoverageDepth = 12

// Coverage describes how deep the recorded book runs from a position.
type Coverage struct {
	Depth int    `json:"depth"`
	Line  []Line `json:"line,omitempty"`
}

// Line is one step of the principal coverage line.
type Line struct {
	Move  string `json:"move"`
	SAN   string `json:"san,omitempty"`
	Count uint32 `json:"count"`
}

// CoverageDepth walks forward from pos by repeatedly taking the studied
// player's most-played move and then the most-played reply, until either
// side has no recorded data or the cap is hit. The returned depth counts the
// studied player's moves that are still in the book.
func (s *Service) CoverageDepth(ctx context.Context, user, platform, username string, pos graph.PositionKey, f Filters) (*Coverage, error) {
	state, err := pgn.NewGame(string(pos) + " 0 1")
	if err != nil {
		return nil, fmt.Errorf("coverage start position: %w", err)
	}

	cov := &Coverage{}
	for cov.Depth < maxCoverageDepth {
		key := graph.Normalize(state.ToFEN())

		f.Bucket = BucketOpponent
		moves, err := s.GetMoves(ctx, user, platform, username, key, f)
		if err != nil {
			return nil, err
		}
		if len(moves) == 0 {
			break
		}
		top := moves[0]
		if !replay.ApplyUCI(state, top.UCI) {
			break
		}
		cov.Depth++
		cov.Line = append(cov.Line, Line{Move: top.UCI, SAN: top.SAN, Count: top.Count})

		f.Bucket = BucketAgainst
		replies, err := s.GetMoves(ctx, user, platform, username, graph.Normalize(state.ToFEN()), f)
		if err != nil {
			return nil, err
		}
		if len(replies) == 0 {
			break
		}
		reply := replies[0]
		if !replay.ApplyUCI(state, reply.UCI) {
			break
		}
		cov.Line = append(cov.Line, Line{Move: reply.UCI, SAN: reply.SAN, Count: reply.Count})
	}
	return cov, nil
}
