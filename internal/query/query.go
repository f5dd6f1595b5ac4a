// Package query answers "what moves are available from this position, under
// this filter" and samples from the answer for simulated play.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/store"
)

// Bucket selects which side of a position node to read.
type Bucket string

const (
	// BucketOpponent is what the studied player plays from the position.
	BucketOpponent Bucket = "opponent"
	// BucketAgainst is what gets played against the studied player there.
	BucketAgainst Bucket = "against"
)

// Filters refine a move lookup. A combination with no date range and no ECO
// filter that maps onto a precomputed graph is served from it directly;
// anything else replays move events on the fly.
type Filters struct {
	Bucket  Bucket
	Rated   *bool
	Speeds  []string
	SinceMs int64
	UntilMs int64
	ECO     string
}

// GraphKey reports the precomputed filter graph serving this combination
// exactly, if one exists.
func (f Filters) GraphKey() (graph.FilterKey, bool) {
	if f.ECO != "" || f.SinceMs != 0 || f.UntilMs != 0 {
		return "", false
	}
	switch {
	case f.Rated == nil && len(f.Speeds) == 0:
		return graph.FilterAll, true
	case f.Rated != nil && len(f.Speeds) == 0:
		if *f.Rated {
			return graph.FilterRated, true
		}
		return graph.FilterCasual, true
	case f.Rated == nil && len(f.Speeds) == 1:
		return graph.SpeedFilter(f.Speeds[0]), true
	}
	return "", false
}

func (f Filters) cacheKey(user, platform, username string, pos graph.PositionKey) string {
	var sb strings.Builder
	sb.WriteString(user)
	sb.WriteByte('|')
	sb.WriteString(platform)
	sb.WriteByte('|')
	sb.WriteString(strings.ToLower(username))
	sb.WriteByte('|')
	sb.WriteString(string(pos))
	sb.WriteByte('|')
	sb.WriteString(string(f.Bucket))
	if f.Rated != nil {
		fmt.Fprintf(&sb, "|rated=%t", *f.Rated)
	}
	if len(f.Speeds) > 0 {
		sb.WriteString("|speeds=" + strings.Join(f.Speeds, ","))
	}
	if f.SinceMs != 0 || f.UntilMs != 0 {
		fmt.Fprintf(&sb, "|range=%d-%d", f.SinceMs, f.UntilMs)
	}
	if f.ECO != "" {
		sb.WriteString("|eco=" + f.ECO)
	}
	return sb.String()
}

// MoveStat is one move's distribution entry, from the studied player's
// perspective.
type MoveStat struct {
	UCI        string `json:"uci"`
	SAN        string `json:"san,omitempty"`
	Count      uint32 `json:"count"`
	Wins       uint32 `json:"wins"`
	Draws      uint32 `json:"draws"`
	Losses     uint32 `json:"losses"`
	AvgRating  int    `json:"avg_rating,omitempty"`
	LastPlayed int64  `json:"last_played,omitempty"`
}

// ErrNoMoves is returned when sampling from an empty distribution.
var ErrNoMoves = errors.New("no moves recorded for position")

// Service reads persisted aggregates and move events. The cache is
// injected so eviction behavior is testable in isolation.
type Service struct {
	st    *store.Store
	cache *Cache
	log   zerolog.Logger
}

// NewService creates a query service. cache may be nil to disable caching.
func NewService(st *store.Store, cache *Cache, log zerolog.Logger) *Service {
	return &Service{st: st, cache: cache, log: log}
}

// GetMoves returns the move distribution from a position under the filter,
// sorted by descending play count. Unknown positions yield an empty slice,
// not an error.
func (s *Service) GetMoves(ctx context.Context, user, platform, username string, pos graph.PositionKey, f Filters) ([]MoveStat, error) {
	if f.Bucket == "" {
		f.Bucket = BucketOpponent
	}
	key := f.cacheKey(user, platform, username, pos)
	if s.cache != nil {
		if moves, ok := s.cache.Get(key); ok {
			return moves, nil
		}
	}

	var moves []MoveStat
	if fk, exact := f.GraphKey(); exact {
		node, err := s.st.GetNode(ctx, user, platform, username, fk, pos)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if node != nil {
			moves = bucketStats(node, f.Bucket)
		}
	} else {
		events, err := s.st.QueryEvents(ctx, store.EventFilter{
			User:     user,
			Platform: platform,
			Username: username,
			Position: pos,
			Rated:    f.Rated,
			Speeds:   f.Speeds,
			SinceMs:  f.SinceMs,
			UntilMs:  f.UntilMs,
			ECO:      f.ECO,
		})
		if err != nil {
			return nil, err
		}
		moves = aggregateEvents(events, f.Bucket)
	}

	sort.SliceStable(moves, func(i, j int) bool { return moves[i].Count > moves[j].Count })
	if s.cache != nil {
		s.cache.Put(key, moves)
	}
	return moves, nil
}

func bucketStats(node *graph.Node, b Bucket) []MoveStat {
	src := node.Opponent
	if b == BucketAgainst {
		src = node.Against
	}
	moves := make([]MoveStat, 0, len(src))
	for _, agg := range src {
		moves = append(moves, MoveStat{
			UCI:        agg.UCI,
			SAN:        agg.SAN,
			Count:      agg.Count,
			Wins:       agg.Wins,
			Draws:      agg.Draws,
			Losses:     agg.Losses,
			AvgRating:  agg.AvgRating(),
			LastPlayed: agg.LastPlayed,
		})
	}
	return moves
}

// aggregateEvents rebuilds the distribution from flattened fact rows,
// applying the bucket selection in memory.
func aggregateEvents(events []store.MoveEvent, b Bucket) []MoveStat {
	wantSubject := b == BucketOpponent
	byUCI := make(map[string]*MoveStat)
	order := make([]string, 0, 8)

	for _, e := range events {
		if e.MoverIsSubject != wantSubject {
			continue
		}
		st, ok := byUCI[e.UCI]
		if !ok {
			st = &MoveStat{UCI: e.UCI, SAN: e.SAN}
			byUCI[e.UCI] = st
			order = append(order, e.UCI)
		}
		st.Count++
		switch e.Outcome {
		case graph.OutcomeWin:
			st.Wins++
		case graph.OutcomeLoss:
			st.Losses++
		default:
			st.Draws++
		}
		if e.PlayedAt > st.LastPlayed {
			st.LastPlayed = e.PlayedAt
		}
	}

	moves := make([]MoveStat, 0, len(order))
	for _, uci := range order {
		moves = append(moves, *byUCI[uci])
	}
	return moves
}
