// Package graph maintains position-keyed move aggregates fanned out across
// independent filter graphs (all/rated/casual/per-speed).
package graph

// Aggregator buffers counter deltas per (filter, position) between flushes.
// It is not safe for concurrent use; the import worker owns one instance.
type Aggregator struct {
	pending map[FilterKey]map[PositionKey]*Node
	dirty   int
}

// NewAggregator returns an empty delta buffer.
func NewAggregator() *Aggregator {
	return &Aggregator{
		pending: make(map[FilterKey]map[PositionKey]*Node),
	}
}

// Record applies one decoded ply to every listed filter graph.
// The mover side selects the bucket: opponent when the studied player moved,
// against when the move was played against them.
func (a *Aggregator) Record(keys []FilterKey, f PlyFact) {
	for _, fk := range keys {
		nodes, ok := a.pending[fk]
		if !ok {
			nodes = make(map[PositionKey]*Node)
			a.pending[fk] = nodes
		}
		node, ok := nodes[f.Position]
		if !ok {
			node = NewNode()
			nodes[f.Position] = node
			a.dirty++
		}

		bucket := node.Against
		if f.MoverIsSubject {
			bucket = node.Opponent
		}
		agg, ok := bucket[f.UCI]
		if !ok {
			agg = &MoveAggregate{UCI: f.UCI}
			bucket[f.UCI] = agg
		}
		if agg.SAN == "" {
			agg.SAN = f.SAN
		}
		agg.Count++
		switch f.Outcome {
		case OutcomeWin:
			agg.Wins++
		case OutcomeLoss:
			agg.Losses++
		default:
			agg.Draws++
		}
		if f.PlayedAt > agg.LastPlayed {
			agg.LastPlayed = f.PlayedAt
		}
		if f.OtherRating > 0 {
			agg.RatingSum += int64(f.OtherRating)
			agg.RatingN++
		}
	}
}

// DirtyCount returns the number of (filter, position) pairs awaiting flush.
func (a *Aggregator) DirtyCount() int {
	return a.dirty
}

// Drain removes and returns all pending deltas. The returned nodes are the
// accumulated-since-last-drain counters; merging them into persisted nodes
// in any order yields the same totals.
func (a *Aggregator) Drain() []NodeDelta {
	if a.dirty == 0 {
		return nil
	}
	out := make([]NodeDelta, 0, a.dirty)
	for fk, nodes := range a.pending {
		for pk, node := range nodes {
			out = append(out, NodeDelta{Filter: fk, Position: pk, Node: node})
		}
		delete(a.pending, fk)
	}
	a.dirty = 0
	return out
}

// MergeAggregate folds src counters into dst. SAN is first-seen,
// LastPlayed is a max, everything else is a commutative sum.
func MergeAggregate(dst, src *MoveAggregate) {
	if dst.SAN == "" {
		dst.SAN = src.SAN
	}
	dst.Count += src.Count
	dst.Wins += src.Wins
	dst.Draws += src.Draws
	dst.Losses += src.Losses
	if src.LastPlayed > dst.LastPlayed {
		dst.LastPlayed = src.LastPlayed
	}
	dst.RatingSum += src.RatingSum
	dst.RatingN += src.RatingN
}

// MergeNode folds every move aggregate of src into dst.
func MergeNode(dst, src *Node) {
	if dst.Opponent == nil {
		dst.Opponent = make(map[string]*MoveAggregate)
	}
	if dst.Against == nil {
		dst.Against = make(map[string]*MoveAggregate)
	}
	mergeBucket(dst.Opponent, src.Opponent)
	mergeBucket(dst.Against, src.Against)
}

func mergeBucket(dst, src map[string]*MoveAggregate) {
	for uci, agg := range src {
		if existing, ok := dst[uci]; ok {
			MergeAggregate(existing, agg)
		} else {
			cp := *agg
			dst[uci] = &cp
		}
	}
}
