package graph

// FilterKey identifies one independently-maintained aggregation graph.
type FilterKey string

const (
	FilterAll    FilterKey = "all"
	FilterRated  FilterKey = "rated"
	FilterCasual FilterKey = "casual"
)

// SpeedFilter returns the filter key for a speed tier ("blitz" -> "speed:blitz").
func SpeedFilter(speed string) FilterKey {
	return FilterKey("speed:" + speed)
}

// FilterKeysFor returns every graph a game qualifies for. Every game belongs
// to "all", exactly one of rated/casual, and one speed graph when the speed
// tier is known, so a ply lands in at most three graphs.
func FilterKeysFor(rated bool, speed string) []FilterKey {
	keys := make([]FilterKey, 0, 3)
	keys = append(keys, FilterAll)
	if rated {
		keys = append(keys, FilterRated)
	} else {
		keys = append(keys, FilterCasual)
	}
	if speed != "" {
		keys = append(keys, SpeedFilter(speed))
	}
	return keys
}

// Outcome is a game result from the studied player's perspective.
type Outcome uint8

const (
	OutcomeDraw Outcome = iota
	OutcomeWin
	OutcomeLoss
)

// MoveAggregate holds per-move statistics within one position node.
// Count == Wins + Draws + Losses at all times; counters only ever increase.
type MoveAggregate struct {
	UCI        string `json:"uci"`
	SAN        string `json:"san,omitempty"` // first seen, never overwritten
	Count      uint32 `json:"count"`
	Wins       uint32 `json:"wins"`
	Draws      uint32 `json:"draws"`
	Losses     uint32 `json:"losses"`
	LastPlayed int64  `json:"last_played,omitempty"` // unix millis, max
	RatingSum  int64  `json:"rating_sum,omitempty"`  // other side's rating at time of play
	RatingN    uint32 `json:"rating_n,omitempty"`
}

// AvgRating returns the average rating of the other side, or 0 if unknown.
func (m *MoveAggregate) AvgRating() int {
	if m.RatingN == 0 {
		return 0
	}
	return int(m.RatingSum / int64(m.RatingN))
}

// Node is one position entry in a filter graph: the moves the studied player
// made from this position ("opponent" bucket) and the moves played against
// them ("against" bucket), each keyed by UCI.
type Node struct {
	Opponent map[string]*MoveAggregate `json:"opponent,omitempty"`
	Against  map[string]*MoveAggregate `json:"against,omitempty"`
}

// NewNode returns a Node with both buckets allocated.
func NewNode() *Node {
	return &Node{
		Opponent: make(map[string]*MoveAggregate),
		Against:  make(map[string]*MoveAggregate),
	}
}

// NodeDelta is a flushable unit: accumulated counter deltas for one
// (filter, position) pair since the last drain.
type NodeDelta struct {
	Filter   FilterKey
	Position PositionKey
	Node     *Node
}

// PlyFact is a single decoded ply ready for aggregation.
type PlyFact struct {
	Position       PositionKey
	MoverIsSubject bool // true when the studied player made the move
	UCI            string
	SAN            string
	Outcome        Outcome
	OtherRating    int   // 0 = unknown
	PlayedAt       int64 // unix millis, 0 = unknown
}
