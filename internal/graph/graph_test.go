package graph_test

import (
	"testing"

	"github.com/freeeve/scoutbook/internal/graph"
)

func TestNormalize(t *testing.T) {
	full := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	key := graph.Normalize(full)
	want := graph.PositionKey("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3")
	if key != want {
		t.Errorf("Normalize dropped wrong fields: got %q want %q", key, want)
	}

	// Same position reached with different clocks must share a key.
	other := graph.Normalize("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 4 13")
	if other != key {
		t.Errorf("clock fields leaked into key: %q vs %q", other, key)
	}

	// Already normalized input is a fixed point.
	if again := graph.Normalize(string(key)); again != key {
		t.Errorf("Normalize not idempotent: %q -> %q", key, again)
	}

	// Short inputs pass through trimmed.
	if got := graph.Normalize("  garbage  "); got != "garbage" {
		t.Errorf("short input: got %q", got)
	}
}

func TestFilterKeysFor(t *testing.T) {
	keys := graph.FilterKeysFor(true, "blitz")
	if len(keys) != 3 {
		t.Fatalf("rated blitz game should hit 3 graphs, got %v", keys)
	}
	if keys[0] != graph.FilterAll || keys[1] != graph.FilterRated || keys[2] != graph.SpeedFilter("blitz") {
		t.Errorf("unexpected fan-out: %v", keys)
	}

	keys = graph.FilterKeysFor(false, "")
	if len(keys) != 2 || keys[1] != graph.FilterCasual {
		t.Errorf("casual unknown-speed game: %v", keys)
	}
}

func fact(pos graph.PositionKey, subject bool, uci string, o graph.Outcome) graph.PlyFact {
	return graph.PlyFact{Position: pos, MoverIsSubject: subject, UCI: uci, Outcome: o}
}

func TestAggregatorRecordAndDrain(t *testing.T) {
	agg := graph.NewAggregator()
	keys := []graph.FilterKey{graph.FilterAll, graph.FilterRated}
	pos := graph.StartingKey

	agg.Record(keys, fact(pos, false, "e2e4", graph.OutcomeWin))
	agg.Record(keys, fact(pos, false, "e2e4", graph.OutcomeLoss))
	agg.Record(keys, fact(pos, true, "e7e5", graph.OutcomeWin))

	if agg.DirtyCount() != 2 {
		t.Fatalf("expected 2 dirty (filter, position) pairs, got %d", agg.DirtyCount())
	}

	deltas := agg.Drain()
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	for _, d := range deltas {
		e4 := d.Node.Against["e2e4"]
		if e4 == nil || e4.Count != 2 || e4.Wins != 1 || e4.Losses != 1 {
			t.Errorf("filter %s against bucket: %+v", d.Filter, e4)
		}
		if e4.Count != e4.Wins+e4.Draws+e4.Losses {
			t.Errorf("count invariant broken: %+v", e4)
		}
		e5 := d.Node.Opponent["e7e5"]
		if e5 == nil || e5.Count != 1 || e5.Wins != 1 {
			t.Errorf("filter %s opponent bucket: %+v", d.Filter, e5)
		}
	}

	// Drain empties the buffer.
	if agg.DirtyCount() != 0 {
		t.Errorf("dirty count after drain: %d", agg.DirtyCount())
	}
	if deltas := agg.Drain(); deltas != nil {
		t.Errorf("second drain returned %d deltas", len(deltas))
	}

	// Recording after a drain starts from zero, not from the drained totals.
	agg.Record(keys, fact(pos, false, "e2e4", graph.OutcomeDraw))
	deltas = agg.Drain()
	e4 := deltas[0].Node.Against["e2e4"]
	if e4.Count != 1 || e4.Draws != 1 {
		t.Errorf("post-drain delta carries old totals: %+v", e4)
	}
}

func TestMergeNodeOrderIndependent(t *testing.T) {
	facts := []graph.PlyFact{
		fact(graph.StartingKey, true, "e7e5", graph.OutcomeWin),
		fact(graph.StartingKey, true, "e7e5", graph.OutcomeLoss),
		fact(graph.StartingKey, true, "c7c5", graph.OutcomeDraw),
		fact(graph.StartingKey, false, "e2e4", graph.OutcomeWin),
	}

	// One shot.
	one := graph.NewAggregator()
	for _, f := range facts {
		one.Record([]graph.FilterKey{graph.FilterAll}, f)
	}
	single := one.Drain()[0].Node

	// Split into interleaved drains, merged in reverse order.
	a, b := graph.NewAggregator(), graph.NewAggregator()
	a.Record([]graph.FilterKey{graph.FilterAll}, facts[0])
	a.Record([]graph.FilterKey{graph.FilterAll}, facts[3])
	b.Record([]graph.FilterKey{graph.FilterAll}, facts[1])
	b.Record([]graph.FilterKey{graph.FilterAll}, facts[2])

	merged := graph.NewNode()
	graph.MergeNode(merged, b.Drain()[0].Node)
	graph.MergeNode(merged, a.Drain()[0].Node)

	for uci, want := range single.Opponent {
		got := merged.Opponent[uci]
		if got == nil || *got != *want {
			t.Errorf("opponent[%s]: got %+v want %+v", uci, got, want)
		}
	}
	for uci, want := range single.Against {
		got := merged.Against[uci]
		if got == nil || *got != *want {
			t.Errorf("against[%s]: got %+v want %+v", uci, got, want)
		}
	}
}

func TestMergeAggregateSemantics(t *testing.T) {
	dst := &graph.MoveAggregate{UCI: "e2e4", SAN: "e4", Count: 2, Wins: 2, LastPlayed: 100}
	src := &graph.MoveAggregate{UCI: "e2e4", SAN: "different", Count: 1, Draws: 1, LastPlayed: 50, RatingSum: 1500, RatingN: 1}
	graph.MergeAggregate(dst, src)

	if dst.SAN != "e4" {
		t.Errorf("SAN should be first-seen, got %q", dst.SAN)
	}
	if dst.Count != 3 || dst.Wins != 2 || dst.Draws != 1 {
		t.Errorf("counter sums wrong: %+v", dst)
	}
	if dst.LastPlayed != 100 {
		t.Errorf("LastPlayed should be max, got %d", dst.LastPlayed)
	}
	if dst.AvgRating() != 1500 {
		t.Errorf("AvgRating: got %d", dst.AvgRating())
	}
}
