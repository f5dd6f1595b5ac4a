// Package importer turns remote game histories into aggregation graph
// deltas and move-event fact rows, streaming flush batches to a consumer.
package importer

import (
	"encoding/json"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/replay"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

// GameInput is the transport-neutral view of one game to index: either a
// freshly fetched record or an already-persisted row.
type GameInput struct {
	ID          string
	White       string
	Black       string
	WhiteRating int
	BlackRating int
	Winner      string // "white", "black", "" = draw
	Speed       string
	Rated       bool
	CreatedAtMs int64
	PlayedAtMs  int64
	Moves       string
}

// InputFromRecord adapts a remote game record.
func InputFromRecord(g *source.GameRecord) GameInput {
	playedAt := g.LastMoveAt
	if playedAt == 0 {
		playedAt = g.CreatedAt
	}
	return GameInput{
		ID:          g.ID,
		White:       g.White(),
		Black:       g.Black(),
		WhiteRating: g.Players.White.Rating,
		BlackRating: g.Players.Black.Rating,
		Winner:      g.Winner,
		Speed:       g.Speed,
		Rated:       g.Rated,
		CreatedAtMs: g.CreatedAt,
		PlayedAtMs:  playedAt,
		Moves:       g.Moves,
	}
}

// InputFromStored adapts a persisted game row.
func InputFromStored(g *store.Game) GameInput {
	playedAt := g.LastMoveAt
	if playedAt == 0 {
		playedAt = g.CreatedAt
	}
	return GameInput{
		ID:          g.ID,
		White:       g.White,
		Black:       g.Black,
		WhiteRating: g.WhiteRating,
		BlackRating: g.BlackRating,
		Winner:      g.Winner,
		Speed:       g.Speed,
		Rated:       g.Rated,
		CreatedAtMs: g.CreatedAt,
		PlayedAtMs:  playedAt,
		Moves:       g.Moves,
	}
}

// IndexedGame is one game decoded from the studied player's point of view.
type IndexedGame struct {
	Input      GameInput
	Decoded    *replay.Game
	Opening    eco.Opening
	TraceJSON  string
	FilterKeys []graph.FilterKey
}

// IndexGame decodes a game for the studied player. Returns false when
// neither side matches the subject name; such games are skipped entirely.
// ecoDB may be nil.
func IndexGame(in GameInput, subject string, ecoDB *eco.Database, traceLen int) (*IndexedGame, bool) {
	side, ok := replay.SubjectSide(in.White, in.Black, subject)
	if !ok {
		return nil, false
	}
	decoded := replay.Decode(in.Moves, side, replay.OutcomeFor(in.Winner, side))

	ig := &IndexedGame{
		Input:      in,
		Decoded:    decoded,
		Opening:    eco.Unknown,
		FilterKeys: graph.FilterKeysFor(in.Rated, in.Speed),
	}

	trace := replay.Trace(decoded, traceLen)
	if raw, err := json.Marshal(trace); err == nil {
		ig.TraceJSON = string(raw)
	}
	if ecoDB != nil {
		// Positions reached during the opening are the before-move keys of
		// each subsequent ply.
		reached := make([]graph.PositionKey, 0, len(trace))
		for i := 1; i < len(trace); i++ {
			reached = append(reached, trace[i].Position)
		}
		ig.Opening = ecoDB.Classify(reached)
	}
	return ig, true
}

// Facts returns one aggregation fact per decoded ply. The other side's
// rating is the rating of whichever color did not move.
func (ig *IndexedGame) Facts() []graph.PlyFact {
	facts := make([]graph.PlyFact, 0, len(ig.Decoded.Plies))
	for _, p := range ig.Decoded.Plies {
		otherRating := ig.Input.WhiteRating
		if p.Mover == replay.White {
			otherRating = ig.Input.BlackRating
		}
		facts = append(facts, graph.PlyFact{
			Position:       p.Position,
			MoverIsSubject: p.Mover == ig.Decoded.SubjectSide,
			UCI:            p.UCI,
			SAN:            p.SAN,
			Outcome:        ig.Decoded.Outcome,
			OtherRating:    otherRating,
			PlayedAt:       ig.Input.PlayedAtMs,
		})
	}
	return facts
}

// Events returns the always-on move-event fact rows, one per ply.
func (ig *IndexedGame) Events(user, platform, username string) []store.MoveEvent {
	events := make([]store.MoveEvent, 0, len(ig.Decoded.Plies))
	for _, p := range ig.Decoded.Plies {
		otherRating := ig.Input.WhiteRating
		if p.Mover == replay.White {
			otherRating = ig.Input.BlackRating
		}
		events = append(events, store.MoveEvent{
			User:           user,
			Platform:       platform,
			GameID:         ig.Input.ID,
			Ply:            p.Index,
			Username:       username,
			Position:       p.Position,
			UCI:            p.UCI,
			SAN:            p.SAN,
			MoverIsSubject: p.Mover == ig.Decoded.SubjectSide,
			Outcome:        ig.Decoded.Outcome,
			Speed:          ig.Input.Speed,
			Rated:          ig.Input.Rated,
			PlayedAt:       ig.Input.PlayedAtMs,
			OtherRating:    otherRating,
			ECO:            ig.Opening.ECO,
		})
	}
	return events
}

// StoreGame converts a fetched record into its persisted form, stamped with
// the opening classification and trace.
func (ig *IndexedGame) StoreGame(platform string) store.Game {
	return store.Game{
		Platform:    platform,
		ID:          ig.Input.ID,
		White:       ig.Input.White,
		Black:       ig.Input.Black,
		WhiteRating: ig.Input.WhiteRating,
		BlackRating: ig.Input.BlackRating,
		Winner:      ig.Input.Winner,
		Speed:       ig.Input.Speed,
		Rated:       ig.Input.Rated,
		CreatedAt:   ig.Input.CreatedAtMs,
		LastMoveAt:  ig.Input.PlayedAtMs,
		Moves:       ig.Input.Moves,
		ECO:         ig.Opening.ECO,
		Opening:     ig.Opening.Name,
		Trace:       ig.TraceJSON,
	}
}
