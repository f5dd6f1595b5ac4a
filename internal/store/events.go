package store

import (
	"context"
	"strings"

	"github.com/freeeve/scoutbook/internal/graph"
)

// MoveEvent is one flattened per-ply fact row. Identity is
// (user, platform, game_id, ply); exactly one row exists per ply per game.
type MoveEvent struct {
	User           string
	Platform       string
	GameID         string
	Ply            int
	Username       string // the studied player
	Position       graph.PositionKey
	UCI            string
	SAN            string
	MoverIsSubject bool
	Outcome        graph.Outcome
	Speed          string
	Rated          bool
	PlayedAt       int64
	OtherRating    int
	ECO            string
}

// UpsertEvents writes move events; re-delivery of the same ply overwrites
// in place, so retries are safe.
func (s *Store) UpsertEvents(ctx context.Context, events []MoveEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO move_events
			(user, platform, game_id, ply, username, position_key, uci, san,
			 mover_is_subject, outcome, speed, rated, played_at, other_rating, eco)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user, platform, game_id, ply) DO UPDATE SET
			position_key = excluded.position_key,
			uci = excluded.uci,
			san = excluded.san,
			mover_is_subject = excluded.mover_is_subject,
			outcome = excluded.outcome,
			speed = excluded.speed,
			rated = excluded.rated,
			played_at = excluded.played_at,
			other_rating = excluded.other_rating,
			eco = excluded.eco`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.User, e.Platform, e.GameID, e.Ply, e.Username, string(e.Position),
			e.UCI, e.SAN, boolInt(e.MoverIsSubject), int(e.Outcome),
			e.Speed, boolInt(e.Rated), e.PlayedAt, e.OtherRating, e.ECO); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.writes.Add(uint64(len(events)))
	return nil
}

// EventFilter selects move events for on-the-fly aggregation.
type EventFilter struct {
	User     string
	Platform string
	Username string
	Position graph.PositionKey
	Rated    *bool
	Speeds   []string
	SinceMs  int64
	UntilMs  int64
	ECO      string
}

// QueryEvents returns the move events matching the filter.
func (s *Store) QueryEvents(ctx context.Context, f EventFilter) ([]MoveEvent, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT user, platform, game_id, ply, username, position_key, uci, san,
		       mover_is_subject, outcome, speed, rated, played_at, other_rating, eco
		FROM move_events
		WHERE user = ? AND platform = ? AND username = ? COLLATE NOCASE AND position_key = ?`)
	args := []any{f.User, f.Platform, f.Username, string(f.Position)}

	if f.Rated != nil {
		sb.WriteString(" AND rated = ?")
		args = append(args, boolInt(*f.Rated))
	}
	if len(f.Speeds) > 0 {
		sb.WriteString(" AND speed IN (?" + strings.Repeat(",?", len(f.Speeds)-1) + ")")
		for _, sp := range f.Speeds {
			args = append(args, sp)
		}
	}
	if f.SinceMs > 0 {
		sb.WriteString(" AND played_at >= ?")
		args = append(args, f.SinceMs)
	}
	if f.UntilMs > 0 {
		sb.WriteString(" AND played_at < ?")
		args = append(args, f.UntilMs)
	}
	if f.ECO != "" {
		sb.WriteString(" AND eco = ?")
		args = append(args, f.ECO)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []MoveEvent
	for rows.Next() {
		var e MoveEvent
		var mover, outcome, rated int
		var pos string
		if err := rows.Scan(&e.User, &e.Platform, &e.GameID, &e.Ply, &e.Username,
			&pos, &e.UCI, &e.SAN, &mover, &outcome, &e.Speed, &rated,
			&e.PlayedAt, &e.OtherRating, &e.ECO); err != nil {
			return nil, err
		}
		e.Position = graph.PositionKey(pos)
		e.MoverIsSubject = mover != 0
		e.Outcome = graph.Outcome(outcome)
		e.Rated = rated != 0
		events = append(events, e)
	}
	s.reads.Add(uint64(len(events)))
	return events, rows.Err()
}

// CountEvents counts move events indexed for the user and studied player.
func (s *Store) CountEvents(ctx context.Context, user, platform, username string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM move_events
		WHERE user = ? AND platform = ? AND username = ? COLLATE NOCASE`,
		user, platform, username).Scan(&n)
	return n, err
}
