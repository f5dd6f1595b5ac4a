package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freeeve/scoutbook/internal/graph"
)

// MergeNodes folds flushed counter deltas into persisted graph nodes. Each
// delta is read-merge-written inside one transaction; the supervisor's
// single-writer discipline keeps this free of write races.
func (s *Store) MergeNodes(ctx context.Context, user, platform, username string, deltas []graph.NodeDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, d := range deltas {
		var raw string
		err := tx.QueryRowContext(ctx, `
			SELECT node FROM graph_nodes
			WHERE user = ? AND platform = ? AND username = ? AND filter_key = ? AND position_key = ?`,
			user, platform, username, string(d.Filter), string(d.Position)).Scan(&raw)

		node := d.Node
		switch {
		case err == sql.ErrNoRows:
			// first write for this node
		case err != nil:
			return err
		default:
			existing := graph.NewNode()
			if err := json.Unmarshal([]byte(raw), existing); err != nil {
				return fmt.Errorf("decode node %s/%s: %w", d.Filter, d.Position, err)
			}
			graph.MergeNode(existing, d.Node)
			node = existing
		}

		encoded, err := json.Marshal(node)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (user, platform, username, filter_key, position_key, node, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user, platform, username, filter_key, position_key)
			DO UPDATE SET node = excluded.node, updated_at = excluded.updated_at`,
			user, platform, username, string(d.Filter), string(d.Position), string(encoded), now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.writes.Add(uint64(len(deltas)))
	return nil
}

// GetNode loads one persisted graph node, or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, user, platform, username string, fk graph.FilterKey, pk graph.PositionKey) (*graph.Node, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT node FROM graph_nodes
		WHERE user = ? AND platform = ? AND username = ? COLLATE NOCASE AND filter_key = ? AND position_key = ?`,
		user, platform, username, string(fk), string(pk)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	node := graph.NewNode()
	if err := json.Unmarshal([]byte(raw), node); err != nil {
		return nil, fmt.Errorf("decode node %s/%s: %w", fk, pk, err)
	}
	s.reads.Add(1)
	return node, nil
}

// DeleteNodes removes every persisted node for a studied player. Used by a
// full re-import; incremental imports never delete aggregates.
func (s *Store) DeleteNodes(ctx context.Context, user, platform, username string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM graph_nodes
		WHERE user = ? AND platform = ? AND username = ? COLLATE NOCASE`,
		user, platform, username)
	return err
}
