package store

import (
	"context"
	"time"
)

// RatingSnapshot is a best-effort capture of an account's current rating
// for one speed tier. Refreshed opportunistically; staleness is expected.
type RatingSnapshot struct {
	Platform  string `json:"platform"`
	Username  string `json:"username"`
	Speed     string `json:"speed"`
	Rating    int    `json:"rating"`
	FetchedAt int64  `json:"fetched_at"`
}

// UpsertRatings replaces rating snapshots for one account.
func (s *Store) UpsertRatings(ctx context.Context, platform, username string, ratings map[string]int) error {
	if len(ratings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for speed, rating := range ratings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rating_snapshots (platform, username, speed, rating, fetched_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(platform, username, speed)
			DO UPDATE SET rating = excluded.rating, fetched_at = excluded.fetched_at`,
			platform, username, speed, rating, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.writes.Add(uint64(len(ratings)))
	return nil
}

// GetRatings returns the stored snapshots for one account, keyed by speed.
func (s *Store) GetRatings(ctx context.Context, platform, username string) ([]RatingSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, username, speed, rating, fetched_at
		FROM rating_snapshots
		WHERE platform = ? AND username = ? COLLATE NOCASE`,
		platform, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RatingSnapshot
	for rows.Next() {
		var r RatingSnapshot
		if err := rows.Scan(&r.Platform, &r.Username, &r.Speed, &r.Rating, &r.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	s.reads.Add(uint64(len(out)))
	return out, rows.Err()
}
