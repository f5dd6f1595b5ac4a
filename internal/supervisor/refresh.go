package supervisor

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/scoutbook/internal/source"
)

// AccountFetcher looks up remote account metadata. Implemented by
// source.Client.
type AccountFetcher interface {
	User(ctx context.Context, username string) (*source.UserInfo, error)
}

// RatingStore persists rating snapshots. Implemented by store.Store.
type RatingStore interface {
	UpsertRatings(ctx context.Context, platform, username string, ratings map[string]int) error
}

// refreshConcurrency bounds the read-only refresh fan-out. These run across
// different opponents only; they never touch ImportJob rows.
const refreshConcurrency = 3

// RefreshRatings fetches current rating snapshots for the given opponents
// and stores them. Fire-and-forget semantics: every failure is logged and
// swallowed, and the returned error is always nil unless the context dies.
func RefreshRatings(ctx context.Context, fetcher AccountFetcher, rs RatingStore, platform string, usernames []string, log zerolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)

	for _, username := range usernames {
		g.Go(func() error {
			info, err := fetcher.User(ctx, username)
			if err != nil {
				log.Debug().Err(err).Str("username", username).Msg("rating refresh failed")
				return nil
			}
			ratings := make(map[string]int, len(info.Perfs))
			for speed, p := range info.Perfs {
				if p.Rating > 0 {
					ratings[speed] = p.Rating
				}
			}
			if err := rs.UpsertRatings(ctx, platform, username, ratings); err != nil {
				log.Debug().Err(err).Str("username", username).Msg("rating snapshot write failed")
			}
			return nil
		})
	}
	return g.Wait()
}
