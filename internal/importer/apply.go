package importer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/metrics"
	"github.com/freeeve/scoutbook/internal/store"
)

// Applier consumes worker messages and persists flush batches. Flushes are
// applied as merging upserts, so duplicate or reordered delivery across
// retries cannot corrupt counters.
type Applier struct {
	st  *store.Store
	log zerolog.Logger

	user     string
	platform string
	username string
}

// NewApplier creates a flush consumer for one studied player.
func NewApplier(st *store.Store, user, platform, username string, log zerolog.Logger) *Applier {
	return &Applier{st: st, log: log, user: user, platform: platform, username: username}
}

// Drain receives until the worker closes the channel and returns the final
// Done message. Persistence errors are logged and returned but never stop
// the drain; the worker contract requires reading every message.
func (a *Applier) Drain(ctx context.Context, msgs <-chan Message) (Done, error) {
	var done Done
	var firstErr error

	for msg := range msgs {
		switch m := msg.(type) {
		case Progress:
			a.log.Debug().Int64("games", m.Games).Int64("bytes", m.Bytes).Msg("import progress")
		case Flush:
			if err := a.apply(ctx, m); err != nil && firstErr == nil {
				firstErr = err
			}
		case Done:
			done = m
		}
	}
	if done.Err != nil && firstErr == nil {
		firstErr = done.Err
	}
	return done, firstErr
}

func (a *Applier) apply(ctx context.Context, f Flush) error {
	if err := a.st.MergeNodes(ctx, a.user, a.platform, a.username, f.Nodes); err != nil {
		a.log.Error().Err(err).Int("nodes", len(f.Nodes)).Msg("merge nodes failed")
		return err
	}
	if err := a.st.UpsertEvents(ctx, f.Events); err != nil {
		a.log.Error().Err(err).Int("events", len(f.Events)).Msg("upsert events failed")
		return err
	}
	metrics.FlushesTotal.Inc()
	metrics.EventsIndexed.Add(float64(len(f.Events)))
	return nil
}
