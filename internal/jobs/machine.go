// Package jobs drives durable, resumable import jobs through their state
// machine: idle -> running -> {complete | error | stopped}, with an
// indexing -> archiving -> complete stage axis for opponent jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/eco"
	"github.com/freeeve/scoutbook/internal/graph"
	"github.com/freeeve/scoutbook/internal/importer"
	"github.com/freeeve/scoutbook/internal/metrics"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

// Config holds the state machine's tuning knobs.
type Config struct {
	ReadyThreshold int64         // indexed games before the job is "ready" (default 200)
	BatchPreReady  int           // fetch cap before ready (default 100)
	BatchPostReady int           // fetch cap after ready (default 500)
	IndexSlice     int           // games event-indexed per continue/reindex (default 100)
	ProbeTimeout   time.Duration // best-effort account probe budget (default 3s)
	DefaultWindow  time.Duration // history window unless the probe widens it (default 2 years)
	TraceLen       int           // opening trace plies (default 24)
}

func (c *Config) defaults() {
	if c.ReadyThreshold == 0 {
		c.ReadyThreshold = 200
	}
	if c.BatchPreReady == 0 {
		c.BatchPreReady = 100
	}
	if c.BatchPostReady == 0 {
		c.BatchPostReady = 500
	}
	if c.IndexSlice == 0 {
		c.IndexSlice = 100
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.DefaultWindow == 0 {
		c.DefaultWindow = 2 * 365 * 24 * time.Hour
	}
	if c.TraceLen == 0 {
		c.TraceLen = 24
	}
}

// Machine executes job transitions. The store holds all durable state, so a
// Machine can be recreated after a restart without losing progress.
type Machine struct {
	cfg Config
	st  *store.Store
	src *source.Client
	eco *eco.Database
	log zerolog.Logger

	// windows holds per-job history floors decided by the start-time probe.
	// Lost on restart, in which case the default window applies again.
	mu      sync.Mutex
	windows map[string]int64
}

// NewMachine creates a job state machine. ecoDB may be nil.
func NewMachine(cfg Config, st *store.Store, src *source.Client, ecoDB *eco.Database, log zerolog.Logger) *Machine {
	cfg.defaults()
	return &Machine{
		cfg:     cfg,
		st:      st,
		src:     src,
		eco:     ecoDB,
		log:     log,
		windows: make(map[string]int64),
	}
}

func jobKey(j *store.ImportJob) string {
	return j.User + "|" + j.Platform + "|" + string(j.TargetType) + "|" + j.Username
}

// Start upserts the job into running with a cursor seeded from now.
// Idempotent: restarting keeps counts and the ready flag. For opponent jobs
// a quick account probe decides whether to widen the fallback history
// window; probe failure or timeout never blocks the start.
func (m *Machine) Start(ctx context.Context, user, platform string, tt store.TargetType, username string) (*store.ImportJob, error) {
	job, err := m.st.UpsertJobStart(ctx, store.ImportJob{
		User:       user,
		Platform:   platform,
		TargetType: tt,
		Username:   username,
		Cursor:     time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("start import: %w", err)
	}

	sinceMs := time.Now().Add(-m.cfg.DefaultWindow).UnixMilli()
	if tt == store.TargetOpponent {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		info, probeErr := m.src.User(probeCtx, username)
		cancel()
		if probeErr != nil {
			m.log.Debug().Err(probeErr).Str("username", username).Msg("account probe failed, keeping default window")
		} else if int64(info.TotalGames()) < m.cfg.ReadyThreshold*5 {
			// Thin history: widen to everything the account has.
			sinceMs = 0
		}
	}
	m.mu.Lock()
	m.windows[jobKey(job)] = sinceMs
	m.mu.Unlock()

	return job, nil
}

// Stop marks the job stopped; the supervisor stops picking it up.
func (m *Machine) Stop(ctx context.Context, user, platform string, tt store.TargetType, username string) (*store.ImportJob, error) {
	job, err := m.st.GetJob(ctx, user, platform, tt, username)
	if err != nil {
		return nil, err
	}
	job.Status = store.StatusStopped
	if err := m.st.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Continue fetches and persists one batch. Invoking it against a
// non-running job is a no-op returning the current state. Zero fetched
// games, or a batch shorter than the requested cap, means history is
// exhausted and the job completes.
func (m *Machine) Continue(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error) {
	if job.Status != store.StatusRunning {
		return job, nil
	}
	start := time.Now()
	defer func() { metrics.ContinueDuration.Observe(time.Since(start).Seconds()) }()

	batchCap := m.cfg.BatchPreReady
	if job.Ready {
		batchCap = m.cfg.BatchPostReady
	}

	m.mu.Lock()
	sinceMs, haveWindow := m.windows[jobKey(job)]
	m.mu.Unlock()
	if !haveWindow {
		sinceMs = time.Now().Add(-m.cfg.DefaultWindow).UnixMilli()
	}

	games, _, err := m.src.FetchPage(ctx, source.Query{
		Username: job.Username,
		UntilMs:  job.Cursor,
		SinceMs:  sinceMs,
		Max:      batchCap,
	})
	if err != nil {
		return m.fail(ctx, job, fmt.Errorf("fetch batch: %w", err))
	}

	if len(games) > 0 {
		rows := make([]store.Game, 0, len(games))
		oldest := int64(0)
		for i := range games {
			in := importer.InputFromRecord(&games[i])
			// Every fetched record moves the cursor, including ones the
			// subject match rejects, or a fully-skipped full batch would
			// refetch the same window forever.
			ts := games[i].CreatedAt
			if ts == 0 {
				ts = in.PlayedAtMs
			}
			if oldest == 0 || ts < oldest {
				oldest = ts
			}
			ig, ok := importer.IndexGame(in, job.Username, m.eco, m.cfg.TraceLen)
			if !ok {
				continue
			}
			rows = append(rows, ig.StoreGame(job.Platform))
		}

		inserted, err := m.st.InsertGames(ctx, rows)
		if err != nil {
			return m.fail(ctx, job, fmt.Errorf("persist batch: %w", err))
		}
		job.ImportedCount += int64(inserted)
		metrics.GamesImported.WithLabelValues(job.Platform).Add(float64(inserted))

		// Page backward: next batch ends just before the oldest game seen.
		if oldest > 0 && oldest <= job.Cursor {
			job.Cursor = oldest - 1
		}

		if job.TargetType == store.TargetOpponent {
			indexed, err := m.indexSlice(ctx, job)
			if err != nil {
				return m.fail(ctx, job, fmt.Errorf("index batch: %w", err))
			}
			job.IndexedCount += int64(indexed)
		}
	}

	if !job.Ready && job.IndexedCount >= m.cfg.ReadyThreshold {
		job.Ready = true
		job.Stage = store.StageArchiving
	}

	if len(games) == 0 || len(games) < batchCap {
		job.Status = store.StatusComplete
		job.Stage = store.StageComplete
	}

	if err := m.st.UpdateJob(ctx, job); err != nil {
		return job, fmt.Errorf("persist job state: %w", err)
	}
	return job, nil
}

// Reindex is the idempotent catch-up path: when persisted games outnumber
// indexed ones, index the next bounded slice. Safe to call on any job.
func (m *Machine) Reindex(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error) {
	if job.IndexedCount >= job.ImportedCount {
		return job, nil
	}
	indexed, err := m.indexSlice(ctx, job)
	if err != nil {
		return m.fail(ctx, job, fmt.Errorf("reindex: %w", err))
	}
	job.IndexedCount += int64(indexed)
	if !job.Ready && job.IndexedCount >= m.cfg.ReadyThreshold {
		job.Ready = true
		if job.Stage == store.StageIndexing {
			job.Stage = store.StageArchiving
		}
	}
	if err := m.st.UpdateJob(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// indexSlice pulls the next slice of persisted-but-unindexed games and
// turns them into move events and graph node merges.
func (m *Machine) indexSlice(ctx context.Context, job *store.ImportJob) (int, error) {
	games, err := m.st.GamesNeedingIndex(ctx, job.User, job.Platform, job.Username, m.cfg.IndexSlice)
	if err != nil {
		return 0, err
	}
	if len(games) == 0 {
		return 0, nil
	}

	agg := graph.NewAggregator()
	var events []store.MoveEvent
	ids := make([]string, 0, len(games))
	for i := range games {
		ids = append(ids, games[i].ID)
		ig, ok := importer.IndexGame(importer.InputFromStored(&games[i]), job.Username, m.eco, m.cfg.TraceLen)
		if !ok {
			continue
		}
		for _, f := range ig.Facts() {
			agg.Record(ig.FilterKeys, f)
		}
		events = append(events, ig.Events(job.User, job.Platform, job.Username)...)
	}

	if err := m.st.MergeNodes(ctx, job.User, job.Platform, job.Username, agg.Drain()); err != nil {
		return 0, err
	}
	if err := m.st.UpsertEvents(ctx, events); err != nil {
		return 0, err
	}
	if err := m.st.MarkIndexed(ctx, job.User, job.Platform, ids); err != nil {
		return 0, err
	}
	metrics.EventsIndexed.Add(float64(len(events)))
	return len(ids), nil
}

// fail records the error on the job without rolling back committed
// progress. Rate-limit and auth errors stay transient: the job keeps its
// running status and the supervisor backs off instead.
func (m *Machine) fail(ctx context.Context, job *store.ImportJob, err error) (*store.ImportJob, error) {
	if errors.Is(err, source.ErrRateLimited) {
		metrics.RateLimited.Inc()
		return job, err
	}
	if errors.Is(err, source.ErrAuth) {
		return job, err
	}
	job.Status = store.StatusError
	job.LastError = err.Error()
	if uerr := m.st.UpdateJob(ctx, job); uerr != nil {
		m.log.Error().Err(uerr).Msg("failed to persist job error state")
	}
	return job, err
}
