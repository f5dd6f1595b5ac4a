// Package supervisor runs the recurring poll/backoff loop that drives
// import jobs forward, one continuation at a time.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/metrics"
	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
)

// Runner advances one job. Implemented by jobs.Machine.
type Runner interface {
	Continue(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error)
	Reindex(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error)
}

// JobLister enumerates a user's jobs. Implemented by store.Store.
type JobLister interface {
	ListJobs(ctx context.Context, user string) ([]store.ImportJob, error)
}

// Config configures the supervisor loop.
type Config struct {
	User         string
	Interval     time.Duration // tick cadence (default 5s)
	BackoffBase  time.Duration // first rate-limit backoff (default 10s)
	BackoffMax   time.Duration // backoff ceiling (default 10m)
	AuthCooldown time.Duration // pause after auth failures (default 15m)
	InFlightTTL  time.Duration // forget a continuation that never reported back (default 2m)
	Logger       zerolog.Logger
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 10 * time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.AuthCooldown == 0 {
		c.AuthCooldown = 15 * time.Minute
	}
	if c.InFlightTTL == 0 {
		c.InFlightTTL = 2 * time.Minute
	}
}

// outcome is what a finished continuation reports back to the loop.
type outcome struct {
	id       string
	username string
	err      error
}

// Supervisor starts at most one job mutation per tick, across all jobs.
// Continuations run in the background one at a time and report back on a
// channel; every other piece of state is touched only from the loop
// goroutine, so no locking is needed. A continuation that outlives its
// in-flight TTL (a hung fetch, say) is forgotten so the job can be retried.
type Supervisor struct {
	cfg    Config
	jobs   JobLister
	runner Runner
	log    zerolog.Logger

	inFlight   map[string]time.Time // job id -> expiry
	done       chan outcome
	backoff    time.Duration
	pauseUntil time.Time

	launch func(func())     // test seam
	now    func() time.Time // test seam
}

// New creates a supervisor.
func New(cfg Config, jobs JobLister, runner Runner) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		cfg:      cfg,
		jobs:     jobs,
		runner:   runner,
		log:      cfg.Logger,
		inFlight: make(map[string]time.Time),
		done:     make(chan outcome, 4),
		launch:   func(f func()) { go f() },
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling round: collect finished continuations, prune
// stale in-flight entries, then start at most one eligible job. Exposed for
// tests.
func (s *Supervisor) Tick(ctx context.Context) {
	s.collect()

	now := s.now()
	if now.Before(s.pauseUntil) {
		return
	}

	for id, expiry := range s.inFlight {
		if now.After(expiry) {
			s.log.Warn().Str("job", id).Msg("continuation never reported back, forgetting")
			delete(s.inFlight, id)
		}
	}
	// Single-writer discipline: nothing new while a continuation is live.
	if len(s.inFlight) > 0 {
		return
	}

	jobList, err := s.jobs.ListJobs(ctx, s.cfg.User)
	if err != nil {
		s.log.Warn().Err(err).Msg("list jobs failed")
		return
	}

	for i := range jobList {
		job := &jobList[i]
		needsIndexing := job.TargetType == store.TargetOpponent && job.IndexedCount < job.ImportedCount
		if job.Status != store.StatusRunning && !needsIndexing {
			continue
		}

		s.inFlight[job.ID] = now.Add(s.cfg.InFlightTTL)
		s.launch(func() { s.advance(ctx, job) })
		return // one job per tick
	}
}

// collect drains finished continuations without blocking. A continuation
// whose in-flight entry was already pruned still gets its backoff applied.
func (s *Supervisor) collect() {
	for {
		select {
		case res := <-s.done:
			delete(s.inFlight, res.id)
			s.apply(res)
		default:
			return
		}
	}
}

func (s *Supervisor) advance(ctx context.Context, job *store.ImportJob) {
	var err error
	if job.Status == store.StatusRunning {
		_, err = s.runner.Continue(ctx, job)
	} else {
		_, err = s.runner.Reindex(ctx, job)
	}
	s.done <- outcome{id: job.ID, username: job.Username, err: err}
}

func (s *Supervisor) apply(res outcome) {
	switch {
	case res.err == nil:
		s.resetBackoff()
	case errors.Is(res.err, source.ErrRateLimited):
		s.doubleBackoff()
		s.log.Warn().
			Dur("backoff", s.backoff).
			Str("username", res.username).
			Msg("rate limited, backing off")
	case errors.Is(res.err, source.ErrAuth):
		s.pauseUntil = s.now().Add(s.cfg.AuthCooldown)
		s.log.Warn().
			Time("until", s.pauseUntil).
			Msg("auth failure, cooling down")
	default:
		// The machine already recorded the error on the job row.
		s.log.Error().Err(res.err).Str("username", res.username).Msg("job continuation failed")
	}
}

func (s *Supervisor) doubleBackoff() {
	if s.backoff == 0 {
		s.backoff = s.cfg.BackoffBase
	} else {
		s.backoff *= 2
		if s.backoff > s.cfg.BackoffMax {
			s.backoff = s.cfg.BackoffMax
		}
	}
	s.pauseUntil = s.now().Add(s.backoff)
	metrics.SupervisorBackoff.Set(s.backoff.Seconds())
}

func (s *Supervisor) resetBackoff() {
	if s.backoff != 0 {
		s.backoff = 0
		metrics.SupervisorBackoff.Set(0)
	}
}

// Backoff returns the current backoff window (for the debug surface).
func (s *Supervisor) Backoff() time.Duration { return s.backoff }
