package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/scoutbook/internal/source"
	"github.com/freeeve/scoutbook/internal/store"
	"github.com/freeeve/scoutbook/internal/supervisor"
)

const (
	testBackoffBase  = 10 * time.Second
	testBackoffMax   = 10 * time.Minute
	testAuthCooldown = 15 * time.Minute
	testInFlightTTL  = 2 * time.Minute
)

type fakeRunner struct {
	continueErr error
	reindexErr  error
	continued   []string
	reindexed   []string
}

func (f *fakeRunner) Continue(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error) {
	f.continued = append(f.continued, job.Username)
	return job, f.continueErr
}

func (f *fakeRunner) Reindex(ctx context.Context, job *store.ImportJob) (*store.ImportJob, error) {
	f.reindexed = append(f.reindexed, job.Username)
	return job, f.reindexErr
}

type fakeLister struct {
	jobs []store.ImportJob
	err  error
}

func (f *fakeLister) ListJobs(ctx context.Context, user string) ([]store.ImportJob, error) {
	return f.jobs, f.err
}

// newTestSupervisor pins the clock and runs continuations inline, so a
// continuation's outcome is collected on the tick after it started.
func newTestSupervisor(lister supervisor.JobLister, runner supervisor.Runner) (*supervisor.Supervisor, *time.Time) {
	s := supervisor.New(supervisor.Config{
		User:         "local",
		BackoffBase:  testBackoffBase,
		BackoffMax:   testBackoffMax,
		AuthCooldown: testAuthCooldown,
		InFlightTTL:  testInFlightTTL,
		Logger:       zerolog.Nop(),
	}, lister, runner)
	now := time.Unix(1000, 0)
	s.SetNow(func() time.Time { return now })
	s.SetLaunch(func(f func()) { f() })
	return s, &now
}

func runningJob(id, username string) store.ImportJob {
	return store.ImportJob{
		ID: id, User: "local", Platform: "lichess",
		TargetType: store.TargetOpponent, Username: username,
		Status: store.StatusRunning,
	}
}

func TestTickAdvancesOneJobOnly(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{jobs: []store.ImportJob{
		runningJob("a", "alpha"),
		runningJob("b", "beta"),
	}}
	s, _ := newTestSupervisor(lister, runner)

	s.Tick(context.Background())
	if len(runner.continued) != 1 || runner.continued[0] != "alpha" {
		t.Errorf("first tick: %v", runner.continued)
	}

	s.Tick(context.Background())
	if len(runner.continued) != 2 {
		t.Errorf("second tick: %v", runner.continued)
	}
}

func TestTickSkipsInactiveJobs(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{jobs: []store.ImportJob{
		{ID: "a", Username: "done", TargetType: store.TargetOpponent,
			Status: store.StatusComplete, ImportedCount: 5, IndexedCount: 5},
		{ID: "b", Username: "stopped", TargetType: store.TargetSelf,
			Status: store.StatusStopped},
	}}
	s, _ := newTestSupervisor(lister, runner)

	s.Tick(context.Background())
	if len(runner.continued)+len(runner.reindexed) != 0 {
		t.Errorf("inactive jobs advanced: %v %v", runner.continued, runner.reindexed)
	}
}

func TestTickReindexesLaggingJob(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{jobs: []store.ImportJob{
		{ID: "a", Username: "lagging", TargetType: store.TargetOpponent,
			Status: store.StatusComplete, ImportedCount: 10, IndexedCount: 4},
	}}
	s, _ := newTestSupervisor(lister, runner)

	s.Tick(context.Background())
	if len(runner.reindexed) != 1 || runner.reindexed[0] != "lagging" {
		t.Errorf("lagging job not reindexed: %v", runner.reindexed)
	}
	if len(runner.continued) != 0 {
		t.Errorf("non-running job must not be continued: %v", runner.continued)
	}
}

func TestRateLimitBackoffDoublesAndCaps(t *testing.T) {
	runner := &fakeRunner{continueErr: source.ErrRateLimited}
	lister := &fakeLister{jobs: []store.ImportJob{runningJob("a", "alpha")}}
	s, now := newTestSupervisor(lister, runner)

	s.Tick(context.Background()) // continuation starts and gets rate limited
	s.Tick(context.Background()) // outcome collected, backoff applied
	if s.Backoff() != testBackoffBase {
		t.Fatalf("first backoff: %v", s.Backoff())
	}

	// Ticks inside the pause window do nothing.
	before := len(runner.continued)
	s.Tick(context.Background())
	if len(runner.continued) != before {
		t.Error("tick during pause advanced a job")
	}

	// Each rate-limited continuation doubles the window, up to the cap.
	for i := 0; i < 10; i++ {
		*now = now.Add(s.Backoff() + time.Second)
		s.Tick(context.Background())
		s.Tick(context.Background())
	}
	if s.Backoff() != testBackoffMax {
		t.Errorf("backoff not capped: %v", s.Backoff())
	}

	// Success resets to zero.
	runner.continueErr = nil
	*now = now.Add(testBackoffMax + time.Second)
	s.Tick(context.Background())
	s.Tick(context.Background())
	if s.Backoff() != 0 {
		t.Errorf("backoff not reset on success: %v", s.Backoff())
	}
}

func TestAuthFailurePausesLoop(t *testing.T) {
	runner := &fakeRunner{continueErr: source.ErrAuth}
	lister := &fakeLister{jobs: []store.ImportJob{runningJob("a", "alpha")}}
	s, now := newTestSupervisor(lister, runner)

	s.Tick(context.Background())
	s.Tick(context.Background()) // auth outcome collected, cooldown set
	attempts := len(runner.continued)

	// Inside the cooldown nothing runs, even far past any backoff.
	*now = now.Add(testAuthCooldown - time.Second)
	s.Tick(context.Background())
	if len(runner.continued) != attempts {
		t.Error("tick during auth cooldown advanced a job")
	}

	// After the cooldown the loop resumes.
	*now = now.Add(2 * time.Second)
	s.Tick(context.Background())
	if len(runner.continued) != attempts+1 {
		t.Error("loop did not resume after auth cooldown")
	}
}

func TestStaleContinuationForgotten(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{jobs: []store.ImportJob{runningJob("a", "alpha")}}
	s, now := newTestSupervisor(lister, runner)

	// A continuation that hangs: started, never reports back.
	var launches int
	s.SetLaunch(func(func()) { launches++ })

	s.Tick(context.Background())
	if launches != 1 {
		t.Fatalf("launches after first tick: %d", launches)
	}

	// While it is considered live nothing else starts.
	s.Tick(context.Background())
	if launches != 1 {
		t.Error("started a second continuation while one is in flight")
	}

	// Past the TTL the entry is forgotten and the job is retried.
	*now = now.Add(testInFlightTTL + time.Second)
	s.Tick(context.Background())
	if launches != 2 {
		t.Errorf("stale continuation not retried: launches=%d", launches)
	}
}

func TestListErrorIsTransient(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{err: context.DeadlineExceeded}
	s, _ := newTestSupervisor(lister, runner)

	s.Tick(context.Background())
	if len(runner.continued) != 0 {
		t.Errorf("advanced despite list failure: %v", runner.continued)
	}

	lister.err = nil
	lister.jobs = []store.ImportJob{runningJob("a", "alpha")}
	s.Tick(context.Background())
	if len(runner.continued) != 1 {
		t.Error("loop did not recover after list failure")
	}
}
