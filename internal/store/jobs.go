package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle axis of an import job.
type JobStatus string

const (
	StatusIdle     JobStatus = "idle"
	StatusRunning  JobStatus = "running"
	StatusStopped  JobStatus = "stopped"
	StatusComplete JobStatus = "complete"
	StatusError    JobStatus = "error"
)

// JobStage is the coarse progress axis for opponent-type jobs.
type JobStage string

const (
	StageIndexing  JobStage = "indexing"  // pre-ready
	StageArchiving JobStage = "archiving" // post-ready
	StageComplete  JobStage = "complete"
)

// TargetType distinguishes whose history a job imports.
type TargetType string

const (
	TargetOpponent TargetType = "opponent"
	TargetSelf     TargetType = "self"
)

// ImportJob is the single mutable control-plane record for one
// (user, platform, target-type, username) import.
type ImportJob struct {
	ID            string     `json:"id"`
	User          string     `json:"user"`
	Platform      string     `json:"platform"`
	TargetType    TargetType `json:"target_type"`
	Username      string     `json:"username"`
	Status        JobStatus  `json:"status"`
	Stage         JobStage   `json:"stage"`
	Cursor        int64      `json:"cursor"` // exclusive upper ms bound for the next page
	ImportedCount int64      `json:"imported_count"`
	IndexedCount  int64      `json:"indexed_count"`
	Ready         bool       `json:"ready"`
	LastError     string     `json:"last_error,omitempty"`
	UpdatedAt     int64      `json:"updated_at"`
}

// UpsertJobStart creates or restarts a job: status becomes running, the
// cursor is reseeded, the last error cleared. Counts and the ready flag
// survive a restart.
func (s *Store) UpsertJobStart(ctx context.Context, job ImportJob) (*ImportJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_jobs
			(id, user, platform, target_type, username, status, stage, cursor,
			 imported_count, indexed_count, ready, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, 'running', 'indexing', ?, 0, 0, 0, '', ?)
		ON CONFLICT(user, platform, target_type, username) DO UPDATE SET
			status = 'running',
			cursor = excluded.cursor,
			last_error = '',
			updated_at = excluded.updated_at`,
		job.ID, job.User, job.Platform, string(job.TargetType), job.Username,
		job.Cursor, now)
	if err != nil {
		return nil, err
	}
	s.writes.Add(1)
	return s.GetJob(ctx, job.User, job.Platform, job.TargetType, job.Username)
}

// UpdateJob writes the job row in place, keyed by its natural key.
func (s *Store) UpdateJob(ctx context.Context, job *ImportJob) error {
	job.UpdatedAt = time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs SET
			status = ?, stage = ?, cursor = ?, imported_count = ?,
			indexed_count = ?, ready = ?, last_error = ?, updated_at = ?
		WHERE user = ? AND platform = ? AND target_type = ? AND username = ?`,
		string(job.Status), string(job.Stage), job.Cursor, job.ImportedCount,
		job.IndexedCount, boolInt(job.Ready), job.LastError, job.UpdatedAt,
		job.User, job.Platform, string(job.TargetType), job.Username)
	if err == nil {
		s.writes.Add(1)
	}
	return err
}

// GetJob loads one job, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, user, platform string, tt TargetType, username string) (*ImportJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user, platform, target_type, username, status, stage, cursor,
		       imported_count, indexed_count, ready, last_error, updated_at
		FROM import_jobs
		WHERE user = ? AND platform = ? AND target_type = ? AND username = ? COLLATE NOCASE`,
		user, platform, string(tt), username)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.reads.Add(1)
	return job, nil
}

// ListJobs returns every job for a user.
func (s *Store) ListJobs(ctx context.Context, user string) ([]ImportJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, platform, target_type, username, status, stage, cursor,
		       imported_count, indexed_count, ready, last_error, updated_at
		FROM import_jobs WHERE user = ? ORDER BY updated_at DESC`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	s.reads.Add(uint64(len(jobs)))
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*ImportJob, error) {
	var job ImportJob
	var tt, status, stage string
	var ready int
	if err := row.Scan(&job.ID, &job.User, &job.Platform, &tt, &job.Username,
		&status, &stage, &job.Cursor, &job.ImportedCount, &job.IndexedCount,
		&ready, &job.LastError, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.TargetType = TargetType(tt)
	job.Status = JobStatus(status)
	job.Stage = JobStage(stage)
	job.Ready = ready != 0
	return &job, nil
}
