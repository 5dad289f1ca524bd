package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/marketd/internal/database"
)

// jobState is the durable record for one scheduled job. It is msgpack-encoded
// into the state blob; the spec and next_run columns are denormalized copies
// for inspection with plain SQL.
type jobState struct {
	ID           string        `msgpack:"id"`
	Spec         string        `msgpack:"spec"`
	RunOnStart   bool          `msgpack:"run_on_start"`
	Paused       bool          `msgpack:"paused"`
	LastRun      time.Time     `msgpack:"last_run"`
	NextRun      time.Time     `msgpack:"next_run"`
	MisfireGrace time.Duration `msgpack:"misfire_grace"`
}

// JobRun is one row of a job's execution history.
type JobRun struct {
	ID         int64
	JobID      string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	Error      string
}

const runTimeLayout = time.RFC3339Nano

// JobStore persists job schedules and run history in the jobs database.
type JobStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewJobStore creates a job store.
func NewJobStore(db *database.DB, log zerolog.Logger) *JobStore {
	return &JobStore{
		db:  db,
		log: log.With().Str("component", "job_store").Logger(),
	}
}

// Save writes or replaces the durable record for one job.
func (s *JobStore) Save(ctx context.Context, state jobState) error {
	blob, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to encode job state: %w", err)
	}

	query := `
		INSERT INTO scheduled_jobs (id, spec, next_run, state) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			spec = excluded.spec,
			next_run = excluded.next_run,
			state = excluded.state
	`
	var nextRun interface{}
	if !state.NextRun.IsZero() {
		nextRun = state.NextRun.UTC().Format(runTimeLayout)
	}
	if _, err := s.db.ExecContext(ctx, query, state.ID, state.Spec, nextRun, blob); err != nil {
		return fmt.Errorf("failed to save job %s: %w", state.ID, err)
	}
	return nil
}

// Get returns the stored record for one job, or nil when absent.
func (s *JobStore) Get(ctx context.Context, id string) (*jobState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT state FROM scheduled_jobs WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var state jobState
	if err := msgpack.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("failed to decode job %s state: %w", id, err)
	}
	return &state, nil
}

// Load returns every stored job record.
func (s *JobStore) Load(ctx context.Context) ([]jobState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state FROM scheduled_jobs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	defer rows.Close()

	var states []jobState
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan job state: %w", err)
		}
		var state jobState
		if err := msgpack.Unmarshal(blob, &state); err != nil {
			return nil, fmt.Errorf("failed to decode job state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return states, nil
}

// Delete removes the durable record for one job. Run history is kept.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// RecordRunStart inserts a history row for a run that just began and
// returns its id.
func (s *JobStore) RecordRunStart(ctx context.Context, jobID string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO job_runs (job_id, started_at) VALUES (?, ?)",
		jobID, startedAt.UTC().Format(runTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run start for %s: %w", jobID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// RecordRunFinish completes a history row.
func (s *JobStore) RecordRunFinish(ctx context.Context, runID int64, finishedAt time.Time, ok bool, runErr string) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE job_runs SET finished_at = ?, ok = ?, error = ? WHERE id = ?",
		finishedAt.UTC().Format(runTimeLayout), okInt, runErr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish %d: %w", runID, err)
	}
	return nil
}

// Runs returns a job's most recent history rows, newest first.
func (s *JobStore) Runs(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	query := `
		SELECT id, job_id, started_at, finished_at, ok, error
		FROM job_runs
		WHERE job_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for %s: %w", jobID, err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var (
			run        JobRun
			startedAt  string
			finishedAt sql.NullString
			ok         sql.NullInt64
			runErr     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.JobID, &startedAt, &finishedAt, &ok, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.StartedAt, err = time.Parse(runTimeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("stored run start %q is not parseable: %w", startedAt, err)
		}
		if finishedAt.Valid {
			run.FinishedAt, err = time.Parse(runTimeLayout, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("stored run finish %q is not parseable: %w", finishedAt.String, err)
			}
		}
		run.OK = ok.Valid && ok.Int64 == 1
		run.Error = runErr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
