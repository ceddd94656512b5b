package load

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"mdetl/internal/retry"
)

// RunRow is the pipeline_metadata row shape. Durations and Params are
// JSON blobs so the schema survives new phases and parameter fields.
type RunRow struct {
	RunID        string         `db:"run_id"`
	PipelineName string         `db:"pipeline_name"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	EndedAt      sql.NullTime   `db:"ended_at"`
	Extracted    int            `db:"records_extracted"`
	Standardized int            `db:"records_standardized"`
	Accepted     int            `db:"records_accepted"`
	Rejected     int            `db:"records_rejected"`
	Loaded       int            `db:"records_loaded"`
	Failed       int            `db:"records_failed"`
	Warnings     int            `db:"warnings"`
	Durations    []byte         `db:"phase_durations"`
	Params       []byte         `db:"params"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// RunStore persists run metadata. Each run writes exactly two
// statements: one insert at start, one update at finalization.
type RunStore struct {
	db     execer
	policy *retry.Policy
	logger *slog.Logger
}

// NewRunStore creates a RunStore over an open store.
func NewRunStore(store *Store, policy *retry.Policy, logger *slog.Logger) *RunStore {
	return newRunStore(store.DB(), policy, logger)
}

func newRunStore(db execer, policy *retry.Policy, logger *slog.Logger) *RunStore {
	if policy == nil {
		policy = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{db: db, policy: policy, logger: logger}
}

const createRunQuery = `
	INSERT INTO pipeline_metadata (
		run_id, pipeline_name, status, started_at, params
	) VALUES (
		:run_id, :pipeline_name, :status, :started_at, :params
	)`

const finalizeRunQuery = `
	UPDATE pipeline_metadata SET
		status = :status,
		ended_at = :ended_at,
		records_extracted = :records_extracted,
		records_standardized = :records_standardized,
		records_accepted = :records_accepted,
		records_rejected = :records_rejected,
		records_loaded = :records_loaded,
		records_failed = :records_failed,
		warnings = :warnings,
		phase_durations = :phase_durations,
		error_message = :error_message
	WHERE run_id = :run_id AND ended_at IS NULL`

// Create writes the running row at pipeline start.
func (s *RunStore) Create(ctx context.Context, row RunRow) error {
	return s.policy.Do(ctx, "create run "+row.RunID, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, createRunQuery, row)
		return classifyStoreError(err)
	})
}

// Finalize writes the terminal state. The ended_at guard makes the
// transition one-way: a finalized run is never rewritten.
func (s *RunStore) Finalize(ctx context.Context, row RunRow) error {
	// Finalization must survive cancellation of the run itself, so it
	// runs on a fresh context with a short deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	return s.policy.Do(ctx, "finalize run "+row.RunID, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, finalizeRunQuery, row)
		return classifyStoreError(err)
	})
}
