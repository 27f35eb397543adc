package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the RunRepository port.
type PGRunRepository struct{ DB *sql.DB }

func NewPGRunRepository(db *sql.DB) *PGRunRepository {
	return &PGRunRepository{DB: db}
}

// Persist a new run in pending state.
func (r *PGRunRepository) Create(ctx context.Context, run domain.OptimizationRun) (domain.OptimizationRun, error) {
	if r.DB == nil {
		return domain.OptimizationRun{}, errors.New("run repository: DB is nil")
	}

	meta := run.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return domain.OptimizationRun{}, fmt.Errorf("create run: marshal meta: %w", err)
	}

	query := `
	INSERT INTO optimization_runs (facility_id, service_date, scheduled_start, profile, status, requested_by, meta)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING run_id, created_at;
	`
	run.Status = domain.RunPending
	row := r.DB.QueryRowContext(ctx, query, run.FacilityID, run.ServiceDate, run.ScheduledStart, run.Profile, run.Status, run.RequestedBy, metaJSON)
	if err := row.Scan(&run.RunID, &run.CreatedAt); err != nil {
		return domain.OptimizationRun{}, fmt.Errorf("create run: insert: %w", err)
	}
	run.Meta = meta

	return run, nil
}

// Fetch one run by id.
func (r *PGRunRepository) Get(ctx context.Context, runID int64) (domain.OptimizationRun, error) {
	if r.DB == nil {
		return domain.OptimizationRun{}, errors.New("run repository: DB is nil")
	}

	query := `
	SELECT run_id, facility_id, service_date, scheduled_start, profile, status, requested_by, meta, created_at, started_at, finished_at
	FROM optimization_runs
	WHERE run_id = $1;
	`
	var run domain.OptimizationRun
	var metaJSON []byte
	var startedAt, finishedAt sql.NullTime
	row := r.DB.QueryRowContext(ctx, query, runID)
	err := row.Scan(&run.RunID, &run.FacilityID, &run.ServiceDate, &run.ScheduledStart, &run.Profile, &run.Status,
		&run.RequestedBy, &metaJSON, &run.CreatedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OptimizationRun{}, fmt.Errorf("get run %d: %w", runID, domain.ErrRunNotFound)
	}
	if err != nil {
		return domain.OptimizationRun{}, fmt.Errorf("get run %d: scan row: %w", runID, err)
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Meta); err != nil {
			return domain.OptimizationRun{}, fmt.Errorf("get run %d: parse meta: %w", runID, err)
		}
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return run, nil
}

// Find the newest pending or running run for a facility and service
// date.
func (r *PGRunRepository) FindActiveForDate(ctx context.Context, facilityID int64, date time.Time) (domain.OptimizationRun, bool, error) {
	if r.DB == nil {
		return domain.OptimizationRun{}, false, errors.New("run repository: DB is nil")
	}

	query := `
	SELECT run_id
	FROM optimization_runs
	WHERE facility_id = $1 AND service_date = $2 AND status IN ('pending', 'running')
	ORDER BY run_id DESC
	LIMIT 1;
	`
	var runID int64
	err := r.DB.QueryRowContext(ctx, query, facilityID, date).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OptimizationRun{}, false, nil
	}
	if err != nil {
		return domain.OptimizationRun{}, false, fmt.Errorf("find active run for %s: %w", date.Format("2006-01-02"), err)
	}

	run, err := r.Get(ctx, runID)
	if err != nil {
		return domain.OptimizationRun{}, false, err
	}
	return run, true, nil
}

// Atomically move a run between statuses. The guard on the current
// status makes concurrent transitions race-safe: exactly one caller
// sees true.
func (r *PGRunRepository) Transition(ctx context.Context, runID int64, from, to domain.RunStatus) (bool, error) {
	if r.DB == nil {
		return false, errors.New("run repository: DB is nil")
	}
	if !from.CanTransition(to) {
		return false, &domain.StateTransitionError{RunID: runID, From: from, To: to}
	}

	query := `
	UPDATE optimization_runs
	SET status = $3,
		started_at = CASE WHEN $3 = 'running' THEN now() ELSE started_at END,
		finished_at = CASE WHEN $3 IN ('success', 'failed') THEN now() ELSE finished_at END
	WHERE run_id = $1 AND status = $2;
	`
	res, err := r.DB.ExecContext(ctx, query, runID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition run %d %s->%s: %w", runID, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition run %d: rows affected: %w", runID, err)
	}

	return n == 1, nil
}

// Merge a patch into the run's metadata.
func (r *PGRunRepository) MergeMeta(ctx context.Context, runID int64, patch map[string]any) error {
	if r.DB == nil {
		return errors.New("run repository: DB is nil")
	}
	if len(patch) == 0 {
		return nil
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("merge run meta: marshal patch: %w", err)
	}

	query := `
	UPDATE optimization_runs
	SET meta = meta || $2::jsonb
	WHERE run_id = $1;
	`
	res, err := r.DB.ExecContext(ctx, query, runID, patchJSON)
	if err != nil {
		return fmt.Errorf("merge run meta: update run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("merge run meta: run %d: %w", runID, domain.ErrRunNotFound)
	}

	return nil
}
