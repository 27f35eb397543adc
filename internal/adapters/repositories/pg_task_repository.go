package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the TaskRepository port.
type PGTaskRepository struct{ DB *sql.DB }

func NewPGTaskRepository(db *sql.DB) *PGTaskRepository {
	return &PGTaskRepository{DB: db}
}

// Remove all tasks derived for a run.
func (r *PGTaskRepository) DeleteForRun(ctx context.Context, runID int64) error {
	if r.DB == nil {
		return errors.New("task repository: DB is nil")
	}

	if _, err := r.DB.ExecContext(ctx, `DELETE FROM routing_tasks WHERE run_id = $1;`, runID); err != nil {
		return fmt.Errorf("delete tasks: run %d: %w", runID, err)
	}
	return nil
}

const insertTaskQuery = `
INSERT INTO routing_tasks (run_id, request_id, user_id, pair_key, kind, node_id, window_start, window_end, window_state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING task_id;
`

// Store one PICK/DROP pair in a single transaction.
func (r *PGTaskRepository) CreatePair(ctx context.Context, pick, drop domain.RoutingTask) (domain.RoutingTask, domain.RoutingTask, error) {
	var zero domain.RoutingTask
	if r.DB == nil {
		return zero, zero, errors.New("task repository: DB is nil")
	}
	if pick.Kind != domain.TaskPick || drop.Kind != domain.TaskDrop {
		return zero, zero, fmt.Errorf("create task pair: got kinds %s/%s, want %s/%s", pick.Kind, drop.Kind, domain.TaskPick, domain.TaskDrop)
	}
	if pick.PairKey != drop.PairKey {
		return zero, zero, fmt.Errorf("create task pair: pair keys differ: %q vs %q", pick.PairKey, drop.PairKey)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, zero, fmt.Errorf("create task pair: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range []*domain.RoutingTask{&pick, &drop} {
		row := tx.QueryRowContext(ctx, insertTaskQuery,
			t.RunID, t.RequestID, t.UserID, t.PairKey, t.Kind, t.NodeID,
			t.Window.Start, t.Window.End, t.WindowState)
		if err := row.Scan(&t.TaskID); err != nil {
			return zero, zero, fmt.Errorf("create task pair %q: insert %s: %w", t.PairKey, t.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return zero, zero, fmt.Errorf("create task pair %q: commit tx: %w", pick.PairKey, err)
	}

	return pick, drop, nil
}

// List a run's tasks ordered by id.
func (r *PGTaskRepository) ListForRun(ctx context.Context, runID int64) ([]domain.RoutingTask, error) {
	if r.DB == nil {
		return nil, errors.New("task repository: DB is nil")
	}

	query := `
	SELECT task_id, run_id, request_id, user_id, pair_key, kind, node_id, window_start, window_end, window_state
	FROM routing_tasks
	WHERE run_id = $1
	ORDER BY task_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: query routing_tasks table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoutingTask, 0, 32)
	for rows.Next() {
		var t domain.RoutingTask
		if err := rows.Scan(&t.TaskID, &t.RunID, &t.RequestID, &t.UserID, &t.PairKey, &t.Kind,
			&t.NodeID, &t.Window.Start, &t.Window.End, &t.WindowState); err != nil {
			return nil, fmt.Errorf("list tasks: scan row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: row iteration: %w", err)
	}

	return out, nil
}

// Persist recomputed windows after finalization.
func (r *PGTaskRepository) UpdateWindows(ctx context.Context, tasks []domain.RoutingTask) error {
	if r.DB == nil {
		return errors.New("task repository: DB is nil")
	}
	if len(tasks) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update task windows: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	UPDATE routing_tasks
	SET window_start = $2, window_end = $3, window_state = $4
	WHERE task_id = $1;
	`)
	if err != nil {
		return fmt.Errorf("update task windows: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		if _, err := stmt.ExecContext(ctx, t.TaskID, t.Window.Start, t.Window.End, t.WindowState); err != nil {
			return fmt.Errorf("update task windows: task %d: %w", t.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update task windows: commit tx: %w", err)
	}

	return nil
}
