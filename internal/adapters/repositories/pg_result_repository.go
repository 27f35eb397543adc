package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the ResultRepository port.
type PGResultRepository struct{ DB *sql.DB }

func NewPGResultRepository(db *sql.DB) *PGResultRepository {
	return &PGResultRepository{DB: db}
}

// Replace a run's reconstructed schedule in a single transaction.
func (r *PGResultRepository) ReplaceForRun(ctx context.Context, runID int64, events []domain.ScheduleEvent) error {
	if r.DB == nil {
		return errors.New("result repository: DB is nil")
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace schedule: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_events WHERE run_id = $1;`, runID); err != nil {
		return fmt.Errorf("replace schedule: delete run %d: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO schedule_events (run_id, vehicle_id, seq, kind, task_id, node_id, arrive_at, depart_at, passengers, meta)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`)
	if err != nil {
		return fmt.Errorf("replace schedule: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		meta := e.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("replace schedule: marshal meta: %w", err)
		}

		var taskID any
		if e.TaskID != nil {
			taskID = *e.TaskID
		}
		if _, err := stmt.ExecContext(ctx, runID, e.VehicleID, e.Seq, e.Kind, taskID, e.NodeID, e.ArriveAt, e.DepartAt, e.Passengers, metaJSON); err != nil {
			return fmt.Errorf("replace schedule: insert vehicle %d seq %d: %w", e.VehicleID, e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace schedule: commit tx: %w", err)
	}

	return nil
}

// List a run's schedule ordered by vehicle, then sequence.
func (r *PGResultRepository) ListForRun(ctx context.Context, runID int64) ([]domain.ScheduleEvent, error) {
	if r.DB == nil {
		return nil, errors.New("result repository: DB is nil")
	}

	query := `
	SELECT result_id, run_id, vehicle_id, seq, kind, task_id, node_id, arrive_at, depart_at, passengers, meta
	FROM schedule_events
	WHERE run_id = $1
	ORDER BY vehicle_id, seq;
	`
	rows, err := r.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list schedule: query schedule_events table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScheduleEvent, 0, 32)
	for rows.Next() {
		var e domain.ScheduleEvent
		var taskID sql.NullInt64
		var metaJSON []byte
		if err := rows.Scan(&e.ResultID, &e.RunID, &e.VehicleID, &e.Seq, &e.Kind, &taskID,
			&e.NodeID, &e.ArriveAt, &e.DepartAt, &e.Passengers, &metaJSON); err != nil {
			return nil, fmt.Errorf("list schedule: scan row: %w", err)
		}
		if taskID.Valid {
			id := taskID.Int64
			e.TaskID = &id
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Meta); err != nil {
				return nil, fmt.Errorf("list schedule: parse meta: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedule: row iteration: %w", err)
	}

	return out, nil
}
