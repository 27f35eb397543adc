package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the RequestRepository port.
type PGRequestRepository struct{ DB *sql.DB }

func NewPGRequestRepository(db *sql.DB) *PGRequestRepository {
	return &PGRequestRepository{DB: db}
}

// Store a batch of imported requests.
func (r *PGRequestRepository) CreateMany(ctx context.Context, reqs []domain.TransportRequest) ([]domain.TransportRequest, error) {
	if r.DB == nil {
		return nil, errors.New("request repository: DB is nil")
	}

	if len(reqs) == 0 {
		return nil, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create requests: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO transport_requests (user_name, facility_name, place_name, pickup, target_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING request_id, created_at;
	`)
	if err != nil {
		return nil, fmt.Errorf("create requests: prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]domain.TransportRequest, 0, len(reqs))
	for _, req := range reqs {
		row := stmt.QueryRowContext(ctx, req.UserName, req.FacilityName, req.PlaceName, req.Pickup, req.TargetAt)
		if err := row.Scan(&req.RequestID, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("create requests: insert for user %q: %w", req.UserName, err)
		}
		out = append(out, req)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create requests: commit tx: %w", err)
	}

	return out, nil
}

// List a facility's requests whose target time falls on the given
// local day. Import order (ascending id) keeps pair keys stable across
// derivations.
func (r *PGRequestRepository) ListForFacilityDate(ctx context.Context, facilityName string, date time.Time) ([]domain.TransportRequest, error) {
	if r.DB == nil {
		return nil, errors.New("request repository: DB is nil")
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
	SELECT request_id, user_name, facility_name, place_name, pickup, target_at, created_at
	FROM transport_requests
	WHERE facility_name = $1 AND target_at >= $2 AND target_at < $3
	ORDER BY request_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, facilityName, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list requests: query transport_requests table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TransportRequest, 0, 32)
	for rows.Next() {
		var req domain.TransportRequest
		if err := rows.Scan(&req.RequestID, &req.UserName, &req.FacilityName, &req.PlaceName, &req.Pickup, &req.TargetAt, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("list requests: scan row: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: row iteration: %w", err)
	}

	return out, nil
}
