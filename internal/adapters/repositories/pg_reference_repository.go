package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the UserRepository port.
type PGUserRepository struct{ DB *sql.DB }

func NewPGUserRepository(db *sql.DB) *PGUserRepository {
	return &PGUserRepository{DB: db}
}

// Fetch users by display name.
func (r *PGUserRepository) GetByNames(ctx context.Context, names []string) (map[string]domain.User, error) {
	if r.DB == nil {
		return nil, errors.New("user repository: DB is nil")
	}

	if len(names) == 0 {
		return map[string]domain.User{}, nil
	}

	query := `
	SELECT user_id, name, facility_id, active
	FROM users
	WHERE name = ANY($1::text[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("get users: query users table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.User, len(names))
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UserID, &u.Name, &u.FacilityID, &u.Active); err != nil {
			return nil, fmt.Errorf("get users: scan row: %w", err)
		}
		out[u.Name] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get users: row iteration: %w", err)
	}

	return out, nil
}

// Fetch users by id.
func (r *PGUserRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	if r.DB == nil {
		return nil, errors.New("user repository: DB is nil")
	}

	if len(ids) == 0 {
		return map[int64]domain.User{}, nil
	}

	query := `
	SELECT user_id, name, facility_id, active
	FROM users
	WHERE user_id = ANY($1::bigint[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get users: query users table: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.User, len(ids))
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UserID, &u.Name, &u.FacilityID, &u.Active); err != nil {
			return nil, fmt.Errorf("get users: scan row: %w", err)
		}
		out[u.UserID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get users: row iteration: %w", err)
	}

	return out, nil
}

// Postgres-backed implementation of the FacilityRepository port.
type PGFacilityRepository struct{ DB *sql.DB }

func NewPGFacilityRepository(db *sql.DB) *PGFacilityRepository {
	return &PGFacilityRepository{DB: db}
}

// Fetch facilities by display name.
func (r *PGFacilityRepository) GetByNames(ctx context.Context, names []string) (map[string]domain.Facility, error) {
	if r.DB == nil {
		return nil, errors.New("facility repository: DB is nil")
	}

	if len(names) == 0 {
		return map[string]domain.Facility{}, nil
	}

	query := `
	SELECT facility_id, name, node_id, active
	FROM facilities
	WHERE name = ANY($1::text[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("get facilities by name: query facilities table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Facility, len(names))
	for rows.Next() {
		var f domain.Facility
		if err := rows.Scan(&f.FacilityID, &f.Name, &f.NodeID, &f.Active); err != nil {
			return nil, fmt.Errorf("get facilities by name: scan row: %w", err)
		}
		out[f.Name] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get facilities by name: row iteration: %w", err)
	}

	return out, nil
}

// Fetch facilities by id.
func (r *PGFacilityRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Facility, error) {
	if r.DB == nil {
		return nil, errors.New("facility repository: DB is nil")
	}

	if len(ids) == 0 {
		return map[int64]domain.Facility{}, nil
	}

	query := `
	SELECT facility_id, name, node_id, active
	FROM facilities
	WHERE facility_id = ANY($1::bigint[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get facilities: query facilities table: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.Facility, len(ids))
	for rows.Next() {
		var f domain.Facility
		if err := rows.Scan(&f.FacilityID, &f.Name, &f.NodeID, &f.Active); err != nil {
			return nil, fmt.Errorf("get facilities: scan row: %w", err)
		}
		out[f.FacilityID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get facilities: row iteration: %w", err)
	}

	return out, nil
}

// Postgres-backed implementation of the VehicleRepository port.
type PGVehicleRepository struct{ DB *sql.DB }

func NewPGVehicleRepository(db *sql.DB) *PGVehicleRepository {
	return &PGVehicleRepository{DB: db}
}

const selectVehicleColumns = `vehicle_id, name, seats, facility_id, active`

// List one facility's active vehicles, ordered by id.
func (r *PGVehicleRepository) ListActiveForFacility(ctx context.Context, facilityID int64) ([]domain.Vehicle, error) {
	if r.DB == nil {
		return nil, errors.New("vehicle repository: DB is nil")
	}

	query := `
	SELECT ` + selectVehicleColumns + `
	FROM vehicles
	WHERE active AND facility_id = $1
	ORDER BY vehicle_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, facilityID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: query vehicles table: %w", err)
	}
	defer rows.Close()

	return scanVehicles(rows)
}

// Fetch vehicles by id regardless of active flag.
func (r *PGVehicleRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Vehicle, error) {
	if r.DB == nil {
		return nil, errors.New("vehicle repository: DB is nil")
	}

	if len(ids) == 0 {
		return map[int64]domain.Vehicle{}, nil
	}

	query := `
	SELECT ` + selectVehicleColumns + `
	FROM vehicles
	WHERE vehicle_id = ANY($1::bigint[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get vehicles: query vehicles table: %w", err)
	}
	defer rows.Close()

	list, err := scanVehicles(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]domain.Vehicle, len(list))
	for _, v := range list {
		out[v.VehicleID] = v
	}
	return out, nil
}

func scanVehicles(rows *sql.Rows) ([]domain.Vehicle, error) {
	out := make([]domain.Vehicle, 0, 8)
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.VehicleID, &v.Name, &v.Seats, &v.FacilityID, &v.Active); err != nil {
			return nil, fmt.Errorf("scan vehicle row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vehicle row iteration: %w", err)
	}
	return out, nil
}
