package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shuttle-dispatch-service/internal/domain"
)

// Postgres-backed implementation of the NodeRepository port.
type PGNodeRepository struct{ DB *sql.DB }

func NewPGNodeRepository(db *sql.DB) *PGNodeRepository {
	return &PGNodeRepository{DB: db}
}

func scanNode(rows *sql.Rows) (domain.Node, error) {
	var n domain.Node
	var lon, lat sql.NullFloat64
	var ownerUser, ownerFacility sql.NullInt64
	err := rows.Scan(&n.NodeID, &n.Name, &n.Kind, &n.Address, &lon, &lat, &n.PlaceRef, &ownerUser, &ownerFacility, &n.CreatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	if lon.Valid && lat.Valid {
		n.Coords = &domain.Coordinates{Lon: lon.Float64, Lat: lat.Float64}
	}
	if ownerUser.Valid {
		n.OwnerUserID = &ownerUser.Int64
	}
	if ownerFacility.Valid {
		n.OwnerFacilityID = &ownerFacility.Int64
	}
	return n, nil
}

// Fetch nodes by id.
func (r *PGNodeRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Node, error) {
	if r.DB == nil {
		return nil, errors.New("node repository: DB is nil")
	}

	if len(ids) == 0 {
		return map[int64]domain.Node{}, nil
	}

	query := `
	SELECT node_id, name, kind, address, lon, lat, place_ref, owner_user_id, owner_facility_id, created_at
	FROM nodes
	WHERE node_id = ANY($1::bigint[]);
	`
	rows, err := r.DB.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get nodes: query nodes table: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.Node, len(ids))
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("get nodes: scan row: %w", err)
		}
		out[n.NodeID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get nodes: row iteration: %w", err)
	}

	return out, nil
}

// Fetch nodes of one kind by display name.
func (r *PGNodeRepository) GetByNames(ctx context.Context, names []string, kind domain.NodeKind) (map[string]domain.Node, error) {
	if r.DB == nil {
		return nil, errors.New("node repository: DB is nil")
	}

	if len(names) == 0 {
		return map[string]domain.Node{}, nil
	}

	query := `
	SELECT node_id, name, kind, address, lon, lat, place_ref, owner_user_id, owner_facility_id, created_at
	FROM nodes
	WHERE name = ANY($1::text[]) AND kind = $2;
	`
	rows, err := r.DB.QueryContext(ctx, query, names, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get nodes by name: query nodes table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Node, len(names))
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("get nodes by name: scan row: %w", err)
		}
		out[n.Name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get nodes by name: row iteration: %w", err)
	}

	return out, nil
}

// List every registered node ordered by id.
func (r *PGNodeRepository) ListAll(ctx context.Context) ([]domain.Node, error) {
	if r.DB == nil {
		return nil, errors.New("node repository: DB is nil")
	}

	query := `
	SELECT node_id, name, kind, address, lon, lat, place_ref, owner_user_id, owner_facility_id, created_at
	FROM nodes
	ORDER BY node_id;
	`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list nodes: query nodes table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Node, 0, 64)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list nodes: scan row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list nodes: row iteration: %w", err)
	}

	return out, nil
}

// Write geocoded coordinates back onto a node.
func (r *PGNodeRepository) SetCoords(ctx context.Context, nodeID int64, coords domain.Coordinates, placeRef string) error {
	if r.DB == nil {
		return errors.New("node repository: DB is nil")
	}

	query := `
	UPDATE nodes
	SET lon = $2, lat = $3, place_ref = $4
	WHERE node_id = $1;
	`
	res, err := r.DB.ExecContext(ctx, query, nodeID, coords.Lon, coords.Lat, placeRef)
	if err != nil {
		return fmt.Errorf("set node coords: update node %d: %w", nodeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set node coords: node %d not found", nodeID)
	}

	return nil
}
