package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"shuttle-dispatch-service/internal/domain"
)

// Initialize the Postgres schema.
func InitSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createNodesQuery := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'place' CHECK (kind IN ('place', 'depot')),
		address TEXT NOT NULL DEFAULT '',
		lon DOUBLE PRECISION,
		lat DOUBLE PRECISION,
		place_ref TEXT NOT NULL DEFAULT '',
		owner_user_id BIGINT,
		owner_facility_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (name, kind),
		CHECK (owner_user_id IS NULL OR owner_facility_id IS NULL)
	);
	`

	createFacilitiesQuery := `
	CREATE TABLE IF NOT EXISTS facilities (
		facility_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		node_id BIGINT NOT NULL REFERENCES nodes(node_id),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	createUsersQuery := `
	CREATE TABLE IF NOT EXISTS users (
		user_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		facility_id BIGINT NOT NULL REFERENCES facilities(facility_id),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	createVehiclesQuery := `
	CREATE TABLE IF NOT EXISTS vehicles (
		vehicle_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		seats INTEGER NOT NULL,
		facility_id BIGINT NOT NULL REFERENCES facilities(facility_id),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	createRequestsQuery := `
	CREATE TABLE IF NOT EXISTS transport_requests (
		request_id BIGSERIAL PRIMARY KEY,
		user_name TEXT NOT NULL,
		facility_name TEXT NOT NULL,
		place_name TEXT NOT NULL DEFAULT '',
		pickup BOOLEAN NOT NULL,
		target_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`

	createRunsQuery := `
	CREATE TABLE IF NOT EXISTS optimization_runs (
		run_id BIGSERIAL PRIMARY KEY,
		facility_id BIGINT NOT NULL REFERENCES facilities(facility_id),
		service_date DATE NOT NULL,
		scheduled_start TIMESTAMPTZ NOT NULL,
		profile TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_by TEXT NOT NULL DEFAULT '',
		meta JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);
	`

	createTasksQuery := `
	CREATE TABLE IF NOT EXISTS routing_tasks (
		task_id BIGSERIAL PRIMARY KEY,
		run_id BIGINT NOT NULL REFERENCES optimization_runs(run_id) ON DELETE CASCADE,
		request_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		pair_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		node_id BIGINT NOT NULL REFERENCES nodes(node_id),
		window_start TIMESTAMPTZ NOT NULL,
		window_end TIMESTAMPTZ NOT NULL,
		window_state TEXT NOT NULL DEFAULT 'final'
	);
	`

	createTravelTimeCacheQuery := `
	CREATE TABLE IF NOT EXISTS travel_time_cache (
		origin_node BIGINT NOT NULL REFERENCES nodes(node_id),
		dest_node BIGINT NOT NULL REFERENCES nodes(node_id),
		profile TEXT NOT NULL,
		departure_bucket BIGINT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		distance_meters INTEGER NOT NULL,
		options TEXT NOT NULL DEFAULT '',
		payload JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (origin_node, dest_node, profile, departure_bucket)
	);
	`

	createEventsQuery := `
	CREATE TABLE IF NOT EXISTS schedule_events (
		result_id BIGSERIAL PRIMARY KEY,
		run_id BIGINT NOT NULL REFERENCES optimization_runs(run_id) ON DELETE CASCADE,
		vehicle_id BIGINT NOT NULL REFERENCES vehicles(vehicle_id),
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		task_id BIGINT REFERENCES routing_tasks(task_id) ON DELETE CASCADE,
		node_id BIGINT NOT NULL,
		arrive_at TIMESTAMPTZ NOT NULL,
		depart_at TIMESTAMPTZ NOT NULL,
		passengers INTEGER NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}'::jsonb,
		UNIQUE (run_id, vehicle_id, seq)
	);
	`

	createTaskRunIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_routing_tasks_run
	ON routing_tasks(run_id);
	`

	createRequestTargetIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_transport_requests_facility_target
	ON transport_requests(facility_name, target_at);
	`

	createRunFacilityDateIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_optimization_runs_facility_date
	ON optimization_runs(facility_id, service_date);
	`

	createTravelTimeDestIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_travel_time_cache_dest_origin
	ON travel_time_cache(dest_node, origin_node);
	`

	statements := []string{
		createNodesQuery,
		createFacilitiesQuery,
		createUsersQuery,
		createVehiclesQuery,
		createRequestsQuery,
		createRunsQuery,
		createTasksQuery,
		createTravelTimeCacheQuery,
		createEventsQuery,
		createTaskRunIndexQuery,
		createRequestTargetIndexQuery,
		createRunFacilityDateIndexQuery,
		createTravelTimeDestIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type NodeSeed struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

type FacilitySeed struct {
	Name      string `json:"name"`
	DepotNode string `json:"depot_node"`
	Active    *bool  `json:"active"`
}

type UserSeed struct {
	Name     string `json:"name"`
	Facility string `json:"facility"`
	Place    string `json:"place"`
	Active   *bool  `json:"active"`
}

type VehicleSeed struct {
	Name     string `json:"name"`
	Seats    int    `json:"seats"`
	Facility string `json:"facility"`
	Active   *bool  `json:"active"`
}

type SeedFile struct {
	Nodes      []NodeSeed     `json:"nodes"`
	Facilities []FacilitySeed `json:"facilities"`
	Users      []UserSeed     `json:"users"`
	Vehicles   []VehicleSeed  `json:"vehicles"`
}

// Populate the registries from a JSON file. Entities reference each
// other by name so seed files stay readable; re-seeding updates rows in
// place. A user's place seed stamps ownership onto the matching place
// node, a facility stamps its depot node.
func SeedFromJSON(db *sql.DB, jsonPath string) error {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("seed registries: read %q: %w", jsonPath, err)
	}

	var data SeedFile
	if err := json.Unmarshal(bytes, &data); err != nil {
		return fmt.Errorf("seed registries: parse json: %w", err)
	}

	for i, n := range data.Nodes {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("seed registries: node at index %d: name cannot be empty", i+1)
		}
		kind := domain.NodeKind(strings.TrimSpace(n.Kind))
		if kind != domain.NodePlace && kind != domain.NodeDepot {
			return fmt.Errorf("seed registries: node %q: kind must be %q or %q", n.Name, domain.NodePlace, domain.NodeDepot)
		}
	}
	for i, v := range data.Vehicles {
		if v.Seats <= 0 {
			return fmt.Errorf("seed registries: vehicle %q at index %d: seats must be positive", v.Name, i+1)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("seed registries: begin tx: %w", err)
	}
	defer tx.Rollback()

	nodeQuery := `
	INSERT INTO nodes (name, kind, address)
	VALUES ($1, $2, $3)
	ON CONFLICT (name, kind) DO UPDATE SET address = EXCLUDED.address;
	`
	for _, n := range data.Nodes {
		if _, err := tx.Exec(nodeQuery, strings.TrimSpace(n.Name), strings.TrimSpace(n.Kind), strings.TrimSpace(n.Address)); err != nil {
			return fmt.Errorf("seed registries: insert node %q: %w", n.Name, err)
		}
	}

	facilityQuery := `
	INSERT INTO facilities (name, node_id, active)
	SELECT $1, node_id, $2 FROM nodes WHERE name = $3 AND kind = 'depot'
	ON CONFLICT (name) DO UPDATE
	SET node_id = EXCLUDED.node_id,
		active = EXCLUDED.active;
	`
	facilityOwnerQuery := `
	UPDATE nodes SET owner_facility_id = f.facility_id
	FROM facilities f
	WHERE f.name = $1 AND nodes.node_id = f.node_id AND nodes.owner_user_id IS NULL;
	`
	for _, f := range data.Facilities {
		active := true
		if f.Active != nil {
			active = *f.Active
		}
		res, err := tx.Exec(facilityQuery, strings.TrimSpace(f.Name), active, strings.TrimSpace(f.DepotNode))
		if err != nil {
			return fmt.Errorf("seed registries: insert facility %q: %w", f.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("seed registries: facility %q references unknown depot node %q", f.Name, f.DepotNode)
		}
		if _, err := tx.Exec(facilityOwnerQuery, strings.TrimSpace(f.Name)); err != nil {
			return fmt.Errorf("seed registries: stamp depot owner for %q: %w", f.Name, err)
		}
	}

	userQuery := `
	INSERT INTO users (name, facility_id, active)
	SELECT $1, facility_id, $2 FROM facilities WHERE name = $3
	ON CONFLICT (name) DO UPDATE
	SET facility_id = EXCLUDED.facility_id,
		active = EXCLUDED.active;
	`
	userPlaceQuery := `
	UPDATE nodes SET owner_user_id = u.user_id
	FROM users u
	WHERE u.name = $1 AND nodes.name = $2 AND nodes.kind = 'place'
		AND nodes.owner_facility_id IS NULL;
	`
	for _, u := range data.Users {
		active := true
		if u.Active != nil {
			active = *u.Active
		}
		res, err := tx.Exec(userQuery, strings.TrimSpace(u.Name), active, strings.TrimSpace(u.Facility))
		if err != nil {
			return fmt.Errorf("seed registries: insert user %q: %w", u.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("seed registries: user %q references unknown facility %q", u.Name, u.Facility)
		}
		if place := strings.TrimSpace(u.Place); place != "" {
			res, err := tx.Exec(userPlaceQuery, strings.TrimSpace(u.Name), place)
			if err != nil {
				return fmt.Errorf("seed registries: stamp place owner for %q: %w", u.Name, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("seed registries: user %q references unknown place %q", u.Name, place)
			}
		}
	}

	vehicleQuery := `
	INSERT INTO vehicles (name, seats, facility_id, active)
	SELECT $1, $2, facility_id, $3 FROM facilities WHERE name = $4
	ON CONFLICT (name) DO UPDATE
	SET seats = EXCLUDED.seats,
		facility_id = EXCLUDED.facility_id,
		active = EXCLUDED.active;
	`
	for _, v := range data.Vehicles {
		active := true
		if v.Active != nil {
			active = *v.Active
		}
		res, err := tx.Exec(vehicleQuery, strings.TrimSpace(v.Name), v.Seats, active, strings.TrimSpace(v.Facility))
		if err != nil {
			return fmt.Errorf("seed registries: insert vehicle %q: %w", v.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("seed registries: vehicle %q references unknown facility %q", v.Name, v.Facility)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed registries: commit tx: %w", err)
	}

	return nil
}
