package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
)

// SQLTravelTimeStore is the SQL-backed store for travel-time entries
// keyed by (origin, destination, profile, departure bucket).
type SQLTravelTimeStore struct {
	DB *sql.DB
}

func NewSQLTravelTimeStore(db *sql.DB) *SQLTravelTimeStore {
	return &SQLTravelTimeStore{DB: db}
}

// Fetch all cached entries for the given keys.
func (s *SQLTravelTimeStore) GetMany(
	ctx context.Context,
	keys []domain.TravelTimeKey,
) (_ map[domain.TravelTimeKey]domain.TravelTime, err error) {
	defer obs.Time(ctx, "traveltime.store.GetMany")(&err)

	if s.DB == nil {
		return nil, errors.New("travel time store: db is nil")
	}

	if len(keys) == 0 {
		return map[domain.TravelTimeKey]domain.TravelTime{}, nil
	}

	seen := map[domain.TravelTimeKey]struct{}{}
	origins := make([]int64, 0, len(keys))
	dests := make([]int64, 0, len(keys))
	profiles := make([]string, 0, len(keys))
	buckets := make([]int64, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		origins = append(origins, k.OriginID)
		dests = append(dests, k.DestID)
		profiles = append(profiles, k.Profile)
		buckets = append(buckets, k.Bucket)
	}

	q := `
	SELECT origin_node, dest_node, profile, departure_bucket, duration_seconds, distance_meters, options, payload, updated_at
	FROM travel_time_cache
	WHERE (origin_node, dest_node, profile, departure_bucket) IN (
		SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::bigint[])
	);
	`

	rows, err := s.DB.QueryContext(ctx, q, origins, dests, profiles, buckets)
	if err != nil {
		return nil, fmt.Errorf("get travel times: query travel_time_cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.TravelTimeKey]domain.TravelTime, len(keys))
	for rows.Next() {
		var tt domain.TravelTime
		if err := rows.Scan(&tt.Key.OriginID, &tt.Key.DestID, &tt.Key.Profile, &tt.Key.Bucket,
			&tt.DurationSec, &tt.DistanceMeters, &tt.Options, &tt.Raw, &tt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get travel times: scan rows: %w", err)
		}
		out[tt.Key] = tt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get travel times: row iteration: %w", err)
	}

	return out, nil
}

// Store entries, updating any that already exist. Safe to call with the
// same batch twice; the second call only refreshes payloads.
func (s *SQLTravelTimeStore) UpsertMany(ctx context.Context, entries []domain.TravelTime) (err error) {
	defer obs.Time(ctx, "traveltime.store.UpsertMany")(&err)

	if s.DB == nil {
		return errors.New("travel time store: db is nil")
	}

	if len(entries) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert travel times: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO travel_time_cache (origin_node, dest_node, profile, departure_bucket, duration_seconds, distance_meters, options, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (origin_node, dest_node, profile, departure_bucket) DO UPDATE
	SET duration_seconds = EXCLUDED.duration_seconds,
		distance_meters = EXCLUDED.distance_meters,
		options = EXCLUDED.options,
		payload = EXCLUDED.payload,
		updated_at = now();
	`)
	if err != nil {
		return fmt.Errorf("upsert travel times: db prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Key.OriginID == e.Key.DestID {
			continue
		}

		var payload any
		if len(e.Raw) > 0 {
			payload = []byte(e.Raw)
		}
		if _, err := stmt.ExecContext(ctx, e.Key.OriginID, e.Key.DestID, e.Key.Profile, e.Key.Bucket,
			e.DurationSec, e.DistanceMeters, e.Options, payload); err != nil {
			return fmt.Errorf("upsert travel times %d->%d: %w", e.Key.OriginID, e.Key.DestID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert travel times commit: %w", err)
	}

	return nil
}
