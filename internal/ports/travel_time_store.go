package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Port: persistent storage for travel-time entries keyed by
// (origin, destination, profile, departure bucket).
type TravelTimeStore interface {
	// Fetch all entries present for the given keys. Missing keys are
	// simply absent from the result, never an error.
	GetMany(ctx context.Context, keys []domain.TravelTimeKey) (map[domain.TravelTimeKey]domain.TravelTime, error)
	// Insert or update entries. Re-upserting an existing key must be a
	// no-op apart from refreshing the stored payload.
	UpsertMany(ctx context.Context, entries []domain.TravelTime) error
}
