package ports

import (
	"context"

	"shuttle-dispatch-service/internal/domain"
)

// Port: the user registry.
type UserRepository interface {
	// Fetch users by display name. Unknown names are absent from the
	// result. Inactive users are included; callers decide whether the
	// active flag matters.
	GetByNames(ctx context.Context, names []string) (map[string]domain.User, error)
	// Fetch users by id. Unknown ids are absent from the result.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error)
}

// Port: the facility registry.
type FacilityRepository interface {
	// Fetch facilities by display name. Unknown names are absent from
	// the result.
	GetByNames(ctx context.Context, names []string) (map[string]domain.Facility, error)
	// Fetch facilities by id. Unknown ids are absent from the result.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Facility, error)
}

// Port: the vehicle registry.
type VehicleRepository interface {
	// List the active vehicles of one facility, ordered by id.
	ListActiveForFacility(ctx context.Context, facilityID int64) ([]domain.Vehicle, error)
	// Fetch vehicles by id regardless of active flag.
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Vehicle, error)
}
