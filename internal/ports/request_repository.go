package ports

import (
	"context"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// Port: storage for imported transport requests.
type RequestRepository interface {
	// Store a batch of imported requests and return them with ids.
	CreateMany(ctx context.Context, reqs []domain.TransportRequest) ([]domain.TransportRequest, error)
	// List a facility's requests whose target time falls on the given
	// local service date, in import order.
	ListForFacilityDate(ctx context.Context, facilityName string, date time.Time) ([]domain.TransportRequest, error)
}
