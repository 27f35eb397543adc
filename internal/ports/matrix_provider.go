package ports

import (
	"context"
	"encoding/json"

	"shuttle-dispatch-service/internal/domain"
)

// One geocoded location for a matrix call.
type MatrixPoint struct {
	NodeID int64
	Coords domain.Coordinates
}

// A batched matrix request. Sources and Dests index into Points; the
// provider returns one entry per (source, dest) combination for the
// given profile and departure bucket. Options names a provider option
// context (e.g. a traffic model); providers that don't support one
// ignore it.
type MatrixRequest struct {
	Profile         string
	DepartureBucket int64
	Options         string
	Points          []MatrixPoint
	Sources         []int
	Dests           []int
}

// Travel time and distance for one ordered node pair. Raw preserves the
// provider's element payload for caching.
type MatrixEntry struct {
	OriginID       int64
	DestID         int64
	DurationSec    int
	DistanceMeters int
	Raw            json.RawMessage
}

// Result of resolving one address to coordinates.
type GeocodeResult struct {
	Coords   domain.Coordinates
	PlaceRef string
}

// Contract for the external mapping service.
type MatrixProvider interface {
	// Resolve addresses to coordinates. The result maps each input
	// address that could be resolved; absent keys mean no match.
	GeocodeMany(ctx context.Context, addresses []string) (map[string]GeocodeResult, error)
	// Compute travel times for the requested source/dest combinations.
	ComputeMatrix(ctx context.Context, req MatrixRequest) ([]MatrixEntry, error)
}
