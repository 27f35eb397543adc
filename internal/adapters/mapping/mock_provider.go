package mapping

import (
	"context"
	"fmt"
	"sync"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/ports"
)

type MockPair struct {
	From, To int64
	Seconds  int
	Meters   int
}

// MockProvider serves matrix and geocode calls from fixed tables. It
// backs local development without an API key and service tests.
// Cache backfill fans groups out to goroutines, so call counters are
// mutex-guarded; read them only after the call under test returns.
type MockProvider struct {
	mu           sync.Mutex
	pairs        map[string]matrixElement
	geocoded     map[string]ports.GeocodeResult
	matrixCalls  int
	geocodeCalls int
}

func NewMockProvider(pairs []MockPair) *MockProvider {
	m := make(map[string]matrixElement, len(pairs))
	for _, p := range pairs {
		m[pairKey(p.From, p.To)] = matrixElement{DurationSec: p.Seconds, DistanceMeters: p.Meters}
	}
	return &MockProvider{pairs: m, geocoded: map[string]ports.GeocodeResult{}}
}

// SetGeocode registers a canned geocode result for an address.
func (p *MockProvider) SetGeocode(address string, res ports.GeocodeResult) {
	p.mu.Lock()
	p.geocoded[address] = res
	p.mu.Unlock()
}

// MatrixCalls reports how many matrix calls were served.
func (p *MockProvider) MatrixCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matrixCalls
}

// GeocodeCalls reports how many geocode batches were served.
func (p *MockProvider) GeocodeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geocodeCalls
}

func (p *MockProvider) GeocodeMany(ctx context.Context, addresses []string) (map[string]ports.GeocodeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.geocodeCalls++
	out := make(map[string]ports.GeocodeResult)
	for _, a := range addresses {
		if res, ok := p.geocoded[a]; ok {
			out[a] = res
		}
	}
	return out, nil
}

func (p *MockProvider) ComputeMatrix(ctx context.Context, req ports.MatrixRequest) ([]ports.MatrixEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.matrixCalls++
	entries := make([]ports.MatrixEntry, 0, len(req.Sources)*len(req.Dests))
	for _, si := range req.Sources {
		for _, dj := range req.Dests {
			origin := req.Points[si].NodeID
			dest := req.Points[dj].NodeID
			if origin == dest {
				continue
			}
			elem, ok := p.pairs[pairKey(origin, dest)]
			if !ok {
				return nil, &domain.ExternalServiceError{
					Service: "mapping-matrix",
					Err:     fmt.Errorf("missing pair %d -> %d", origin, dest),
				}
			}
			entries = append(entries, ports.MatrixEntry{
				OriginID:       origin,
				DestID:         dest,
				DurationSec:    elem.DurationSec,
				DistanceMeters: elem.DistanceMeters,
			})
		}
	}
	return entries, nil
}

func pairKey(from, to int64) string { return fmt.Sprintf("%d|%d", from, to) }
