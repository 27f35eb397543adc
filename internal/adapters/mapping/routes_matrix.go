package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Departure    int64       `json:"departure,omitempty"`
}

type matrixResponse struct {
	Durations [][]*float64 `json:"durations"`
	Distances [][]*float64 `json:"distances"`
}

type matrixElement struct {
	DurationSec    int `json:"duration_sec"`
	DistanceMeters int `json:"distance_m"`
}

// ComputeMatrix retrieves travel times for the requested source and
// destination combinations in a single matrix call.
func (c *Client) ComputeMatrix(
	ctx context.Context,
	req ports.MatrixRequest,
) (_ []ports.MatrixEntry, err error) {
	defer obs.Time(ctx, "mapping.ComputeMatrix")(&err)

	if len(req.Points) == 0 {
		return nil, errors.New("compute matrix: no points")
	}
	if len(req.Sources) == 0 || len(req.Dests) == 0 {
		return nil, errors.New("compute matrix: sources and destinations must be non-empty")
	}
	for _, idx := range req.Sources {
		if idx < 0 || idx >= len(req.Points) {
			return nil, fmt.Errorf("compute matrix: source index %d out of range", idx)
		}
	}
	for _, idx := range req.Dests {
		if idx < 0 || idx >= len(req.Points) {
			return nil, fmt.Errorf("compute matrix: destination index %d out of range", idx)
		}
	}

	profile := req.Profile
	if profile == "" {
		profile = "driving-car"
	}
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", c.baseURL, profile)

	locations := make([][]float64, 0, len(req.Points))
	for _, p := range req.Points {
		locations = append(locations, p.Coords.CoordsToList())
	}

	bodyObj := matrixRequest{
		Locations:    locations,
		Sources:      req.Sources,
		Destinations: req.Dests,
		Metrics:      []string{"distance", "duration"},
		Departure:    req.DepartureBucket,
	}

	payload, err := json.Marshal(bodyObj)
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		body := bytes.NewReader(payload)
		return c.newRequest(ctx, http.MethodPost, endpoint, body)
	})
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "mapping-matrix", Status: statusOf(err), Err: err}
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}

	if len(mr.Durations) != len(req.Sources) || len(mr.Distances) != len(req.Sources) {
		return nil, fmt.Errorf(
			"expected %d source rows; got durations=%d distances=%d",
			len(req.Sources), len(mr.Durations), len(mr.Distances),
		)
	}

	entries := make([]ports.MatrixEntry, 0, len(req.Sources)*len(req.Dests))
	for i, si := range req.Sources {
		durRow := mr.Durations[i]
		distRow := mr.Distances[i]
		if len(durRow) != len(req.Dests) || len(distRow) != len(req.Dests) {
			return nil, fmt.Errorf(
				"row %d lengths do not match destinations: durations=%d distances=%d destinations=%d",
				i, len(durRow), len(distRow), len(req.Dests),
			)
		}

		for j, dj := range req.Dests {
			origin := req.Points[si].NodeID
			dest := req.Points[dj].NodeID
			if origin == dest {
				continue
			}

			secondsPtr := durRow[j]
			metersPtr := distRow[j]
			if secondsPtr == nil || metersPtr == nil {
				return nil, fmt.Errorf("matrix returned invalid metrics for %d -> %d", origin, dest)
			}

			// Float metrics; round to nearest integer for domain consistency.
			elem := matrixElement{
				DurationSec:    int(math.Round(*secondsPtr)),
				DistanceMeters: int(math.Round(*metersPtr)),
			}
			raw, err := json.Marshal(elem)
			if err != nil {
				return nil, fmt.Errorf("marshal matrix element: %w", err)
			}

			entries = append(entries, ports.MatrixEntry{
				OriginID:       origin,
				DestID:         dest,
				DurationSec:    elem.DurationSec,
				DistanceMeters: elem.DistanceMeters,
				Raw:            raw,
			})
		}
	}

	return entries, nil
}
