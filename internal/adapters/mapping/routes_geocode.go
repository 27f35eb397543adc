package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

type geocodeResponse struct {
	Features []struct {
		Properties struct {
			GID string `json:"gid"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// GeocodeMany resolves addresses individually (/geocode/search). Calls
// are deduplicated and retried; addresses with no match are left out of
// the result rather than failing the batch.
func (c *Client) GeocodeMany(
	ctx context.Context,
	addresses []string,
) (_ map[string]ports.GeocodeResult, err error) {
	defer obs.Time(ctx, "mapping.GeocodeMany")(&err)

	endpoint := c.baseURL + "/geocode/search"

	seen := make(map[string]struct{}, len(addresses))
	out := make(map[string]ports.GeocodeResult)
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}

		norm := c.normalize(a)
		if norm == "" {
			continue
		}

		resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
			req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			q := req.URL.Query()
			q.Set("text", norm)
			q.Set("boundary.country", c.country)
			q.Set("size", "1")
			req.URL.RawQuery = q.Encode()
			return req, nil
		})
		if err != nil {
			return nil, &domain.ExternalServiceError{Service: "mapping-geocode", Status: statusOf(err), Err: err}
		}

		var decoded geocodeResponse
		err = json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode geocode response: %w", err)
		}

		if len(decoded.Features) == 0 {
			continue
		}

		coords := decoded.Features[0].Geometry.Coordinates
		if len(coords) != 2 {
			return nil, fmt.Errorf("invalid coordinate format for %q", a)
		}

		out[a] = ports.GeocodeResult{
			Coords:   domain.Coordinates{Lon: coords[0], Lat: coords[1]},
			PlaceRef: decoded.Features[0].Properties.GID,
		}
	}

	return out, nil
}
