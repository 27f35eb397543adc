package mapping

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the external mapping service for geocoding and
// travel-time matrices.
//
// It coordinates:
//   - Address normalization
//   - Departure-bucket aware matrix calls
//   - External API calls with retry/backoff
//   - Client-side rate limiting
//
// The client is safe for concurrent use.
type Client struct {
	session *http.Client
	limiter *rate.Limiter
	apiKey  string
	baseURL string
	country string
}

func NewClient(baseURL, apiKey string, timeout time.Duration, rps float64, burst int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("mapping api key is empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openrouteservice.org"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if rps <= 0 {
		rps = 8
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		session: &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		country: "JP",
	}, nil
}

// normalize ensures consistent address handling by collapsing whitespace.
func (c *Client) normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
