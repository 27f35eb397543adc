package domain

import (
	"encoding/json"
	"time"
)

// Identifies one cached travel-time observation. Origin and destination
// are node ids, profile names the routing profile (e.g. "driving-car")
// and Bucket is the departure bucket as epoch seconds.
type TravelTimeKey struct {
	OriginID int64
	DestID   int64
	Profile  string
	Bucket   int64
}

// A single cached travel-time entry between two nodes for one departure
// bucket. Options records the provider option context the entry was
// computed under (e.g. the traffic model); Raw keeps the provider
// payload for auditability.
type TravelTime struct {
	Key            TravelTimeKey
	DurationSec    int
	DistanceMeters int
	Options        string
	Raw            json.RawMessage
	UpdatedAt      time.Time
}

// Minutes converts the duration to whole minutes with a floor of one.
// Optimizer matrices work in minutes and a zero cost between distinct
// nodes would let the solver chain stops for free.
func (t TravelTime) Minutes() int {
	m := t.DurationSec / 60
	if m < 1 {
		m = 1
	}
	return m
}
