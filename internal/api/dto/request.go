package dto

// One intake row. The pickup flag distinguishes a morning pickup
// (place to facility) from a return dropoff; place carries the source's
// absence markers verbatim.
type ImportRequestRow struct {
	UserName     string `json:"user_name"`
	FacilityName string `json:"facility_name"`
	PlaceName    string `json:"place_name"`
	Pickup       bool   `json:"pickup_flag"`
	TargetAt     int64  `json:"target_at"`
}

type ImportRequest struct {
	Requests []ImportRequestRow `json:"requests"`
}
