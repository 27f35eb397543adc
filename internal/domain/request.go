package domain

import (
	"strings"
	"time"
)

// Place markers the intake source uses for rows that need no shuttle.
// The source has no dedicated status column; absence is encoded in the
// place field itself.
const (
	PlaceAbsent      = "欠席"
	PlaceNoTransport = "送迎なし"
)

// A raw transport request as imported from the intake source. Requests
// reference users, facilities and places by display name; resolution
// against the registries happens during task derivation, not at import
// time. Pickup means home side to facility, otherwise the reverse.
type TransportRequest struct {
	RequestID    int64
	UserName     string
	FacilityName string
	PlaceName    string
	Pickup       bool
	TargetAt     time.Time
	CreatedAt    time.Time
}

// SkipReason reports why the request produces no tasks, or "" when it
// is actionable.
func (r TransportRequest) SkipReason() string {
	switch strings.TrimSpace(r.PlaceName) {
	case "":
		return "missing place"
	case PlaceAbsent:
		return "absent"
	case PlaceNoTransport:
		return "no transport"
	}
	return ""
}

// Actionable reports whether the request should produce tasks.
func (r TransportRequest) Actionable() bool {
	return r.SkipReason() == ""
}
