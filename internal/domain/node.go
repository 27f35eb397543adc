package domain

import "time"

// Classifies a node by what it stands for. Places are user-side stops
// (homes, day-care drop points); depots are facility-side endpoints
// where vehicles start and end their day.
type NodeKind string

const (
	NodePlace NodeKind = "place"
	NodeDepot NodeKind = "depot"
)

// Represents a physical location known to the dispatch system.
// Every user place, care facility and vehicle depot resolves to exactly
// one Node; travel times are always keyed by node pairs, never by raw
// address strings. Coordinates are optional until the first successful
// geocode enrichment writes them back.
//
// A node is owned by at most one user or one facility. Depot nodes
// referenced through a facility record may carry no owner at all.
type Node struct {
	NodeID          int64
	Name            string
	Kind            NodeKind
	Address         string
	Coords          *Coordinates
	PlaceRef        string
	OwnerUserID     *int64
	OwnerFacilityID *int64
	CreatedAt       time.Time
}

// Reports whether the node already carries usable coordinates.
func (n Node) HasCoords() bool {
	return n.Coords != nil && !n.Coords.IsZero()
}
