package domain

// A registered user of a care facility. Requests reference users by
// display name; only active users at the request's facility resolve
// during task derivation.
type User struct {
	UserID     int64
	Name       string
	FacilityID int64
	Active     bool
}

// A care facility. Its depot node acts as the facility side of every
// trip and as the start/end location of the facility's vehicles.
type Facility struct {
	FacilityID int64
	Name       string
	NodeID     int64
	Active     bool
}

// A shuttle vehicle. Inactive vehicles are excluded from model
// assembly; the vehicle starts and ends its day at its facility's
// depot node.
type Vehicle struct {
	VehicleID  int64
	Name       string
	Seats      int
	FacilityID int64
	Active     bool
}
