package dto

type SolverRoute struct {
	VehicleID int64   `json:"vehicle_id"`
	TaskIDs   []int64 `json:"task_ids"`
}

// SolverResultRequest is the payload an external solver operator posts
// back when the model was solved out-of-band.
type SolverResultRequest struct {
	Status    string        `json:"status"`
	Objective int64         `json:"objective,omitempty"`
	Routes    []SolverRoute `json:"routes"`
}
