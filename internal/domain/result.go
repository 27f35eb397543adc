package domain

import (
	"encoding/json"
	"time"
)

// Ordered task visits the solver assigned to one vehicle.
type SolverRoute struct {
	VehicleID int64   `json:"vehicle_id"`
	TaskIDs   []int64 `json:"task_ids"`
}

// Raw outcome of a solver invocation before reconstruction.
type SolverOutput struct {
	Status    string          `json:"status"`
	Objective int64           `json:"objective"`
	Routes    []SolverRoute   `json:"routes"`
	Raw       json.RawMessage `json:"-"`
}

// Kind of a reconstructed schedule event.
type EventKind string

const (
	EventDepart EventKind = "DEPART"
	EventTask   EventKind = "TASK"
	EventArrive EventKind = "ARRIVE"
)

// One row of the reconstructed per-vehicle timetable. Seq is dense and
// starts at 0 with the depot departure; Passengers is the on-board
// count after the event is serviced. ArriveAt is when the vehicle
// reaches the node; DepartAt is when it leaves, which trails ArriveAt
// whenever the vehicle has to wait for a window to open.
type ScheduleEvent struct {
	ResultID   int64
	RunID      int64
	VehicleID  int64
	Seq        int
	Kind       EventKind
	TaskID     *int64
	NodeID     int64
	ArriveAt   time.Time
	DepartAt   time.Time
	Passengers int
	Meta       map[string]any
}

// Metadata keys used in ScheduleEvent.Meta.
const (
	EventMetaWaitSec   = "wait_sec"
	EventMetaLegSec    = "leg_sec"
	EventMetaLegMeters = "leg_m"
)
