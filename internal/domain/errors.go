package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTravelTimeMiss is returned by single-pair cache lookups when no
// entry exists for the requested key.
var ErrTravelTimeMiss = errors.New("travel time miss")

// ErrRunNotFound is returned by run lookups for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// ErrTasksAlreadyDerived rejects a second derivation for the same run;
// each raw request is consumed exactly once per run.
var ErrTasksAlreadyDerived = errors.New("tasks already derived")

// A place or facility name that could not be resolved against the
// node registry.
type UnresolvedNodeError struct {
	Name string
	Kind string
}

func (e *UnresolvedNodeError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "node"
	}
	return fmt.Sprintf("unresolved node: no %s registered for %q", kind, e.Name)
}

// A request user name that matches no active user at the request's
// facility.
type UnresolvedUserError struct {
	Name     string
	Facility string
}

func (e *UnresolvedUserError) Error() string {
	if e.Facility != "" {
		return fmt.Sprintf("unresolved user: no active user %q at %q", e.Name, e.Facility)
	}
	return fmt.Sprintf("unresolved user: no user registered for %q", e.Name)
}

// Model assembly found no tasks to schedule.
type EmptyNodeSetError struct {
	RunID int64
}

func (e *EmptyNodeSetError) Error() string {
	return fmt.Sprintf("empty node set: run %d has no tasks to schedule", e.RunID)
}

// Concurrent passenger demand exceeds the summed seats of the active
// fleet at instant At.
type InsufficientCapacityError struct {
	At     time.Time
	Demand int
	Seats  int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: demand %d exceeds %d seats at %s", e.Demand, e.Seats, e.At.Format(time.RFC3339))
}

// A reconstructed arrival fell outside the task's service window.
type TimeWindowViolationError struct {
	TaskID    int64
	VehicleID int64
	ArrivalAt time.Time
	Window    TimeWindow
}

func (e *TimeWindowViolationError) Error() string {
	return fmt.Sprintf("time window violation: task %d on vehicle %d arrives %s after window end %s",
		e.TaskID, e.VehicleID, e.ArrivalAt.Format(time.RFC3339), e.Window.End.Format(time.RFC3339))
}

// Reconstruction produced an impossible on-board passenger count.
type PassengerCountError struct {
	VehicleID int64
	Seq       int
	Count     int
}

func (e *PassengerCountError) Error() string {
	return fmt.Sprintf("passenger count: vehicle %d reaches %d passengers at seq %d", e.VehicleID, e.Count, e.Seq)
}

// An illegal run status transition was attempted.
type StateTransitionError struct {
	RunID int64
	From  RunStatus
	To    RunStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("state transition: run %d cannot move %s -> %s", e.RunID, e.From, e.To)
}

// A call to an external dependency failed after retries.
type ExternalServiceError struct {
	Service string
	Status  int
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: request failed with status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: request failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
