package domain

import "time"

// Fixed cost charged per vehicle the solver decides to use. High enough
// that minimizing vehicles dominates minimizing drive minutes.
const VehicleFixedCost = 1_000_000

// DefaultSolveTimeLimit bounds a single solver invocation.
const DefaultSolveTimeLimit = 30 * time.Second

// One entry of the model's node list. Index is the position in the cost
// matrix; NodeID links back to the node registry.
type ModelNode struct {
	Index  int   `json:"index"`
	NodeID int64 `json:"node_id"`
}

// A task projected onto matrix indices for the solver.
type ModelTask struct {
	TaskID    int64      `json:"task_id"`
	PairKey   string     `json:"pair_key"`
	Kind      TaskKind   `json:"kind"`
	NodeIndex int        `json:"node_index"`
	Window    TimeWindow `json:"window"`
}

// A vehicle available to the solver. DepotIndex points into the node
// list; Seats bounds concurrent passengers.
type ModelVehicle struct {
	VehicleID  int64 `json:"vehicle_id"`
	Seats      int   `json:"seats"`
	DepotIndex int   `json:"depot_index"`
	FixedCost  int64 `json:"fixed_cost"`
}

// Complete optimizer input: node list in ascending node-id order, a
// dense k x k cost matrix in minutes with a zero diagonal, the matching
// distance matrix in meters, the task and vehicle sets, and PICK/DROP
// pairing as task-index pairs.
type OptimizerInput struct {
	RunID           int64          `json:"run_id"`
	DepartureBucket int64          `json:"departure_bucket"`
	Profile         string         `json:"profile"`
	Nodes           []ModelNode    `json:"nodes"`
	Matrix          [][]int        `json:"matrix"`
	Distances       [][]int        `json:"distances"`
	Tasks           []ModelTask    `json:"tasks"`
	Vehicles        []ModelVehicle `json:"vehicles"`
	Pairs           [][2]int       `json:"pairs"`
	TimeLimit       time.Duration  `json:"time_limit"`
}
