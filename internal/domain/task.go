package domain

import "fmt"

// Kind of a routing task. Every transport request derives into exactly
// one PICK and one DROP sharing a pair key.
type TaskKind string

const (
	TaskPick TaskKind = "PICK"
	TaskDrop TaskKind = "DROP"
)

// SeatDelta is the passenger change when a task of this kind is serviced.
func (k TaskKind) SeatDelta() int {
	if k == TaskPick {
		return 1
	}
	return -1
}

// A single stop the optimizer must schedule. Tasks always come in
// PICK/DROP pairs linked by PairKey; the solver must assign both halves
// to the same vehicle with the PICK first.
type RoutingTask struct {
	TaskID      int64
	RunID       int64
	RequestID   int64
	UserID      int64
	PairKey     string
	Kind        TaskKind
	NodeID      int64
	Window      TimeWindow
	WindowState WindowState
}

// SeatDelta is the passenger change when the task is serviced.
func (t RoutingTask) SeatDelta() int { return t.Kind.SeatDelta() }

// PairKey format: user_<id>_<yyyymmdd>_<seq>. Seq disambiguates
// multiple requests by the same user on the same service date.
func FormatPairKey(userID int64, date string, seq int) string {
	return fmt.Sprintf("user_%d_%s_%d", userID, date, seq)
}
