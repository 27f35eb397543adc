package services

import (
	"context"
	"fmt"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// TimelineStop is one scheduled event joined with its node and, for
// task stops, the user it serves.
type TimelineStop struct {
	Seq        int              `json:"seq"`
	Kind       domain.EventKind `json:"kind"`
	ArriveAt   time.Time        `json:"arrive_at"`
	DepartAt   time.Time        `json:"depart_at"`
	NodeID     int64            `json:"node_id"`
	NodeName   string           `json:"node_name,omitempty"`
	Address    string           `json:"address,omitempty"`
	TaskID     *int64           `json:"task_id,omitempty"`
	TaskKind   domain.TaskKind  `json:"task_kind,omitempty"`
	PairKey    string           `json:"pair_key,omitempty"`
	UserName   string           `json:"user_name,omitempty"`
	Passengers int              `json:"passengers"`
	Meta       map[string]any   `json:"meta,omitempty"`
}

// VehicleTimeline is one vehicle's chronological schedule for a run.
type VehicleTimeline struct {
	VehicleID   int64          `json:"vehicle_id"`
	VehicleName string         `json:"vehicle_name"`
	Seats       int            `json:"seats"`
	Stops       []TimelineStop `json:"stops"`
}

// Timeline joins the persisted schedule with the vehicle, node and user
// masters into the per-vehicle view dispatchers read. Events come back
// ordered by vehicle and sequence, so grouping is a single pass.
func (p *Pipeline) Timeline(ctx context.Context, runID int64) ([]VehicleTimeline, error) {
	if _, err := p.Runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	evts, err := p.Results.ListForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("timeline for run %d: %w", runID, err)
	}
	if len(evts) == 0 {
		return []VehicleTimeline{}, nil
	}

	tasks, err := p.Tasks.ListForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("timeline for run %d: %w", runID, err)
	}
	taskByID := make(map[int64]domain.RoutingTask, len(tasks))
	userIDs := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		taskByID[t.TaskID] = t
		userIDs = append(userIDs, t.UserID)
	}

	vehicleIDs := make([]int64, 0, 4)
	nodeIDs := make([]int64, 0, len(evts))
	seenVeh := map[int64]struct{}{}
	seenNode := map[int64]struct{}{}
	for _, e := range evts {
		if _, ok := seenVeh[e.VehicleID]; !ok {
			seenVeh[e.VehicleID] = struct{}{}
			vehicleIDs = append(vehicleIDs, e.VehicleID)
		}
		if _, ok := seenNode[e.NodeID]; !ok {
			seenNode[e.NodeID] = struct{}{}
			nodeIDs = append(nodeIDs, e.NodeID)
		}
	}

	vehicles, err := p.Vehicles.GetByIDs(ctx, vehicleIDs)
	if err != nil {
		return nil, fmt.Errorf("timeline for run %d: %w", runID, err)
	}
	nodes, err := p.Nodes.GetByIDs(ctx, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("timeline for run %d: %w", runID, err)
	}
	users, err := p.Users.GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("timeline for run %d: %w", runID, err)
	}

	var out []VehicleTimeline
	for _, e := range evts {
		if len(out) == 0 || out[len(out)-1].VehicleID != e.VehicleID {
			vt := VehicleTimeline{VehicleID: e.VehicleID}
			if v, ok := vehicles[e.VehicleID]; ok {
				vt.VehicleName = v.Name
				vt.Seats = v.Seats
			}
			out = append(out, vt)
		}
		cur := &out[len(out)-1]

		stop := TimelineStop{
			Seq:        e.Seq,
			Kind:       e.Kind,
			ArriveAt:   e.ArriveAt,
			DepartAt:   e.DepartAt,
			NodeID:     e.NodeID,
			TaskID:     e.TaskID,
			Passengers: e.Passengers,
			Meta:       e.Meta,
		}
		if n, ok := nodes[e.NodeID]; ok {
			stop.NodeName = n.Name
			stop.Address = n.Address
		}
		if e.TaskID != nil {
			if t, ok := taskByID[*e.TaskID]; ok {
				stop.TaskKind = t.Kind
				stop.PairKey = t.PairKey
				if u, ok := users[t.UserID]; ok {
					stop.UserName = u.Name
				}
			}
		}
		cur.Stops = append(cur.Stops, stop)
	}
	return out, nil
}
