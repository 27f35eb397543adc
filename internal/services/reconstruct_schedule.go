package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
)

// ReconstructSchedule turns the solver's per-vehicle task orderings back
// into concrete timestamped events. It walks each route with a running
// clock and passenger count: DEPART at the depot, one TASK event per
// stop, and a closing ARRIVE back at the depot. A vehicle that reaches
// a stop before its window opens waits there; the event keeps the raw
// arrival and pushes departure to the window start.
//
// The walk is strict: a stop that cannot be reached inside its window,
// a passenger count that dips negative or does not return to zero at
// the depot, a task assigned twice, or a route set that leaves model
// tasks unserved all mean the solver output is inconsistent with the
// model and abort reconstruction.
func ReconstructSchedule(
	ctx context.Context,
	run domain.OptimizationRun,
	input *domain.OptimizerInput,
	out *domain.SolverOutput,
) (_ []domain.ScheduleEvent, err error) {
	defer obs.Time(ctx, "schedule.Reconstruct")(&err)

	nodeAt := make([]int64, len(input.Nodes))
	for _, n := range input.Nodes {
		if n.Index < 0 || n.Index >= len(nodeAt) {
			return nil, fmt.Errorf("reconstruct: node index %d out of range", n.Index)
		}
		nodeAt[n.Index] = n.NodeID
	}

	taskByID := make(map[int64]domain.ModelTask, len(input.Tasks))
	for _, t := range input.Tasks {
		taskByID[t.TaskID] = t
	}
	vehicleByID := make(map[int64]domain.ModelVehicle, len(input.Vehicles))
	for _, v := range input.Vehicles {
		vehicleByID[v.VehicleID] = v
	}

	routes := make([]domain.SolverRoute, len(out.Routes))
	copy(routes, out.Routes)
	sort.Slice(routes, func(i, j int) bool { return routes[i].VehicleID < routes[j].VehicleID })

	leg := func(from, to int) (time.Duration, int) {
		if from == to {
			return 0, 0
		}
		meters := 0
		if len(input.Distances) > 0 {
			meters = input.Distances[from][to]
		}
		return time.Duration(input.Matrix[from][to]) * time.Minute, meters
	}

	seen := make(map[int64]struct{}, len(input.Tasks))
	var events []domain.ScheduleEvent

	for _, route := range routes {
		if len(route.TaskIDs) == 0 {
			continue
		}
		veh, ok := vehicleByID[route.VehicleID]
		if !ok {
			return nil, fmt.Errorf("reconstruct: solver returned unknown vehicle %d", route.VehicleID)
		}

		first, ok := taskByID[route.TaskIDs[0]]
		if !ok {
			return nil, fmt.Errorf("reconstruct: solver returned unknown task %d", route.TaskIDs[0])
		}

		// Leave the depot at the scheduled start, or earlier when the
		// first window cannot be reached in time from it.
		firstLeg, _ := leg(veh.DepotIndex, first.NodeIndex)
		departAt := run.ScheduledStart
		if alt := first.Window.Start.Add(-firstLeg); alt.Before(departAt) {
			departAt = alt
		}

		seq := 0
		clock := departAt
		prev := veh.DepotIndex
		passengers := 0

		events = append(events, domain.ScheduleEvent{
			RunID:      run.RunID,
			VehicleID:  veh.VehicleID,
			Seq:        seq,
			Kind:       domain.EventDepart,
			NodeID:     nodeAt[veh.DepotIndex],
			ArriveAt:   departAt,
			DepartAt:   departAt,
			Passengers: 0,
		})

		for _, taskID := range route.TaskIDs {
			task, ok := taskByID[taskID]
			if !ok {
				return nil, fmt.Errorf("reconstruct: solver returned unknown task %d", taskID)
			}
			if _, dup := seen[taskID]; dup {
				return nil, fmt.Errorf("reconstruct: task %d assigned twice", taskID)
			}
			seen[taskID] = struct{}{}

			legDur, legMeters := leg(prev, task.NodeIndex)
			arrive := clock.Add(legDur)
			depart := arrive
			meta := map[string]any{domain.EventMetaLegSec: int(legDur.Seconds())}
			if legMeters > 0 {
				meta[domain.EventMetaLegMeters] = legMeters
			}
			if arrive.Before(task.Window.Start) {
				meta[domain.EventMetaWaitSec] = int(task.Window.Start.Sub(arrive).Seconds())
				depart = task.Window.Start
			}
			if arrive.After(task.Window.End) {
				return nil, &domain.TimeWindowViolationError{
					TaskID:    taskID,
					VehicleID: veh.VehicleID,
					ArrivalAt: arrive,
					Window:    task.Window,
				}
			}

			passengers += task.Kind.SeatDelta()
			if passengers < 0 {
				return nil, &domain.PassengerCountError{VehicleID: veh.VehicleID, Seq: seq + 1, Count: passengers}
			}
			if passengers > veh.Seats {
				return nil, &domain.InsufficientCapacityError{At: arrive, Demand: passengers, Seats: veh.Seats}
			}

			seq++
			id := taskID
			events = append(events, domain.ScheduleEvent{
				RunID:      run.RunID,
				VehicleID:  veh.VehicleID,
				Seq:        seq,
				Kind:       domain.EventTask,
				TaskID:     &id,
				NodeID:     nodeAt[task.NodeIndex],
				ArriveAt:   arrive,
				DepartAt:   depart,
				Passengers: passengers,
				Meta:       meta,
			})

			clock = depart
			prev = task.NodeIndex
		}

		if passengers != 0 {
			return nil, &domain.PassengerCountError{VehicleID: veh.VehicleID, Seq: seq, Count: passengers}
		}

		retDur, retMeters := leg(prev, veh.DepotIndex)
		retMeta := map[string]any{domain.EventMetaLegSec: int(retDur.Seconds())}
		if retMeters > 0 {
			retMeta[domain.EventMetaLegMeters] = retMeters
		}
		back := clock.Add(retDur)
		seq++
		events = append(events, domain.ScheduleEvent{
			RunID:      run.RunID,
			VehicleID:  veh.VehicleID,
			Seq:        seq,
			Kind:       domain.EventArrive,
			NodeID:     nodeAt[veh.DepotIndex],
			ArriveAt:   back,
			DepartAt:   back,
			Passengers: 0,
			Meta:       retMeta,
		})
	}

	// Every model task is mandatory; a route set that quietly leaves
	// some behind is not a solution.
	if len(seen) != len(input.Tasks) {
		var unserved []int64
		for _, t := range input.Tasks {
			if _, ok := seen[t.TaskID]; !ok {
				unserved = append(unserved, t.TaskID)
			}
		}
		return nil, fmt.Errorf("reconstruct: solver left %d of %d tasks unserved (task ids %v)",
			len(unserved), len(input.Tasks), unserved)
	}

	return events, nil
}
