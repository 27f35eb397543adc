package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

// ModelAssembler builds the optimizer input for a run: the node set,
// the restricted cost matrix, finalized task windows, the vehicle set
// and PICK/DROP pairing. Assembly triggers travel-time backfill for
// whatever the matrix is missing.
type ModelAssembler struct {
	tasks      ports.TaskRepository
	vehicles   ports.VehicleRepository
	facilities ports.FacilityRepository
	travel     *TravelTimeCache
	timeLimit  time.Duration
}

func NewModelAssembler(
	tasks ports.TaskRepository,
	vehicles ports.VehicleRepository,
	facilities ports.FacilityRepository,
	travel *TravelTimeCache,
	timeLimit time.Duration,
) *ModelAssembler {
	if timeLimit <= 0 {
		timeLimit = domain.DefaultSolveTimeLimit
	}
	return &ModelAssembler{
		tasks:      tasks,
		vehicles:   vehicles,
		facilities: facilities,
		travel:     travel,
		timeLimit:  timeLimit,
	}
}

// Assemble builds the complete optimizer input for the run.
func (a *ModelAssembler) Assemble(ctx context.Context, run domain.OptimizationRun) (_ *domain.OptimizerInput, err error) {
	defer obs.Time(ctx, "model.Assemble")(&err)

	tasks, err := a.tasks.ListForRun(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}
	if len(tasks) == 0 {
		return nil, &domain.EmptyNodeSetError{RunID: run.RunID}
	}

	vehicles, err := a.vehicles.ListActiveForFacility(ctx, run.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}

	depotOf, err := a.resolveDepots(ctx, vehicles)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}

	// The whole matrix shares one departure bucket: the bucket of the
	// earliest task window start. Finalization only moves DROP starts
	// later, so computing it up front is stable.
	bucket := canonicalBucket(tasks, a.travel.Bucketer())

	nodeIDs := modelNodeIDs(tasks, vehicles, depotOf)
	indexOf := make(map[int64]int, len(nodeIDs))
	for i, id := range nodeIDs {
		indexOf[id] = i
	}

	keys := make([]domain.TravelTimeKey, 0, len(nodeIDs)*(len(nodeIDs)-1))
	for _, o := range nodeIDs {
		for _, d := range nodeIDs {
			if o == d {
				continue
			}
			keys = append(keys, domain.TravelTimeKey{OriginID: o, DestID: d, Profile: run.Profile, Bucket: bucket})
		}
	}
	got, err := a.travel.Ensure(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}

	tasks, err = a.finalizeWindows(ctx, run, tasks, got, bucket)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}

	if err := checkCapacity(tasks, vehicles); err != nil {
		return nil, err
	}

	k := len(nodeIDs)
	matrix := make([][]int, k)
	distances := make([][]int, k)
	for i, o := range nodeIDs {
		matrix[i] = make([]int, k)
		distances[i] = make([]int, k)
		for j, d := range nodeIDs {
			if i == j {
				continue
			}
			tt, ok := got[domain.TravelTimeKey{OriginID: o, DestID: d, Profile: run.Profile, Bucket: bucket}]
			if !ok {
				return nil, fmt.Errorf("assemble model: %d -> %d at bucket %d: %w", o, d, bucket, domain.ErrTravelTimeMiss)
			}
			matrix[i][j] = tt.Minutes()
			distances[i][j] = tt.DistanceMeters
		}
	}

	input := &domain.OptimizerInput{
		RunID:           run.RunID,
		DepartureBucket: bucket,
		Profile:         run.Profile,
		Matrix:          matrix,
		Distances:       distances,
		TimeLimit:       a.timeLimit,
	}
	for i, id := range nodeIDs {
		input.Nodes = append(input.Nodes, domain.ModelNode{Index: i, NodeID: id})
	}

	taskIndex := make(map[int64]int, len(tasks))
	for i, t := range tasks {
		taskIndex[t.TaskID] = i
		input.Tasks = append(input.Tasks, domain.ModelTask{
			TaskID:    t.TaskID,
			PairKey:   t.PairKey,
			Kind:      t.Kind,
			NodeIndex: indexOf[t.NodeID],
			Window:    t.Window,
		})
	}

	for _, v := range vehicles {
		input.Vehicles = append(input.Vehicles, domain.ModelVehicle{
			VehicleID:  v.VehicleID,
			Seats:      v.Seats,
			DepotIndex: indexOf[depotOf[v.FacilityID]],
			FixedCost:  domain.VehicleFixedCost,
		})
	}

	pairs, err := pairTasks(tasks)
	if err != nil {
		return nil, fmt.Errorf("assemble model: %w", err)
	}
	for _, p := range pairs {
		input.Pairs = append(input.Pairs, [2]int{taskIndex[p.pick.TaskID], taskIndex[p.drop.TaskID]})
	}

	return input, nil
}

// canonicalBucket returns the departure bucket shared by a run's whole
// matrix: the bucket of the earliest task window start.
func canonicalBucket(tasks []domain.RoutingTask, b domain.Bucketer) int64 {
	earliest := tasks[0].Window.Start
	for _, t := range tasks[1:] {
		if t.Window.Start.Before(earliest) {
			earliest = t.Window.Start
		}
	}
	return b.Bucket(earliest)
}

// resolveDepots maps each vehicle's facility to its depot node.
func (a *ModelAssembler) resolveDepots(ctx context.Context, vehicles []domain.Vehicle) (map[int64]int64, error) {
	facSet := map[int64]struct{}{}
	facIDs := make([]int64, 0, 1)
	for _, v := range vehicles {
		if _, ok := facSet[v.FacilityID]; ok {
			continue
		}
		facSet[v.FacilityID] = struct{}{}
		facIDs = append(facIDs, v.FacilityID)
	}

	facilities, err := a.facilities.GetByIDs(ctx, facIDs)
	if err != nil {
		return nil, err
	}

	depotOf := make(map[int64]int64, len(facIDs))
	for _, v := range vehicles {
		fac, ok := facilities[v.FacilityID]
		if !ok {
			return nil, fmt.Errorf("vehicle %d: facility %d is not registered", v.VehicleID, v.FacilityID)
		}
		depotOf[v.FacilityID] = fac.NodeID
	}
	return depotOf, nil
}

// modelNodeIDs is the union of task nodes and active vehicle depots in
// ascending id order, so matrix indices are reproducible across calls.
func modelNodeIDs(tasks []domain.RoutingTask, vehicles []domain.Vehicle, depotOf map[int64]int64) []int64 {
	set := map[int64]struct{}{}
	for _, t := range tasks {
		set[t.NodeID] = struct{}{}
	}
	for _, v := range vehicles {
		set[depotOf[v.FacilityID]] = struct{}{}
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type taskPair struct {
	pick domain.RoutingTask
	drop domain.RoutingTask
}

// pairTasks groups tasks by pair key and validates that every pair has
// exactly one PICK and one DROP.
func pairTasks(tasks []domain.RoutingTask) ([]taskPair, error) {
	byKey := map[string]*taskPair{}
	order := make([]string, 0, len(tasks)/2)
	for _, t := range tasks {
		p, ok := byKey[t.PairKey]
		if !ok {
			p = &taskPair{}
			byKey[t.PairKey] = p
			order = append(order, t.PairKey)
		}
		switch t.Kind {
		case domain.TaskPick:
			if p.pick.TaskID != 0 {
				return nil, fmt.Errorf("pair %q has two PICK tasks", t.PairKey)
			}
			p.pick = t
		case domain.TaskDrop:
			if p.drop.TaskID != 0 {
				return nil, fmt.Errorf("pair %q has two DROP tasks", t.PairKey)
			}
			p.drop = t
		default:
			return nil, fmt.Errorf("task %d has unknown kind %q", t.TaskID, t.Kind)
		}
	}

	out := make([]taskPair, 0, len(order))
	for _, key := range order {
		p := byKey[key]
		if p.pick.TaskID == 0 || p.drop.TaskID == 0 {
			return nil, fmt.Errorf("pair %q is missing its PICK or DROP half", key)
		}
		out = append(out, *p)
	}
	return out, nil
}

// finalizeWindows recomputes provisional DROP windows now that travel
// times are known: start moves from the anchor target time to target
// plus travel, preserving the window length.
func (a *ModelAssembler) finalizeWindows(
	ctx context.Context,
	run domain.OptimizationRun,
	tasks []domain.RoutingTask,
	got map[domain.TravelTimeKey]domain.TravelTime,
	bucket int64,
) ([]domain.RoutingTask, error) {
	pairs, err := pairTasks(tasks)
	if err != nil {
		return nil, err
	}
	pickNodeByKey := make(map[string]int64, len(pairs))
	for _, p := range pairs {
		pickNodeByKey[p.pick.PairKey] = p.pick.NodeID
	}

	changed := make([]domain.RoutingTask, 0, 4)
	for i, t := range tasks {
		if t.WindowState != domain.WindowProvisional {
			continue
		}

		key := domain.TravelTimeKey{
			OriginID: pickNodeByKey[t.PairKey],
			DestID:   t.NodeID,
			Profile:  run.Profile,
			Bucket:   bucket,
		}
		tt, ok := got[key]
		if !ok {
			return nil, fmt.Errorf("finalize windows: %d -> %d at bucket %d: %w",
				key.OriginID, key.DestID, bucket, domain.ErrTravelTimeMiss)
		}

		length := t.Window.Duration()
		start := t.Window.Start.Add(time.Duration(tt.DurationSec) * time.Second)
		tasks[i].Window = domain.TimeWindow{Start: start, End: start.Add(length)}
		tasks[i].WindowState = domain.WindowFinal
		changed = append(changed, tasks[i])
	}

	if len(changed) > 0 {
		if err := a.tasks.UpdateWindows(ctx, changed); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// checkCapacity verifies that concurrent demand never exceeds the
// summed seats of the active fleet. Each pair occupies a seat over
// [pick window start, drop window end]; a sweep over the interval
// boundaries finds the peak.
func checkCapacity(tasks []domain.RoutingTask, vehicles []domain.Vehicle) error {
	pairs, err := pairTasks(tasks)
	if err != nil {
		return fmt.Errorf("assemble model: %w", err)
	}

	seats := 0
	for _, v := range vehicles {
		seats += v.Seats
	}

	type boundary struct {
		at    time.Time
		delta int
	}
	bounds := make([]boundary, 0, 2*len(pairs))
	for _, p := range pairs {
		bounds = append(bounds,
			boundary{at: p.pick.Window.Start, delta: +1},
			boundary{at: p.drop.Window.End, delta: -1},
		)
	}
	// Starts sort before ends at the same instant: a pair picked up
	// exactly when another is dropped still needs both seats.
	sort.Slice(bounds, func(i, j int) bool {
		if bounds[i].at.Equal(bounds[j].at) {
			return bounds[i].delta > bounds[j].delta
		}
		return bounds[i].at.Before(bounds[j].at)
	})

	demand := 0
	for _, b := range bounds {
		demand += b.delta
		if demand > seats {
			return &domain.InsufficientCapacityError{At: b.at, Demand: demand, Seats: seats}
		}
	}
	return nil
}
