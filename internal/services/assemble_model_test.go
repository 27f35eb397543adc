package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-dispatch-service/internal/adapters/mapping"
	"shuttle-dispatch-service/internal/domain"
)

// Fixture graph: place nodes 1 and 2, depot node 100 owned by facility
// 10, vehicles 501/502 active and 503 retired.
type assembleFixture struct {
	assembler *ModelAssembler
	tasks     *fakeTaskRepo
	store     *memStore
	provider  *mapping.MockProvider
	cache     *TravelTimeCache
	run       domain.OptimizationRun
	day       time.Time
}

func fullMockMatrix() []mapping.MockPair {
	return []mapping.MockPair{
		{From: 1, To: 2, Seconds: 300, Meters: 2500},
		{From: 2, To: 1, Seconds: 320, Meters: 2600},
		{From: 1, To: 100, Seconds: 600, Meters: 4800},
		{From: 100, To: 1, Seconds: 620, Meters: 4900},
		{From: 2, To: 100, Seconds: 480, Meters: 3900},
		{From: 100, To: 2, Seconds: 500, Meters: 4000},
	}
}

func newAssembleFixture(t *testing.T, vehicles []domain.Vehicle) *assembleFixture {
	t.Helper()

	nodes := newFakeNodeRepo(
		placeNode(1, "中央公園前", 139.70, 35.68),
		placeNode(2, "さくら橋", 139.72, 35.70),
		domain.Node{NodeID: 100, Name: "あおぞら園", Kind: domain.NodeDepot,
			Coords: &domain.Coordinates{Lon: 139.75, Lat: 35.66}},
	)
	facilities := &fakeFacilityRepo{facilities: []domain.Facility{
		{FacilityID: 10, Name: "あおぞら園", NodeID: 100, Active: true},
	}}
	if vehicles == nil {
		vehicles = []domain.Vehicle{
			{VehicleID: 501, Name: "はと号", Seats: 3, FacilityID: 10, Active: true},
			{VehicleID: 502, Name: "つばめ号", Seats: 2, FacilityID: 10, Active: true},
			{VehicleID: 503, Name: "予備車", Seats: 4, FacilityID: 10, Active: false},
		}
	}

	store := newMemStore()
	provider := mapping.NewMockProvider(fullMockMatrix())
	cache := NewTravelTimeCache(store, provider, nodes, testBucketer(), "")
	tasks := &fakeTaskRepo{}

	day := time.Date(2025, 10, 21, 0, 0, 0, 0, testJST)
	run := domain.OptimizationRun{
		RunID:       1,
		FacilityID:  10,
		ServiceDate: day,
		Profile:     "driving-car",
		Status:      domain.RunPending,
	}

	return &assembleFixture{
		assembler: NewModelAssembler(tasks, &fakeVehicleRepo{vehicles: vehicles}, facilities, cache, 30*time.Second),
		tasks:     tasks,
		store:     store,
		provider:  provider,
		cache:     cache,
		run:       run,
		day:       day,
	}
}

func (f *assembleFixture) addPair(
	t *testing.T,
	pairKey string,
	pickNode, dropNode int64,
	pickWin, dropWin domain.TimeWindow,
	dropState domain.WindowState,
) (domain.RoutingTask, domain.RoutingTask) {
	t.Helper()
	pick := domain.RoutingTask{RunID: f.run.RunID, PairKey: pairKey, Kind: domain.TaskPick,
		NodeID: pickNode, Window: pickWin, WindowState: domain.WindowFinal}
	drop := domain.RoutingTask{RunID: f.run.RunID, PairKey: pairKey, Kind: domain.TaskDrop,
		NodeID: dropNode, Window: dropWin, WindowState: dropState}
	p, d, err := f.tasks.CreatePair(context.Background(), pick, drop)
	require.NoError(t, err)
	return p, d
}

func win(start time.Time, length time.Duration) domain.TimeWindow {
	return domain.TimeWindow{Start: start, End: start.Add(length)}
}

func TestAssembleBuildsMatrixVehiclesAndPairs(t *testing.T) {
	f := newAssembleFixture(t, nil)
	t0830 := f.day.Add(8*time.Hour + 30*time.Minute)
	f.addPair(t, "user_7_20251021_1", 1, 100,
		win(t0830.Add(-10*time.Minute), 20*time.Minute),
		win(t0830.Add(10*time.Minute), 30*time.Minute), domain.WindowFinal)
	f.addPair(t, "user_8_20251021_2", 2, 100,
		win(t0830.Add(-5*time.Minute), 20*time.Minute),
		win(t0830.Add(8*time.Minute), 30*time.Minute), domain.WindowFinal)

	// Pre-cache half the matrix; assembly backfills the rest in one call.
	bucket := f.cache.Bucketer().Bucket(t0830.Add(-10 * time.Minute))
	f.store.seed(1, 2, "driving-car", bucket, 300, 2500)
	f.store.seed(1, 100, "driving-car", bucket, 600, 4800)
	f.store.seed(2, 100, "driving-car", bucket, 480, 3900)

	input, err := f.assembler.Assemble(context.Background(), f.run)
	require.NoError(t, err)

	assert.Equal(t, f.run.RunID, input.RunID)
	assert.Equal(t, "driving-car", input.Profile)
	assert.Equal(t, bucket, input.DepartureBucket, "matrix bucket follows the earliest window start")
	assert.Equal(t, 30*time.Second, input.TimeLimit)
	assert.Equal(t, 1, f.provider.MatrixCalls())

	require.Len(t, input.Nodes, 3)
	assert.Equal(t, []domain.ModelNode{{Index: 0, NodeID: 1}, {Index: 1, NodeID: 2}, {Index: 2, NodeID: 100}}, input.Nodes)

	wantMatrix := [][]int{
		{0, 5, 10},
		{5, 0, 8},
		{10, 8, 0},
	}
	assert.Equal(t, wantMatrix, input.Matrix)
	wantDistances := [][]int{
		{0, 2500, 4800},
		{2600, 0, 3900},
		{4900, 4000, 0},
	}
	assert.Equal(t, wantDistances, input.Distances)

	require.Len(t, input.Vehicles, 2, "retired vehicles stay out of the model")
	assert.Equal(t, domain.ModelVehicle{VehicleID: 501, Seats: 3, DepotIndex: 2, FixedCost: domain.VehicleFixedCost}, input.Vehicles[0])
	assert.Equal(t, domain.ModelVehicle{VehicleID: 502, Seats: 2, DepotIndex: 2, FixedCost: domain.VehicleFixedCost}, input.Vehicles[1])

	require.Len(t, input.Tasks, 4)
	assert.Equal(t, 0, input.Tasks[0].NodeIndex)
	assert.Equal(t, 2, input.Tasks[1].NodeIndex)
	assert.Equal(t, [][2]int{{0, 1}, {2, 3}}, input.Pairs)
}

func TestAssembleFinalizesProvisionalDropWindows(t *testing.T) {
	f := newAssembleFixture(t, nil)
	target := f.day.Add(8*time.Hour + 30*time.Minute)
	_, drop := f.addPair(t, "user_7_20251021_1", 1, 100,
		win(target.Add(-10*time.Minute), 20*time.Minute),
		win(target, 30*time.Minute), domain.WindowProvisional)

	input, err := f.assembler.Assemble(context.Background(), f.run)
	require.NoError(t, err)

	// Travel 1 -> 100 is 600s, so the depot window shifts to arrival
	// while keeping its length.
	var finalized *domain.ModelTask
	for i := range input.Tasks {
		if input.Tasks[i].TaskID == drop.TaskID {
			finalized = &input.Tasks[i]
		}
	}
	require.NotNil(t, finalized)
	wantWindow(t, finalized.Window, target.Add(10*time.Minute), target.Add(40*time.Minute))

	stored, err := f.tasks.ListForRun(context.Background(), f.run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.WindowFinal, stored[1].WindowState)
	wantWindow(t, stored[1].Window, target.Add(10*time.Minute), target.Add(40*time.Minute))
	assert.Equal(t, 1, f.tasks.windowUpdates)
}

func TestAssembleRejectsRunWithoutTasks(t *testing.T) {
	f := newAssembleFixture(t, nil)

	_, err := f.assembler.Assemble(context.Background(), f.run)
	var emptyErr *domain.EmptyNodeSetError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, f.run.RunID, emptyErr.RunID)
}

func TestAssembleRejectsOverlappingDemandBeyondSeats(t *testing.T) {
	oneSeat := []domain.Vehicle{{VehicleID: 501, Name: "はと号", Seats: 1, FacilityID: 10, Active: true}}
	f := newAssembleFixture(t, oneSeat)
	t0830 := f.day.Add(8*time.Hour + 30*time.Minute)
	f.addPair(t, "user_7_20251021_1", 1, 100,
		win(t0830.Add(-10*time.Minute), 20*time.Minute),
		win(t0830.Add(10*time.Minute), 30*time.Minute), domain.WindowFinal)
	f.addPair(t, "user_8_20251021_2", 2, 100,
		win(t0830.Add(-5*time.Minute), 20*time.Minute),
		win(t0830.Add(8*time.Minute), 30*time.Minute), domain.WindowFinal)

	_, err := f.assembler.Assemble(context.Background(), f.run)
	var capErr *domain.InsufficientCapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 2, capErr.Demand)
	assert.Equal(t, 1, capErr.Seats)
}

func TestAssembleDefaultsTimeLimit(t *testing.T) {
	f := newAssembleFixture(t, nil)
	a := NewModelAssembler(f.tasks, &fakeVehicleRepo{vehicles: []domain.Vehicle{
		{VehicleID: 501, Seats: 3, FacilityID: 10, Active: true},
	}}, &fakeFacilityRepo{facilities: []domain.Facility{
		{FacilityID: 10, Name: "あおぞら園", NodeID: 100, Active: true},
	}}, f.cache, 0)

	t0830 := f.day.Add(8*time.Hour + 30*time.Minute)
	f.addPair(t, "user_7_20251021_1", 1, 100,
		win(t0830.Add(-10*time.Minute), 20*time.Minute),
		win(t0830.Add(10*time.Minute), 30*time.Minute), domain.WindowFinal)

	input, err := a.Assemble(context.Background(), f.run)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSolveTimeLimit, input.TimeLimit)
}
