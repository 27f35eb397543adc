package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-dispatch-service/internal/adapters/mapping"
	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/events"
)

type pipelineFixture struct {
	p       *Pipeline
	runs    *fakeRunRepo
	results *fakeResultRepo
	tasks   *fakeTaskRepo
	solver  *fakeSolver
	broker  *events.MemoryBroker
	day     time.Time
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	nodes := newFakeNodeRepo(
		placeNode(1, "中央公園前", 139.70, 35.68),
		placeNode(2, "さくら橋", 139.72, 35.70),
		domain.Node{NodeID: 100, Name: "あおぞら園", Kind: domain.NodeDepot,
			Coords: &domain.Coordinates{Lon: 139.75, Lat: 35.66}},
	)
	users := &fakeUserRepo{users: []domain.User{
		{UserID: 7, Name: "佐藤花子", FacilityID: 10, Active: true},
		{UserID: 8, Name: "田中太郎", FacilityID: 10, Active: true},
	}}
	facilities := &fakeFacilityRepo{facilities: []domain.Facility{
		{FacilityID: 10, Name: "あおぞら園", NodeID: 100, Active: true},
		{FacilityID: 20, Name: "休園中の園", NodeID: 200, Active: false},
	}}
	vehicleRepo := &fakeVehicleRepo{vehicles: []domain.Vehicle{
		{VehicleID: 501, Name: "はと号", Seats: 3, FacilityID: 10, Active: true},
		{VehicleID: 502, Name: "つばめ号", Seats: 2, FacilityID: 10, Active: true},
	}}

	cache := NewTravelTimeCache(newMemStore(), mapping.NewMockProvider(fullMockMatrix()), nodes, testBucketer(), "")
	requests := &fakeRequestRepo{}
	tasks := &fakeTaskRepo{}
	runs := newFakeRunRepo()
	results := newFakeResultRepo()
	solver := &fakeSolver{}
	broker := events.NewMemoryBroker()

	p := &Pipeline{
		Runs:       runs,
		Results:    results,
		Tasks:      tasks,
		Vehicles:   vehicleRepo,
		Facilities: facilities,
		Nodes:      nodes,
		Users:      users,
		Deriver:    NewTaskDeriver(requests, users, facilities, nodes, tasks, runs, cache),
		Assembler:  NewModelAssembler(tasks, vehicleRepo, facilities, cache, 30*time.Second),
		Solver:     solver,
		Broker:     broker,
		Profile:    "driving-car",
	}

	return &pipelineFixture{
		p:       p,
		runs:    runs,
		results: results,
		tasks:   tasks,
		solver:  solver,
		broker:  broker,
		day:     time.Date(2025, 10, 21, 0, 0, 0, 0, testJST),
	}
}

// createRun makes a pending run for the fixture facility and gives it
// one PICK/DROP pair the canned solver route can serve.
func (f *pipelineFixture) createRun(t *testing.T) domain.OptimizationRun {
	t.Helper()
	run, created, err := f.p.CreateRun(context.Background(), "あおぞら園", f.day, time.Time{}, "staff")
	require.NoError(t, err)
	require.True(t, created)
	return run
}

func (f *pipelineFixture) addPair(t *testing.T, runID int64) (domain.RoutingTask, domain.RoutingTask) {
	t.Helper()
	pick := domain.RoutingTask{RunID: runID, UserID: 7, PairKey: "user_7_20251021_1", Kind: domain.TaskPick, NodeID: 1,
		Window:      domain.TimeWindow{Start: f.day.Add(8*time.Hour + 10*time.Minute), End: f.day.Add(8*time.Hour + 40*time.Minute)},
		WindowState: domain.WindowFinal}
	drop := domain.RoutingTask{RunID: runID, UserID: 7, PairKey: "user_7_20251021_1", Kind: domain.TaskDrop, NodeID: 100,
		Window:      domain.TimeWindow{Start: f.day.Add(8*time.Hour + 15*time.Minute), End: f.day.Add(9*time.Hour + 10*time.Minute)},
		WindowState: domain.WindowFinal}
	p, d, err := f.tasks.CreatePair(context.Background(), pick, drop)
	require.NoError(t, err)
	return p, d
}

func drainEvents(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestCreateRunIsGetOrCreatePerServiceDate(t *testing.T) {
	f := newPipelineFixture(t)

	run, created, err := f.p.CreateRun(context.Background(), "あおぞら園", f.day, time.Time{}, "staff")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RunPending, run.Status)
	assert.Equal(t, "staff", run.RequestedBy)
	assert.Equal(t, "driving-car", run.Profile)
	wantTime(t, run.ScheduledStart, f.day.Add(8*time.Hour))

	again, created, err := f.p.CreateRun(context.Background(), "あおぞら園", f.day, time.Time{}, "someone-else")
	require.NoError(t, err)
	assert.False(t, created, "an active run for the date is reused")
	assert.Equal(t, run.RunID, again.RunID)

	// Once the run goes terminal a fresh submission opens a new one.
	f.runs.force(run.RunID, domain.RunFailed)
	third, created, err := f.p.CreateRun(context.Background(), "あおぞら園", f.day, time.Time{}, "staff")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, run.RunID, third.RunID)
}

func TestCreateRunKeepsExplicitStart(t *testing.T) {
	f := newPipelineFixture(t)
	start := f.day.Add(9*time.Hour + 30*time.Minute)

	run, _, err := f.p.CreateRun(context.Background(), "あおぞら園", f.day, start, "staff")
	require.NoError(t, err)
	wantTime(t, run.ScheduledStart, start)
}

func TestCreateRunRejectsUnknownOrInactiveFacility(t *testing.T) {
	f := newPipelineFixture(t)

	_, _, err := f.p.CreateRun(context.Background(), "存在しない園", f.day, time.Time{}, "staff")
	var nodeErr *domain.UnresolvedNodeError
	require.True(t, errors.As(err, &nodeErr))

	_, _, err = f.p.CreateRun(context.Background(), "休園中の園", f.day, time.Time{}, "staff")
	require.True(t, errors.As(err, &nodeErr))
}

func TestSolveRunsPipelineToSuccess(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)
	f.solver.out = &domain.SolverOutput{
		Status:    "FEASIBLE",
		Objective: 123,
		Routes:    []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{pick.TaskID, drop.TaskID}}},
	}
	ch := f.broker.Subscribe(run.RunID)
	defer f.broker.Unsubscribe(run.RunID, ch)

	got, err := f.p.Solve(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, "FEASIBLE", got.Meta[domain.MetaSolverStatus])
	assert.Equal(t, int64(123), got.Meta["objective"])

	require.Equal(t, 1, f.solver.calls)
	assert.Equal(t, run.RunID, f.solver.lastInput.RunID)

	schedule, err := f.results.ListForRun(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Len(t, schedule, 4)
	assert.Equal(t, domain.EventDepart, schedule[0].Kind)
	assert.Equal(t, domain.EventArrive, schedule[3].Kind)

	evs := drainEvents(ch)
	require.Len(t, evs, 3)
	assert.Equal(t, events.TypeRunStatus, evs[0].Type)
	assert.Equal(t, "running", evs[0].Data["status"])
	assert.Equal(t, events.TypeRunStatus, evs[1].Type)
	assert.Equal(t, "success", evs[1].Data["status"])
	assert.Equal(t, events.TypeScheduleReady, evs[2].Type)
}

func TestSolveWithoutSolverConfigured(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.p.Solver = nil

	_, err := f.p.Solve(context.Background(), run.RunID)
	var extErr *domain.ExternalServiceError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "solver", extErr.Service)

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, got.Status, "run is untouched when no solver is wired")
}

func TestSolveRejectsRunAlreadyRunning(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.runs.force(run.RunID, domain.RunRunning)

	_, err := f.p.Solve(context.Background(), run.RunID)
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))
}

func TestSolveFailureMarksRunFailed(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.addPair(t, run.RunID)
	f.solver.err = errors.New("solver exploded")

	_, err := f.p.Solve(context.Background(), run.RunID)
	require.ErrorContains(t, err, "solver exploded")

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Contains(t, got.Meta[domain.MetaFailureReason], "solver exploded")
}

func TestSolveAssemblyFailureMarksRunFailed(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t) // no tasks derived

	_, err := f.p.Solve(context.Background(), run.RunID)
	var emptyErr *domain.EmptyNodeSetError
	require.True(t, errors.As(err, &emptyErr))

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
}

func TestSolveReconstructionFailureKeepsRawOutput(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)
	// Drop before pick cannot be walked.
	f.solver.out = &domain.SolverOutput{
		Status: "FEASIBLE",
		Routes: []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{drop.TaskID, pick.TaskID}}},
		Raw:    json.RawMessage(`{"routes":[[2,1]]}`),
	}

	_, err := f.p.Solve(context.Background(), run.RunID)
	var paxErr *domain.PassengerCountError
	require.True(t, errors.As(err, &paxErr))

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Contains(t, got.Meta, domain.MetaSolverOutput)
	assert.Contains(t, got.Meta, domain.MetaFailureReason)
}

func TestSolveRejectsEmptyRouteSet(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.addPair(t, run.RunID)
	f.solver.out = &domain.SolverOutput{Status: "INFEASIBLE"}

	_, err := f.p.Solve(context.Background(), run.RunID)
	require.ErrorContains(t, err, "no routes")

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "INFEASIBLE", got.Meta[domain.MetaSolverStatus])
}

func TestSolveDiscardsScheduleWhenRunGoesTerminalMidFlight(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)
	f.solver.out = &domain.SolverOutput{
		Status: "FEASIBLE",
		Routes: []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{pick.TaskID, drop.TaskID}}},
	}
	// A cancel lands while the schedule is being persisted.
	f.results.onReplace = func() { f.runs.force(run.RunID, domain.RunFailed) }

	_, err := f.p.Solve(context.Background(), run.RunID)
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))

	schedule, err := f.results.ListForRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Empty(t, schedule, "orphaned schedule rows are discarded")
}

func TestSubmitResultsFinishesPendingRun(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)

	out := &domain.SolverOutput{
		Status: "FEASIBLE",
		Routes: []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{pick.TaskID, drop.TaskID}}},
	}
	got, err := f.p.SubmitResults(context.Background(), run.RunID, out)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, got.Status)
	assert.Zero(t, f.solver.calls, "out-of-band results bypass the solver")

	schedule, err := f.results.ListForRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Len(t, schedule, 4)
}

func TestSubmitResultsRejectsRunAlreadyRunning(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)
	f.runs.force(run.RunID, domain.RunRunning)

	out := &domain.SolverOutput{
		Status: "FEASIBLE",
		Routes: []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{pick.TaskID, drop.TaskID}}},
	}
	_, err := f.p.SubmitResults(context.Background(), run.RunID, out)
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))

	// The losing submission must not touch the schedule the in-flight
	// one is about to persist.
	schedule, err := f.results.ListForRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Empty(t, schedule)

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, got.Status)
}

func TestSubmitResultsRejectsTerminalRun(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.runs.force(run.RunID, domain.RunSuccess)

	_, err := f.p.SubmitResults(context.Background(), run.RunID, &domain.SolverOutput{})
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))
}

func TestCancelMarksRunFailed(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)

	got, err := f.p.Cancel(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "cancelled", got.Meta[domain.MetaFailureReason])
	assert.NotNil(t, got.FinishedAt)

	_, err = f.p.Cancel(context.Background(), run.RunID)
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))
}

func TestBuildModelReturnsInputWithoutStatusChange(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.addPair(t, run.RunID)
	ch := f.broker.Subscribe(run.RunID)
	defer f.broker.Unsubscribe(run.RunID, ch)

	input, err := f.p.BuildModel(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, input.RunID)
	assert.Len(t, input.Tasks, 2)

	got, err := f.runs.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, got.Status)

	evs := drainEvents(ch)
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeModelReady, evs[0].Type)
}

func TestBuildModelRejectsTerminalRun(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	f.runs.force(run.RunID, domain.RunSuccess)

	_, err := f.p.BuildModel(context.Background(), run.RunID)
	var transErr *domain.StateTransitionError
	require.True(t, errors.As(err, &transErr))
}

func TestPipelineGetUnknownRun(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.p.Get(context.Background(), 9999)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
