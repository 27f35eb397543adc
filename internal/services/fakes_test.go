package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shuttle-dispatch-service/internal/domain"
)

// In-memory port fakes shared by the service tests. They mirror the
// Postgres adapters' observable behavior (guarded transitions, absent
// keys, ordering) without a database.

var testJST = time.FixedZone("JST", 9*60*60)

func testBucketer() domain.Bucketer {
	return domain.NewBucketer(testJST, time.Hour)
}

type fakeNodeRepo struct {
	mu    sync.Mutex
	nodes map[int64]domain.Node
}

func newFakeNodeRepo(nodes ...domain.Node) *fakeNodeRepo {
	m := make(map[int64]domain.Node, len(nodes))
	for _, n := range nodes {
		m[n.NodeID] = n
	}
	return &fakeNodeRepo{nodes: m}
}

func (r *fakeNodeRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]domain.Node, len(ids))
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (r *fakeNodeRepo) GetByNames(ctx context.Context, names []string, kind domain.NodeKind) (map[string]domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Node, len(names))
	for _, name := range names {
		for _, n := range r.nodes {
			if n.Name == name && n.Kind == kind {
				out[name] = n
			}
		}
	}
	return out, nil
}

func (r *fakeNodeRepo) ListAll(ctx context.Context) ([]domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (r *fakeNodeRepo) SetCoords(ctx context.Context, nodeID int64, coords domain.Coordinates, placeRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %d not found", nodeID)
	}
	c := coords
	n.Coords = &c
	n.PlaceRef = placeRef
	r.nodes[nodeID] = n
	return nil
}

type fakeUserRepo struct{ users []domain.User }

func (r *fakeUserRepo) GetByNames(ctx context.Context, names []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(names))
	for _, name := range names {
		for _, u := range r.users {
			if u.Name == name {
				out[name] = u
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	out := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		for _, u := range r.users {
			if u.UserID == id {
				out[id] = u
			}
		}
	}
	return out, nil
}

type fakeFacilityRepo struct{ facilities []domain.Facility }

func (r *fakeFacilityRepo) GetByNames(ctx context.Context, names []string) (map[string]domain.Facility, error) {
	out := make(map[string]domain.Facility, len(names))
	for _, name := range names {
		for _, f := range r.facilities {
			if f.Name == name {
				out[name] = f
			}
		}
	}
	return out, nil
}

func (r *fakeFacilityRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Facility, error) {
	out := make(map[int64]domain.Facility, len(ids))
	for _, id := range ids {
		for _, f := range r.facilities {
			if f.FacilityID == id {
				out[id] = f
			}
		}
	}
	return out, nil
}

type fakeVehicleRepo struct{ vehicles []domain.Vehicle }

func (r *fakeVehicleRepo) ListActiveForFacility(ctx context.Context, facilityID int64) ([]domain.Vehicle, error) {
	var out []domain.Vehicle
	for _, v := range r.vehicles {
		if v.Active && v.FacilityID == facilityID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out, nil
}

func (r *fakeVehicleRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Vehicle, error) {
	out := make(map[int64]domain.Vehicle, len(ids))
	for _, id := range ids {
		for _, v := range r.vehicles {
			if v.VehicleID == id {
				out[id] = v
			}
		}
	}
	return out, nil
}

type fakeRequestRepo struct {
	nextID int64
	rows   []domain.TransportRequest
}

func (r *fakeRequestRepo) CreateMany(ctx context.Context, reqs []domain.TransportRequest) ([]domain.TransportRequest, error) {
	out := make([]domain.TransportRequest, 0, len(reqs))
	for _, req := range reqs {
		r.nextID++
		req.RequestID = r.nextID
		req.CreatedAt = time.Now()
		r.rows = append(r.rows, req)
		out = append(out, req)
	}
	return out, nil
}

func (r *fakeRequestRepo) ListForFacilityDate(ctx context.Context, facilityName string, date time.Time) ([]domain.TransportRequest, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var out []domain.TransportRequest
	for _, row := range r.rows {
		if row.FacilityName != facilityName {
			continue
		}
		if row.TargetAt.Before(dayStart) || !row.TargetAt.Before(dayEnd) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out, nil
}

type fakeTaskRepo struct {
	nextID        int64
	tasks         []domain.RoutingTask
	windowUpdates int
}

func (r *fakeTaskRepo) DeleteForRun(ctx context.Context, runID int64) error {
	kept := r.tasks[:0]
	for _, t := range r.tasks {
		if t.RunID != runID {
			kept = append(kept, t)
		}
	}
	r.tasks = kept
	return nil
}

func (r *fakeTaskRepo) CreatePair(ctx context.Context, pick, drop domain.RoutingTask) (domain.RoutingTask, domain.RoutingTask, error) {
	var zero domain.RoutingTask
	if pick.Kind != domain.TaskPick || drop.Kind != domain.TaskDrop {
		return zero, zero, fmt.Errorf("create task pair: got kinds %s/%s", pick.Kind, drop.Kind)
	}
	if pick.PairKey != drop.PairKey {
		return zero, zero, fmt.Errorf("create task pair: pair keys differ")
	}
	r.nextID++
	pick.TaskID = r.nextID
	r.nextID++
	drop.TaskID = r.nextID
	r.tasks = append(r.tasks, pick, drop)
	return pick, drop, nil
}

func (r *fakeTaskRepo) ListForRun(ctx context.Context, runID int64) ([]domain.RoutingTask, error) {
	var out []domain.RoutingTask
	for _, t := range r.tasks {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (r *fakeTaskRepo) UpdateWindows(ctx context.Context, tasks []domain.RoutingTask) error {
	for _, upd := range tasks {
		for i, t := range r.tasks {
			if t.TaskID == upd.TaskID {
				r.tasks[i].Window = upd.Window
				r.tasks[i].WindowState = upd.WindowState
			}
		}
	}
	r.windowUpdates += len(tasks)
	return nil
}

type fakeRunRepo struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]domain.OptimizationRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: map[int64]domain.OptimizationRun{}}
}

func (r *fakeRunRepo) Create(ctx context.Context, run domain.OptimizationRun) (domain.OptimizationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	run.RunID = r.nextID
	run.Status = domain.RunPending
	run.CreatedAt = time.Now()
	if run.Meta == nil {
		run.Meta = map[string]any{}
	}
	r.runs[run.RunID] = run
	return run, nil
}

func (r *fakeRunRepo) Get(ctx context.Context, runID int64) (domain.OptimizationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return domain.OptimizationRun{}, fmt.Errorf("get run %d: %w", runID, domain.ErrRunNotFound)
	}
	return run, nil
}

func (r *fakeRunRepo) FindActiveForDate(ctx context.Context, facilityID int64, date time.Time) (domain.OptimizationRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := date.Format("2006-01-02")
	var best domain.OptimizationRun
	found := false
	for _, run := range r.runs {
		if run.FacilityID != facilityID || run.Status.Terminal() {
			continue
		}
		if run.ServiceDate.Format("2006-01-02") != day {
			continue
		}
		if !found || run.RunID > best.RunID {
			best = run
			found = true
		}
	}
	return best, found, nil
}

func (r *fakeRunRepo) Transition(ctx context.Context, runID int64, from, to domain.RunStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, &domain.StateTransitionError{RunID: runID, From: from, To: to}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok || run.Status != from {
		return false, nil
	}
	run.Status = to
	now := time.Now()
	if to == domain.RunRunning {
		run.StartedAt = &now
	}
	if to.Terminal() {
		run.FinishedAt = &now
	}
	r.runs[runID] = run
	return true, nil
}

func (r *fakeRunRepo) MergeMeta(ctx context.Context, runID int64, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("merge run meta: run %d: %w", runID, domain.ErrRunNotFound)
	}
	if run.Meta == nil {
		run.Meta = map[string]any{}
	}
	for k, v := range patch {
		run.Meta[k] = v
	}
	r.runs[runID] = run
	return nil
}

// force sets a run's status directly, bypassing the transition guard.
func (r *fakeRunRepo) force(runID int64, status domain.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[runID]
	run.Status = status
	r.runs[runID] = run
}

type fakeResultRepo struct {
	mu sync.Mutex
	// events per run; onReplace, when set, runs after the first
	// replace so tests can race a status change against persistence.
	events    map[int64][]domain.ScheduleEvent
	replaces  int
	onReplace func()
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{events: map[int64][]domain.ScheduleEvent{}}
}

func (r *fakeResultRepo) ReplaceForRun(ctx context.Context, runID int64, events []domain.ScheduleEvent) error {
	r.mu.Lock()
	r.replaces++
	first := r.replaces == 1
	r.events[runID] = append([]domain.ScheduleEvent(nil), events...)
	hook := r.onReplace
	r.mu.Unlock()
	if first && hook != nil {
		hook()
	}
	return nil
}

func (r *fakeResultRepo) ListForRun(ctx context.Context, runID int64) ([]domain.ScheduleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.ScheduleEvent(nil), r.events[runID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].VehicleID != out[j].VehicleID {
			return out[i].VehicleID < out[j].VehicleID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

type memStore struct {
	mu      sync.Mutex
	entries map[domain.TravelTimeKey]domain.TravelTime
	upserts int
}

func newMemStore() *memStore {
	return &memStore{entries: map[domain.TravelTimeKey]domain.TravelTime{}}
}

func (s *memStore) GetMany(ctx context.Context, keys []domain.TravelTimeKey) (map[domain.TravelTimeKey]domain.TravelTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.TravelTimeKey]domain.TravelTime, len(keys))
	for _, k := range keys {
		if tt, ok := s.entries[k]; ok {
			out[k] = tt
		}
	}
	return out, nil
}

func (s *memStore) UpsertMany(ctx context.Context, entries []domain.TravelTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tt := range entries {
		tt.UpdatedAt = time.Now()
		s.entries[tt.Key] = tt
	}
	s.upserts++
	return nil
}

func (s *memStore) seed(originID, destID int64, profile string, bucket int64, seconds, meters int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.TravelTimeKey{OriginID: originID, DestID: destID, Profile: profile, Bucket: bucket}
	s.entries[key] = domain.TravelTime{Key: key, DurationSec: seconds, DistanceMeters: meters, UpdatedAt: time.Now()}
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakeSolver struct {
	out       *domain.SolverOutput
	err       error
	calls     int
	lastInput *domain.OptimizerInput
}

func (s *fakeSolver) Solve(ctx context.Context, input *domain.OptimizerInput) (*domain.SolverOutput, error) {
	s.calls++
	s.lastInput = input
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}
