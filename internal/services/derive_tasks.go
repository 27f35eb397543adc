package services

import (
	"context"
	"fmt"
	"time"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

// Service window shape shared by every derived task.
const (
	pickupLead   = 10 * time.Minute
	dropoffSlack = 60 * time.Minute
	depotDwell   = 30 * time.Minute
)

// Audit outcomes recorded per raw request.
const (
	outcomeDerived = "derived"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// TaskDeriver turns a facility's raw requests for a service date into
// PICK/DROP task pairs for a run. Each raw request yields exactly one
// pair; requests that cannot be derived are recorded in the run's
// audit trail without failing the batch.
type TaskDeriver struct {
	requests   ports.RequestRepository
	users      ports.UserRepository
	facilities ports.FacilityRepository
	nodes      ports.NodeRepository
	tasks      ports.TaskRepository
	runs       ports.RunRepository
	travel     *TravelTimeCache
}

func NewTaskDeriver(
	requests ports.RequestRepository,
	users ports.UserRepository,
	facilities ports.FacilityRepository,
	nodes ports.NodeRepository,
	tasks ports.TaskRepository,
	runs ports.RunRepository,
	travel *TravelTimeCache,
) *TaskDeriver {
	return &TaskDeriver{
		requests:   requests,
		users:      users,
		facilities: facilities,
		nodes:      nodes,
		tasks:      tasks,
		runs:       runs,
		travel:     travel,
	}
}

// Outcome of one derivation batch.
type DeriveSummary struct {
	Derived int                      `json:"derived"`
	Skipped int                      `json:"skipped"`
	Failed  int                      `json:"failed"`
	Audit   []domain.DerivationAudit `json:"audit"`
}

// Registry snapshot one derivation batch resolves names against.
type derivationRegistry struct {
	facilities map[string]domain.Facility
	users      map[string]domain.User
	places     map[string]domain.Node
}

// DeriveForRun derives the task pairs for the run's facility and
// service date. Derivation consumes each raw request exactly once per
// run, so a second invocation is rejected once tasks exist unless
// replace is set, which clears the previous batch first (for a pending
// run whose imported requests changed).
func (d *TaskDeriver) DeriveForRun(ctx context.Context, run domain.OptimizationRun, replace bool) (_ DeriveSummary, err error) {
	defer obs.Time(ctx, "tasks.Derive")(&err)

	if run.Status != domain.RunPending {
		return DeriveSummary{}, &domain.StateTransitionError{RunID: run.RunID, From: run.Status, To: domain.RunPending}
	}
	existing, err := d.tasks.ListForRun(ctx, run.RunID)
	if err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}
	if len(existing) > 0 {
		if !replace {
			return DeriveSummary{}, fmt.Errorf("derive tasks: run %d: %w", run.RunID, domain.ErrTasksAlreadyDerived)
		}
		if err := d.tasks.DeleteForRun(ctx, run.RunID); err != nil {
			return DeriveSummary{}, fmt.Errorf("derive tasks: clear previous batch: %w", err)
		}
	}

	facByID, err := d.facilities.GetByIDs(ctx, []int64{run.FacilityID})
	if err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}
	runFacility, ok := facByID[run.FacilityID]
	if !ok {
		return DeriveSummary{}, fmt.Errorf("derive tasks: facility %d for run %d is not registered", run.FacilityID, run.RunID)
	}

	loc := d.travel.Bucketer().Location()
	day := time.Date(run.ServiceDate.Year(), run.ServiceDate.Month(), run.ServiceDate.Day(), 0, 0, 0, 0, loc)

	reqs, err := d.requests.ListForFacilityDate(ctx, runFacility.Name, day)
	if err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}

	reg, err := d.resolveRegistries(ctx, reqs)
	if err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}

	travelKnown, err := d.lookupPickupTravel(ctx, run, reqs, reg)
	if err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}

	summary := DeriveSummary{Audit: make([]domain.DerivationAudit, 0, len(reqs))}
	for i, req := range reqs {
		audit := domain.DerivationAudit{RequestID: req.RequestID, UserName: req.UserName}

		if reason := req.SkipReason(); reason != "" {
			audit.Outcome = outcomeSkipped
			audit.Reason = reason
			summary.Skipped++
			summary.Audit = append(summary.Audit, audit)
			continue
		}

		pick, drop, derr := d.buildPair(run, req, i+1, reg, travelKnown)
		if derr == nil {
			_, _, derr = d.tasks.CreatePair(ctx, pick, drop)
		}
		if derr != nil {
			audit.Outcome = outcomeFailed
			audit.Reason = derr.Error()
			summary.Failed++
			summary.Audit = append(summary.Audit, audit)
			continue
		}

		audit.Outcome = outcomeDerived
		summary.Derived++
		summary.Audit = append(summary.Audit, audit)
	}

	patch := map[string]any{
		domain.MetaDerivation: summary.Audit,
		"derivation_counts": map[string]int{
			"derived": summary.Derived,
			"skipped": summary.Skipped,
			"failed":  summary.Failed,
		},
	}
	if err := d.runs.MergeMeta(ctx, run.RunID, patch); err != nil {
		return DeriveSummary{}, fmt.Errorf("derive tasks: %w", err)
	}

	return summary, nil
}

// resolveRegistries loads the facilities, users and place nodes the
// batch names, one batched query per registry.
func (d *TaskDeriver) resolveRegistries(
	ctx context.Context,
	reqs []domain.TransportRequest,
) (derivationRegistry, error) {
	facSet := map[string]struct{}{}
	userSet := map[string]struct{}{}
	placeSet := map[string]struct{}{}
	var facNames, userNames, placeNames []string
	for _, r := range reqs {
		if !r.Actionable() {
			continue
		}
		if _, ok := facSet[r.FacilityName]; !ok {
			facSet[r.FacilityName] = struct{}{}
			facNames = append(facNames, r.FacilityName)
		}
		if _, ok := userSet[r.UserName]; !ok {
			userSet[r.UserName] = struct{}{}
			userNames = append(userNames, r.UserName)
		}
		if _, ok := placeSet[r.PlaceName]; !ok {
			placeSet[r.PlaceName] = struct{}{}
			placeNames = append(placeNames, r.PlaceName)
		}
	}

	facilities, err := d.facilities.GetByNames(ctx, facNames)
	if err != nil {
		return derivationRegistry{}, err
	}
	users, err := d.users.GetByNames(ctx, userNames)
	if err != nil {
		return derivationRegistry{}, err
	}
	places, err := d.nodes.GetByNames(ctx, placeNames, domain.NodePlace)
	if err != nil {
		return derivationRegistry{}, err
	}

	return derivationRegistry{facilities: facilities, users: users, places: places}, nil
}

// lookupPickupTravel fetches, in one batched store read, the place ->
// depot travel times needed to finalize pickup-direction DROP windows.
// Missing entries are fine; those windows stay provisional.
func (d *TaskDeriver) lookupPickupTravel(
	ctx context.Context,
	run domain.OptimizationRun,
	reqs []domain.TransportRequest,
	reg derivationRegistry,
) (map[domain.TravelTimeKey]domain.TravelTime, error) {
	keys := make([]domain.TravelTimeKey, 0, len(reqs))
	for _, r := range reqs {
		if !r.Actionable() || !r.Pickup {
			continue
		}
		place, ok := reg.places[r.PlaceName]
		if !ok {
			continue
		}
		fac, ok := reg.facilities[r.FacilityName]
		if !ok {
			continue
		}
		keys = append(keys, domain.TravelTimeKey{
			OriginID: place.NodeID,
			DestID:   fac.NodeID,
			Profile:  run.Profile,
			Bucket:   d.travel.Bucketer().Bucket(r.TargetAt),
		})
	}
	if len(keys) == 0 {
		return map[domain.TravelTimeKey]domain.TravelTime{}, nil
	}
	return d.travel.GetMany(ctx, keys)
}

// buildPair derives the PICK/DROP pair for one request. Seq is the
// request's 1-based position in the batch, which keeps pair keys
// stable for a given import.
func (d *TaskDeriver) buildPair(
	run domain.OptimizationRun,
	req domain.TransportRequest,
	seq int,
	reg derivationRegistry,
	travelKnown map[domain.TravelTimeKey]domain.TravelTime,
) (domain.RoutingTask, domain.RoutingTask, error) {
	var zero domain.RoutingTask

	fac, ok := reg.facilities[req.FacilityName]
	if !ok {
		return zero, zero, &domain.UnresolvedNodeError{Name: req.FacilityName, Kind: "facility"}
	}
	user, ok := reg.users[req.UserName]
	if !ok || !user.Active || user.FacilityID != fac.FacilityID {
		return zero, zero, &domain.UnresolvedUserError{Name: req.UserName, Facility: fac.Name}
	}
	place, ok := reg.places[req.PlaceName]
	if !ok {
		return zero, zero, &domain.UnresolvedNodeError{Name: req.PlaceName, Kind: "place"}
	}

	pairKey := domain.FormatPairKey(user.UserID, run.ServiceDate.Format("20060102"), seq)
	base := domain.RoutingTask{
		RunID:       run.RunID,
		RequestID:   req.RequestID,
		UserID:      user.UserID,
		PairKey:     pairKey,
		WindowState: domain.WindowFinal,
	}

	t := req.TargetAt
	pick, drop := base, base
	pick.Kind = domain.TaskPick
	drop.Kind = domain.TaskDrop

	if req.Pickup {
		pick.NodeID = place.NodeID
		pick.Window = domain.TimeWindow{Start: t.Add(-pickupLead), End: t.Add(pickupLead)}

		drop.NodeID = fac.NodeID
		key := domain.TravelTimeKey{
			OriginID: place.NodeID,
			DestID:   fac.NodeID,
			Profile:  run.Profile,
			Bucket:   d.travel.Bucketer().Bucket(t),
		}
		if tt, ok := travelKnown[key]; ok {
			arrive := t.Add(time.Duration(tt.DurationSec) * time.Second)
			drop.Window = domain.TimeWindow{Start: arrive, End: arrive.Add(depotDwell)}
		} else {
			// Travel unknown until the matrix is assembled; anchor the
			// window at the target time and mark it provisional.
			drop.Window = domain.TimeWindow{Start: t, End: t.Add(depotDwell)}
			drop.WindowState = domain.WindowProvisional
		}
	} else {
		pick.NodeID = fac.NodeID
		pick.Window = domain.TimeWindow{Start: t.Add(-pickupLead), End: t.Add(dropoffSlack)}

		drop.NodeID = place.NodeID
		drop.Window = domain.TimeWindow{Start: t.Add(-pickupLead), End: t.Add(dropoffSlack)}
	}

	return pick, drop, nil
}
