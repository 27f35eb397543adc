package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/events"
	"shuttle-dispatch-service/internal/platform/metrics"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

// Hour of the service date a run departs at when the caller does not
// say otherwise.
const defaultStartHour = 8

// Pipeline drives optimization runs through their lifecycle: create,
// derive tasks, assemble the model, solve, reconstruct and persist the
// schedule. Stage failures move the run to failed with the reason in
// metadata; lifecycle changes are published on the broker.
type Pipeline struct {
	Runs       ports.RunRepository
	Results    ports.ResultRepository
	Tasks      ports.TaskRepository
	Vehicles   ports.VehicleRepository
	Facilities ports.FacilityRepository
	Nodes      ports.NodeRepository
	Users      ports.UserRepository
	Deriver    *TaskDeriver
	Assembler  *ModelAssembler
	Solver     ports.Solver
	Broker     events.Broker

	// Profile is stamped on newly created runs.
	Profile string
}

// CreateRun returns the active run for the facility and service date,
// creating a pending one when none exists, so repeated submissions for
// a day share one run. The boolean reports whether a run was created.
func (p *Pipeline) CreateRun(ctx context.Context, facilityName string, serviceDate, scheduledStart time.Time, requestedBy string) (domain.OptimizationRun, bool, error) {
	facilities, err := p.Facilities.GetByNames(ctx, []string{facilityName})
	if err != nil {
		return domain.OptimizationRun{}, false, fmt.Errorf("create run: %w", err)
	}
	fac, ok := facilities[facilityName]
	if !ok || !fac.Active {
		return domain.OptimizationRun{}, false, &domain.UnresolvedNodeError{Name: facilityName, Kind: "active facility"}
	}

	run, ok, err := p.Runs.FindActiveForDate(ctx, fac.FacilityID, serviceDate)
	if err != nil {
		return domain.OptimizationRun{}, false, fmt.Errorf("create run: %w", err)
	}
	if ok {
		return run, false, nil
	}

	if scheduledStart.IsZero() {
		y, m, d := serviceDate.Date()
		scheduledStart = time.Date(y, m, d, defaultStartHour, 0, 0, 0, serviceDate.Location())
	}
	created, err := p.Runs.Create(ctx, domain.OptimizationRun{
		FacilityID:     fac.FacilityID,
		ServiceDate:    serviceDate,
		ScheduledStart: scheduledStart,
		Profile:        p.Profile,
		Status:         domain.RunPending,
		RequestedBy:    requestedBy,
	})
	if err != nil {
		return domain.OptimizationRun{}, false, fmt.Errorf("create run: %w", err)
	}
	p.publish(created.RunID, events.TypeRunStatus, map[string]any{"status": string(created.Status)})
	return created, true, nil
}

// Get fetches one run.
func (p *Pipeline) Get(ctx context.Context, runID int64) (domain.OptimizationRun, error) {
	return p.Runs.Get(ctx, runID)
}

// Derive builds PICK/DROP task pairs from the run's raw requests.
// Replace clears an earlier batch instead of rejecting it.
func (p *Pipeline) Derive(ctx context.Context, runID int64, replace bool) (DeriveSummary, error) {
	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return DeriveSummary{}, err
	}
	sum, err := p.Deriver.DeriveForRun(ctx, run, replace)
	if err != nil {
		return DeriveSummary{}, err
	}
	p.publish(runID, events.TypeTasksDerived, map[string]any{
		"derived": sum.Derived,
		"skipped": sum.Skipped,
		"failed":  sum.Failed,
	})
	return sum, nil
}

// BuildModel assembles and returns the optimizer input without touching
// run status, for deployments that hand the model to an external solver
// operator.
func (p *Pipeline) BuildModel(ctx context.Context, runID int64) (*domain.OptimizerInput, error) {
	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, &domain.StateTransitionError{RunID: runID, From: run.Status, To: domain.RunRunning}
	}
	input, err := p.Assembler.Assemble(ctx, run)
	if err != nil {
		return nil, err
	}
	p.publish(runID, events.TypeModelReady, map[string]any{
		"nodes":    len(input.Nodes),
		"tasks":    len(input.Tasks),
		"vehicles": len(input.Vehicles),
	})
	return input, nil
}

// Solve runs the remaining pipeline for a pending run: assemble, call
// the solver, reconstruct the schedule and persist it, finishing in
// success or failed.
func (p *Pipeline) Solve(ctx context.Context, runID int64) (_ domain.OptimizationRun, err error) {
	defer obs.Time(ctx, "run.Solve")(&err)

	if p.Solver == nil {
		return domain.OptimizationRun{}, &domain.ExternalServiceError{Service: "solver", Err: errors.New("no solver configured")}
	}

	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return domain.OptimizationRun{}, err
	}
	if err := p.transition(ctx, runID, domain.RunPending, domain.RunRunning); err != nil {
		return domain.OptimizationRun{}, err
	}

	input, err := p.Assembler.Assemble(ctx, run)
	if err != nil {
		return p.fail(ctx, runID, err, nil)
	}

	start := time.Now()
	out, solveErr := p.Solver.Solve(ctx, input)
	metrics.SolveDuration.Observe(time.Since(start).Seconds())
	if solveErr != nil {
		return p.fail(ctx, runID, fmt.Errorf("solve run %d: %w", runID, solveErr), nil)
	}

	return p.finish(ctx, run, input, out)
}

// SubmitResults accepts a solver output produced out-of-band, for the
// async path where the exported model was solved elsewhere. Only a
// pending run is accepted: the CAS to running admits exactly one
// submission, so a run already being finished elsewhere is rejected
// instead of re-assembled concurrently.
func (p *Pipeline) SubmitResults(ctx context.Context, runID int64, out *domain.SolverOutput) (_ domain.OptimizationRun, err error) {
	defer obs.Time(ctx, "run.SubmitResults")(&err)

	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return domain.OptimizationRun{}, err
	}
	if run.Status.Terminal() {
		return domain.OptimizationRun{}, &domain.StateTransitionError{RunID: runID, From: run.Status, To: domain.RunRunning}
	}
	if err := p.transition(ctx, runID, domain.RunPending, domain.RunRunning); err != nil {
		return domain.OptimizationRun{}, err
	}

	// Assembly is deterministic for a fixed task set, so rebuilding it
	// here recovers the node ordering and matrix the exported model
	// carried.
	input, err := p.Assembler.Assemble(ctx, run)
	if err != nil {
		return p.fail(ctx, runID, err, nil)
	}
	return p.finish(ctx, run, input, out)
}

// Cancel marks a non-terminal run failed with reason "cancelled".
func (p *Pipeline) Cancel(ctx context.Context, runID int64) (domain.OptimizationRun, error) {
	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return domain.OptimizationRun{}, err
	}
	if run.Status.Terminal() {
		return domain.OptimizationRun{}, &domain.StateTransitionError{RunID: runID, From: run.Status, To: domain.RunFailed}
	}
	if err := p.Runs.MergeMeta(ctx, runID, map[string]any{domain.MetaFailureReason: "cancelled"}); err != nil {
		return domain.OptimizationRun{}, fmt.Errorf("cancel run %d: %w", runID, err)
	}
	if err := p.transition(ctx, runID, run.Status, domain.RunFailed); err != nil {
		return domain.OptimizationRun{}, err
	}
	return p.Runs.Get(ctx, runID)
}

// finish reconstructs and persists a solver output for a running run,
// then moves it to success. A reconstruction failure preserves the raw
// solver output in run metadata for diagnosis.
func (p *Pipeline) finish(ctx context.Context, run domain.OptimizationRun, input *domain.OptimizerInput, out *domain.SolverOutput) (domain.OptimizationRun, error) {
	patch := map[string]any{domain.MetaSolverStatus: out.Status}
	if out.Objective != 0 {
		patch["objective"] = out.Objective
	}
	if err := p.Runs.MergeMeta(ctx, run.RunID, patch); err != nil {
		return domain.OptimizationRun{}, fmt.Errorf("record solver status: %w", err)
	}

	if len(out.Routes) == 0 {
		return p.fail(ctx, run.RunID, fmt.Errorf("solver returned no routes for run %d", run.RunID), rawSolverMeta(out))
	}

	schedule, err := ReconstructSchedule(ctx, run, input, out)
	if err != nil {
		return p.fail(ctx, run.RunID, err, rawSolverMeta(out))
	}
	if err := p.Results.ReplaceForRun(ctx, run.RunID, schedule); err != nil {
		return p.fail(ctx, run.RunID, fmt.Errorf("persist schedule: %w", err), nil)
	}
	if err := p.transition(ctx, run.RunID, domain.RunRunning, domain.RunSuccess); err != nil {
		// The run went terminal while the schedule was being persisted
		// (e.g. cancelled mid-solve); drop the orphaned schedule.
		if derr := p.Results.ReplaceForRun(ctx, run.RunID, nil); derr != nil {
			obs.L().Warn("discard schedule for terminal run", zap.Int64("run_id", run.RunID), zap.Error(derr))
		}
		return domain.OptimizationRun{}, err
	}
	p.publish(run.RunID, events.TypeScheduleReady, map[string]any{
		"events": len(schedule),
		"status": out.Status,
	})
	return p.Runs.Get(ctx, run.RunID)
}

// fail records the cause and any extra diagnostics, moves the run to
// failed and hands the cause back so callers can propagate it.
func (p *Pipeline) fail(ctx context.Context, runID int64, cause error, extra map[string]any) (domain.OptimizationRun, error) {
	patch := map[string]any{domain.MetaFailureReason: cause.Error()}
	for k, v := range extra {
		patch[k] = v
	}
	if err := p.Runs.MergeMeta(ctx, runID, patch); err != nil {
		obs.L().Warn("record failure reason", zap.Int64("run_id", runID), zap.Error(err))
	}
	if err := p.transition(ctx, runID, domain.RunRunning, domain.RunFailed); err != nil {
		obs.L().Warn("mark run failed", zap.Int64("run_id", runID), zap.Error(err))
	}
	return domain.OptimizationRun{}, cause
}

func (p *Pipeline) transition(ctx context.Context, runID int64, from, to domain.RunStatus) error {
	ok, err := p.Runs.Transition(ctx, runID, from, to)
	if err != nil {
		return fmt.Errorf("transition run %d: %w", runID, err)
	}
	if !ok {
		return &domain.StateTransitionError{RunID: runID, From: from, To: to}
	}
	metrics.RunTransitions.WithLabelValues(string(from), string(to)).Inc()
	p.publish(runID, events.TypeRunStatus, map[string]any{"status": string(to)})
	return nil
}

func (p *Pipeline) publish(runID int64, typ string, data map[string]any) {
	if p.Broker == nil {
		return
	}
	p.Broker.Publish(runID, events.Event{Type: typ, RunID: runID, Data: data})
}

func rawSolverMeta(out *domain.SolverOutput) map[string]any {
	if out == nil || len(out.Raw) == 0 {
		return nil
	}
	return map[string]any{domain.MetaSolverOutput: json.RawMessage(out.Raw)}
}
