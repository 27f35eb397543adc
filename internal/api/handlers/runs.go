package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shuttle-dispatch-service/internal/api/dto"
	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/services"
)

// Solver result payloads are small; a megabyte already means something
// upstream went wrong.
const maxResultBody = 1 << 20

// RunHandler exposes the optimization run lifecycle.
type RunHandler struct {
	Pipeline *services.Pipeline
	Loc      *time.Location
}

// Create returns the facility's active run for the service date,
// creating one when none exists. 201 signals an actual creation, 200 an
// existing run.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req dto.CreateRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Facility) == "" {
		writeError(w, r, http.StatusBadRequest, "facility must not be empty")
		return
	}

	serviceDate, err := time.ParseInLocation("2006-01-02", req.ServiceDate, h.Loc)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "service_date must be YYYY-MM-DD")
		return
	}
	var scheduled time.Time
	if req.ScheduledAt != nil {
		scheduled = time.Unix(*req.ScheduledAt, 0).In(h.Loc)
	}

	run, created, err := h.Pipeline.CreateRun(r.Context(), strings.TrimSpace(req.Facility), serviceDate, scheduled, strings.TrimSpace(req.RequestedBy))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, runResponse(run))
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.Pipeline.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runResponse(run))
}

// DeriveTasks turns the service date's raw requests into PICK/DROP
// pairs for the run. ?replace=true re-derives a pending run whose
// imported requests changed, discarding the earlier batch.
func (h *RunHandler) DeriveTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	replace, _ := strconv.ParseBool(r.URL.Query().Get("replace"))
	sum, err := h.Pipeline.Derive(r.Context(), id, replace)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

// BuildModel assembles and returns the optimizer input without running
// the solver.
func (h *RunHandler) BuildModel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	input, err := h.Pipeline.BuildModel(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, input)
}

// Solve executes the remaining pipeline and reports the terminal run.
func (h *RunHandler) Solve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.Pipeline.Solve(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runResponse(run))
}

// SubmitResults accepts a solver output computed out-of-band. The raw
// body is kept verbatim so diagnosis sees exactly what the solver sent.
func (h *RunHandler) SubmitResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResultBody))
	r.Body.Close()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	var req dto.SolverResultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Routes) == 0 {
		writeError(w, r, http.StatusBadRequest, "routes must not be empty")
		return
	}

	out := &domain.SolverOutput{
		Status:    req.Status,
		Objective: req.Objective,
		Raw:       body,
	}
	for _, rt := range req.Routes {
		out.Routes = append(out.Routes, domain.SolverRoute{VehicleID: rt.VehicleID, TaskIDs: rt.TaskIDs})
	}

	run, err := h.Pipeline.SubmitResults(r.Context(), id, out)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runResponse(run))
}

func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.Pipeline.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runResponse(run))
}

// Timeline serves the per-vehicle schedule view.
func (h *RunHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	vehicles, err := h.Pipeline.Timeline(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id":   id,
		"vehicles": vehicles,
	})
}

func runResponse(run domain.OptimizationRun) dto.RunResponse {
	return dto.RunResponse{
		RunID:       run.RunID,
		FacilityID:  run.FacilityID,
		ServiceDate: run.ServiceDate.Format("2006-01-02"),
		ScheduledAt: run.ScheduledStart,
		Profile:     run.Profile,
		Status:      string(run.Status),
		RequestedBy: run.RequestedBy,
		Meta:        run.Meta,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}
