package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
)

// HTTPSolver submits assembled models to the external optimizer over
// HTTP and maps its response onto domain.SolverOutput. Solve calls are
// not retried; a second search would just repeat the same time budget.
type HTTPSolver struct {
	session *http.Client
	baseURL string
}

func NewHTTPSolver(baseURL string, timeout time.Duration) (*HTTPSolver, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("solver base url is empty")
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPSolver{
		session: &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type solveTask struct {
	TaskID      int64  `json:"task_id"`
	PairKey     string `json:"pair_key"`
	Kind        string `json:"kind"`
	NodeIndex   int    `json:"node_index"`
	WindowStart int64  `json:"window_start"`
	WindowEnd   int64  `json:"window_end"`
}

type solvePayload struct {
	RunID           int64                 `json:"run_id"`
	DepartureBucket int64                 `json:"departure_bucket"`
	Profile         string                `json:"profile"`
	Nodes           []domain.ModelNode    `json:"nodes"`
	Matrix          [][]int               `json:"matrix"`
	Distances       [][]int               `json:"distances,omitempty"`
	Tasks           []solveTask           `json:"tasks"`
	Vehicles        []domain.ModelVehicle `json:"vehicles"`
	Pairs           [][2]int              `json:"pairs"`
	TimeLimitSec    int                   `json:"time_limit_sec"`
}

type solveResponse struct {
	Status    string `json:"status"`
	Objective int64  `json:"objective"`
	Routes    []struct {
		VehicleID int64   `json:"vehicle_id"`
		TaskIDs   []int64 `json:"task_ids"`
	} `json:"routes"`
}

// Solve submits the model and blocks until the optimizer responds or
// ctx expires.
func (s *HTTPSolver) Solve(ctx context.Context, input *domain.OptimizerInput) (_ *domain.SolverOutput, err error) {
	defer obs.Time(ctx, "solver.Solve")(&err)

	if input == nil {
		return nil, errors.New("solve: nil input")
	}

	payload := solvePayload{
		RunID:           input.RunID,
		DepartureBucket: input.DepartureBucket,
		Profile:         input.Profile,
		Nodes:           input.Nodes,
		Matrix:          input.Matrix,
		Distances:       input.Distances,
		Vehicles:        input.Vehicles,
		Pairs:           input.Pairs,
		TimeLimitSec:    int(input.TimeLimit / time.Second),
	}
	for _, t := range input.Tasks {
		payload.Tasks = append(payload.Tasks, solveTask{
			TaskID:      t.TaskID,
			PairKey:     t.PairKey,
			Kind:        string(t.Kind),
			NodeIndex:   t.NodeIndex,
			WindowStart: t.Window.Start.Unix(),
			WindowEnd:   t.Window.End.Unix(),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal solve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/solve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.session.Do(req)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "solver", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read solve response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ExternalServiceError{
			Service: "solver",
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
	}

	var decoded solveResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode solve response: %w", err)
	}

	out := &domain.SolverOutput{
		Status:    decoded.Status,
		Objective: decoded.Objective,
		Raw:       raw,
	}
	for _, r := range decoded.Routes {
		out.Routes = append(out.Routes, domain.SolverRoute{VehicleID: r.VehicleID, TaskIDs: r.TaskIDs})
	}
	return out, nil
}
