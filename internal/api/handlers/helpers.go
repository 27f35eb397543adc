package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obs.L().Warn("encode response",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeDomainError maps known error kinds onto HTTP statuses so
// handlers stay a thin translation layer. Unknown errors are logged
// and reported as plain 500s.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stateErr  *domain.StateTransitionError
		capErr    *domain.InsufficientCapacityError
		emptyErr  *domain.EmptyNodeSetError
		windowErr *domain.TimeWindowViolationError
		paxErr    *domain.PassengerCountError
		nodeErr   *domain.UnresolvedNodeError
		userErr   *domain.UnresolvedUserError
		extErr    *domain.ExternalServiceError
	)
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		writeError(w, r, http.StatusNotFound, "run not found")
	case errors.Is(err, domain.ErrTasksAlreadyDerived):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &stateErr):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &emptyErr),
		errors.As(err, &capErr),
		errors.As(err, &windowErr),
		errors.As(err, &paxErr),
		errors.As(err, &nodeErr),
		errors.As(err, &userErr):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &extErr):
		obs.L().Warn("upstream failure",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusBadGateway, "upstream service failure")
	default:
		obs.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes exactly one JSON object from the request body.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON object")
	}
	return nil
}

// pathID parses the {id} segment of the matched route.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}
