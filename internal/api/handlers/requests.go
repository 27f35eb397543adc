package handlers

import (
	"net/http"
	"time"

	"shuttle-dispatch-service/internal/api/dto"
	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/services"
)

// RequestHandler accepts raw transport request batches from the intake
// collaborator.
type RequestHandler struct {
	Importer *services.RequestImporter
}

func (h *RequestHandler) Import(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req dto.ImportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, r, http.StatusBadRequest, "requests must not be empty")
		return
	}

	rows := make([]domain.TransportRequest, 0, len(req.Requests))
	for _, it := range req.Requests {
		var target time.Time
		if it.TargetAt > 0 {
			target = time.Unix(it.TargetAt, 0)
		}
		rows = append(rows, domain.TransportRequest{
			UserName:     it.UserName,
			FacilityName: it.FacilityName,
			PlaceName:    it.PlaceName,
			Pickup:       it.Pickup,
			TargetAt:     target,
		})
	}

	sum, err := h.Importer.Import(r.Context(), rows)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sum)
}
