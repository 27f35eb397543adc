package handlers

import (
	"net/http"
	"time"

	"shuttle-dispatch-service/internal/api/dto"
	"shuttle-dispatch-service/internal/services"
)

// TravelTimeHandler exposes explicit travel-time matrix maintenance.
type TravelTimeHandler struct {
	Cache          *services.TravelTimeCache
	DefaultProfile string
}

// Rebuild regenerates the cache for every ordered node pair in the
// registry at the given profile and departure time. An empty body uses
// the default profile and the current time.
func (h *TravelTimeHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req dto.RebuildRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	profile := req.Profile
	if profile == "" {
		profile = h.DefaultProfile
	}
	departAt := time.Now()
	if req.DepartAt != nil {
		departAt = time.Unix(*req.DepartAt, 0)
	}

	pairs, err := h.Cache.Rebuild(r.Context(), profile, departAt)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.RebuildResponse{
		Pairs:  pairs,
		Bucket: h.Cache.Bucketer().Bucket(departAt),
	})
}
