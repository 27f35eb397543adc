package handlers

import (
	"net/http"
)

// Health provides a minimal liveness check endpoint. Method enforcement
// lives in the route pattern.
func Health(w http.ResponseWriter, r *http.Request) {
	res := map[string]string{"status": "ok"}
	writeJSON(w, r, http.StatusOK, res)
}
