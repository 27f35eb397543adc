package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"shuttle-dispatch-service/internal/events"
	"shuttle-dispatch-service/internal/services"
)

// Interval for SSE comment lines that keep idle connections from being
// reaped by proxies.
const keepaliveInterval = 25 * time.Second

// EventsHandler streams run lifecycle events to dispatcher UIs as
// Server-Sent Events.
type EventsHandler struct {
	Pipeline *services.Pipeline
	Broker   events.Broker
}

// Stream subscribes to the run's event channel and forwards events
// until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid run id")
		return
	}
	if _, err := h.Pipeline.Get(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ch := h.Broker.Subscribe(id)
	defer h.Broker.Unsubscribe(id, ch)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			fl.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			fl.Flush()
		}
	}
}
