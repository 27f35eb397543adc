package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shuttle-dispatch-service/internal/api/handlers"
	"shuttle-dispatch-service/internal/events"
	"shuttle-dispatch-service/internal/platform/metrics"
	"shuttle-dispatch-service/internal/services"
)

// NewRouter wires HTTP handlers with their dependencies and returns an
// http.Handler. This is the API composition root (handlers stay unaware
// of concrete adapters).
func NewRouter(
	pipeline *services.Pipeline,
	importer *services.RequestImporter,
	travel *services.TravelTimeCache,
	broker events.Broker,
) http.Handler {
	mux := http.NewServeMux()

	reqHandler := &handlers.RequestHandler{Importer: importer}
	runHandler := &handlers.RunHandler{
		Pipeline: pipeline,
		Loc:      travel.Bucketer().Location(),
	}
	ttHandler := &handlers.TravelTimeHandler{
		Cache:          travel,
		DefaultProfile: pipeline.Profile,
	}
	eventsHandler := &handlers.EventsHandler{Pipeline: pipeline, Broker: broker}

	mux.HandleFunc("GET /health", handlers.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/requests/import", reqHandler.Import)

	mux.HandleFunc("POST /api/runs", runHandler.Create)
	mux.HandleFunc("GET /api/runs/{id}", runHandler.Get)
	mux.HandleFunc("POST /api/runs/{id}/tasks", runHandler.DeriveTasks)
	mux.HandleFunc("POST /api/runs/{id}/model", runHandler.BuildModel)
	mux.HandleFunc("POST /api/runs/{id}/solve", runHandler.Solve)
	mux.HandleFunc("POST /api/runs/{id}/results", runHandler.SubmitResults)
	mux.HandleFunc("POST /api/runs/{id}/cancel", runHandler.Cancel)
	mux.HandleFunc("GET /api/runs/{id}/timeline", runHandler.Timeline)
	mux.HandleFunc("GET /api/runs/{id}/events", eventsHandler.Stream)

	mux.HandleFunc("POST /api/traveltimes/rebuild", ttHandler.Rebuild)

	return requestID(loggingMiddleware(mux))
}
