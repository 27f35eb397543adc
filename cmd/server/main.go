package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"shuttle-dispatch-service/internal/adapters/cache"
	"shuttle-dispatch-service/internal/adapters/mapping"
	"shuttle-dispatch-service/internal/adapters/repositories"
	"shuttle-dispatch-service/internal/adapters/solver"
	"shuttle-dispatch-service/internal/api"
	"shuttle-dispatch-service/internal/config"
	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/events"
	"shuttle-dispatch-service/internal/platform/db"
	"shuttle-dispatch-service/internal/platform/metrics"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
	"shuttle-dispatch-service/internal/services"
)

// main is the application composition root.
// It wires concrete adapters (Postgres, mapping, solver, broker) behind
// ports and starts the HTTP server.
func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := obs.Init(config.Get("LOG_LEVEL", "info")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer obs.Sync()
	log := obs.L()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	metrics.RegisterDefault()

	loc, err := cfg.Dispatch.Location()
	if err != nil {
		log.Fatal("resolve timezone", zap.Error(err))
	}

	conn, err := db.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	nodeRepo := repositories.NewPGNodeRepository(conn)
	userRepo := repositories.NewPGUserRepository(conn)
	facilityRepo := repositories.NewPGFacilityRepository(conn)
	vehicleRepo := repositories.NewPGVehicleRepository(conn)
	requestRepo := repositories.NewPGRequestRepository(conn)
	runRepo := repositories.NewPGRunRepository(conn)
	taskRepo := repositories.NewPGTaskRepository(conn)
	resultRepo := repositories.NewPGResultRepository(conn)

	provider, err := mapping.NewClient(
		cfg.Mapping.BaseURL,
		cfg.Mapping.APIKey,
		cfg.Mapping.Timeout(),
		cfg.Mapping.RatePerSecond,
		cfg.Mapping.RateBurst,
	)
	if err != nil {
		log.Fatal("mapping client", zap.Error(err))
	}

	// Without SOLVER_URL the synchronous solve endpoint is disabled;
	// models are still built and results accepted out-of-band.
	var routeSolver ports.Solver
	if cfg.Solver.BaseURL != "" {
		hs, err := solver.NewHTTPSolver(cfg.Solver.BaseURL, cfg.Solver.Timeout())
		if err != nil {
			log.Fatal("solver client", zap.Error(err))
		}
		routeSolver = hs
	} else {
		log.Info("SOLVER_URL not set; solve requests will be rejected")
	}

	var broker events.Broker
	if cfg.Redis.URL != "" {
		rb, err := events.NewRedisBroker(cfg.Redis.URL)
		if err != nil {
			log.Fatal("redis broker", zap.Error(err))
		}
		defer rb.Close()
		broker = rb
	} else {
		broker = events.NewMemoryBroker()
	}

	bucketer := domain.NewBucketer(loc, cfg.Dispatch.BucketWidth())
	travel := services.NewTravelTimeCache(cache.NewSQLTravelTimeStore(conn), provider, nodeRepo, bucketer, cfg.Mapping.TrafficModel)
	deriver := services.NewTaskDeriver(requestRepo, userRepo, facilityRepo, nodeRepo, taskRepo, runRepo, travel)
	assembler := services.NewModelAssembler(taskRepo, vehicleRepo, facilityRepo, travel, cfg.Solver.TimeLimit())
	pipeline := &services.Pipeline{
		Runs:       runRepo,
		Results:    resultRepo,
		Tasks:      taskRepo,
		Vehicles:   vehicleRepo,
		Nodes:      nodeRepo,
		Users:      userRepo,
		Facilities: facilityRepo,
		Deriver:    deriver,
		Assembler:  assembler,
		Solver:     routeSolver,
		Broker:     broker,
		Profile:    cfg.Dispatch.Profile,
	}
	importer := services.NewRequestImporter(requestRepo)

	router := api.NewRouter(pipeline, importer, travel, broker)

	// Timeouts are tuned for cold-cache model assembly (external API
	// latency); SSE clients reconnect when the write timeout trips.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
