// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/database"
	"github.com/drillhub/training-registry/internal/directory"
	"github.com/drillhub/training-registry/internal/events"
	"github.com/drillhub/training-registry/internal/handler"
	"github.com/drillhub/training-registry/internal/metrics"
	"github.com/drillhub/training-registry/internal/repository"
	"github.com/drillhub/training-registry/internal/service"
)

func main() {
	// No .env file is fine; containers inject environment directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)
	ctx := context.Background()

	// ── 1. Stores: PostgreSQL by default, in-memory for local hacking ─────
	var (
		sessions service.SessionStore
		ledger   service.RegistrationLedger
	)
	switch getEnv("DB_DRIVER", "postgres") {
	case "memory":
		mem := repository.NewMemoryStore()
		sessions, ledger = mem, mem
		log.Info("using in-memory store")
	default:
		pool, err := database.NewPool(ctx, log)
		if err != nil {
			log.Error("database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		sessions = repository.NewSessionRepository(pool)
		ledger = repository.NewRegistrationRepository(pool)
		log.Info("connected to PostgreSQL")
	}

	// ── 2. External collaborators ─────────────────────────────────────────
	var pub events.Publisher = events.NoopPublisher{}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsPub, err := events.NewNatsPublisher(natsURL)
		if err != nil {
			log.Error("nats", "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		pub = natsPub
		log.Info("connected to NATS", "url", natsURL)
	}

	var dir directory.Directory = directory.NewStaticDirectory(nil)
	if dirURL := os.Getenv("DIRECTORY_URL"); dirURL != "" {
		dir = directory.NewHTTPDirectory(dirURL)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	clk := clock.System()
	m := metrics.New(prometheus.DefaultRegisterer)
	adminSvc := service.NewAdminService(sessions, clk, pub, m, log)
	regSvc := service.NewRegistrationService(sessions, ledger, clk, pub, m, log)
	rosterSvc := service.NewRosterService(sessions, ledger, dir, clk, log)
	h := handler.New(adminSvc, regSvc, rosterSvc, clk)

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log))
	r.Use(handler.CORS)
	r.Use(handler.Identity)

	r.Get("/health", handler.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	h.Routes(r)

	// ── 5. Start server with graceful shutdown ────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
