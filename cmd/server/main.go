// Patchbot - conversational framework patch dispatcher
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/patchbot/internal/api"
	"github.com/ashureev/patchbot/internal/catalog"
	"github.com/ashureev/patchbot/internal/config"
	"github.com/ashureev/patchbot/internal/dispatch"
	"github.com/ashureev/patchbot/internal/engine"
	"github.com/ashureev/patchbot/internal/gateway"
	"github.com/ashureev/patchbot/internal/health"
	"github.com/ashureev/patchbot/internal/identity"
	"github.com/ashureev/patchbot/internal/logbuf"
	"github.com/ashureev/patchbot/internal/metrics"
	"github.com/ashureev/patchbot/internal/middleware"
	"github.com/ashureev/patchbot/internal/ratelimit"
	"github.com/ashureev/patchbot/internal/session"
	"github.com/ashureev/patchbot/internal/store"
	"github.com/ashureev/patchbot/internal/upload"
	"github.com/ashureev/patchbot/internal/worker"
)

const drainTimeout = 30 * time.Second

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	port := pflag.String("port", "", "HTTP listen port (overrides PORT)")
	healthcheck := pflag.Bool("healthcheck", false, "probe the gRPC health service at GRPC_HEALTH_ADDR and exit")
	pflag.Parse()

	var level slog.LevelVar
	ring := logbuf.NewRing(logbuf.DefaultLines)
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, ring), &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", *envFile)
	}

	if *healthcheck {
		os.Exit(probe(os.Getenv("GRPC_HEALTH_ADDR")))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	level.Set(cfg.LogLevel)
	ring.Resize(cfg.LogBufferLines)

	slog.Info("Starting server", "port", cfg.Port, "log_level", cfg.LogLevel.String(), "container", config.IsContainer())
	if cfg.GatewayToken == "" {
		slog.Warn("GATEWAY_TOKEN is not set, gateway and admin routes are unauthenticated")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		slog.Error("Failed to create artifact directory", "error", err, "dir", cfg.ArtifactDir)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewStore()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, sessions.Len)

	uploader := upload.New(upload.Options{
		APIURL: cfg.PixelDrain.APIURL,
		APIKey: cfg.PixelDrain.APIKey,
		Logger: logger,
	})
	dispatcher := dispatch.New(dispatch.Options{
		APIURL: cfg.GitHub.APIURL,
		Token:  cfg.GitHub.Token,
		Owner:  cfg.GitHub.Owner,
		Repo:   cfg.GitHub.Repo,
		Ref:    cfg.GitHub.Ref,
		Workflows: dispatch.WorkflowTable{
			Default:   cfg.GitHub.WorkflowID,
			Overrides: cfg.GitHub.Workflows,
		},
		Logger: logger,
	})
	resolver := catalog.NewResolver(catalog.NewClient(cfg.Catalog.URL, nil), cfg.Catalog.CacheTTL, logger)
	limiter := ratelimit.New(repo, cfg.DailyDispatchLimit, cfg.RateLimitLocation)

	eng := engine.New(engine.Deps{
		Sessions:   sessions,
		Uploader:   uploader,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Limiter:    limiter,
		History:    repo,
		Logs:       ring,
		Metrics:    m,
		Logger:     logger,
	}, engine.Config{
		ArtifactDir: cfg.ArtifactDir,
		OwnerID:     cfg.OwnerID,
	})

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	serializer := engine.NewSerializer(engineCtx, eng, logger)

	// Initialize handlers.
	registry := gateway.NewRegistry()
	gatewayHandler := gateway.NewHandler(serializer, repo, registry, cfg.AllowedOrigin, logger)
	apiHandler := api.NewHandler(repo, sessions, registry.Len)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// Public routes.
	r.Get("/healthz", apiHandler.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Bridge and admin routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))
		r.Use(middleware.BearerAuth(cfg.GatewayToken))
		r.Use(identity.Middleware())

		apiHandler.RegisterRoutes(r)
		r.Get("/gateway/ws", gatewayHandler.ServeHTTP)
		r.Post("/gateway/events", gatewayHandler.Events)
	})

	// Create server.
	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Minute, // artifacts arrive inline on /gateway/events
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start TTL worker.
	worker.New(repo, eng, worker.Config{
		SessionIdleTTL:   cfg.SessionIdleTTL,
		HistoryRetention: cfg.HistoryRetention,
	}, func(userID string) {
		if !gatewayHandler.Notify(userID, engine.ExpiredReply()) {
			slog.Info("Idle session owner has no connected bridge", "user_id", userID)
		}
	}, logger).Start(ctx)

	// Start gRPC health service (optional).
	var healthServer *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthServer = health.NewServer(repo.Ping, logger)
		go healthServer.Watch(ctx, health.DefaultInterval)
		go func() {
			if err := healthServer.ListenAndServe(cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	registry.CloseAll()
	drain(serializer, cancelEngine)
	if healthServer != nil {
		healthServer.Shutdown()
	}

	slog.Info("Server stopped successfully")
}

// drain waits for queued events to finish, cancelling them after drainTimeout.
func drain(serializer *engine.Serializer, cancelEngine context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		serializer.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("Queued events did not finish in time, cancelling", "pending_users", serializer.Pending())
		cancelEngine()
		<-done
	}
}

// probe returns the process exit code for --healthcheck.
func probe(addr string) int {
	if addr == "" {
		fmt.Fprintln(os.Stderr, "GRPC_HEALTH_ADDR is not set")
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := health.Probe(ctx, addr, health.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
