// Dearie - fan companion app server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/dearie-app/dearie/internal/api"
	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/config"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/health"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/live"
	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/middleware"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
	"github.com/dearie-app/dearie/web"
)

const healthCheckInterval = 15 * time.Second

// disconnector drops both live transports of a device.
type disconnector struct {
	sockets *live.ConnManager
	streams *events.Broker
}

func (d disconnector) CloseUser(userID string) {
	d.sockets.CloseUser(userID)
	d.streams.DropUser(userID)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	changes := store.NewHub()

	catalog, err := chatbot.NewFileSource(cfg.ContentPath, m, logger)
	if err != nil {
		slog.Error("Failed to load chat catalog", "error", err)
		os.Exit(1)
	}
	if err := catalog.Watch(ctx); err != nil {
		slog.Warn("Chat catalog hot reload disabled", "error", err)
	}

	conversationLogger, err := chatbot.NewConversationLogger(chatbot.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	clock := schedule.RealClock{}
	registry := live.NewRegistry(clock, m)

	broker := events.NewBroker(events.Config{
		Keepalive:  cfg.SSE.Keepalive,
		RetryDelay: cfg.SSE.RetryDelay,
		OnActive:   func(userID, sessionID string) { registry.Touch(userID, sessionID) },
	}, m, logger)
	defer broker.Close()

	live.StartJanitor(ctx, registry, cfg.LiveIdleTTL, broker)

	sockets := live.NewConnManager()
	wsHandler := live.NewWebSocketHandler(changes, sockets, m, cfg.FrontendURL, cfg.IsDevelopment())

	// Initialize handlers.
	baseHandler := api.NewHandler(api.Deps{
		Repo:     repo,
		Changes:  changes,
		Catalog:  catalog,
		Events:   broker,
		Registry: registry,
		Sockets:  disconnector{sockets: sockets, streams: broker},
		Clock:    clock,
		Config:   cfg,
		Sink:     conversationLogger,
		Metrics:  m,
		Logger:   logger,
		AppCtx:   ctx,
	})
	healthHandler := api.NewHealthHandler(repo, cfg.Timeout.HealthCheck)

	// gRPC health for orchestrators.
	grpcHealth := health.New(repo, cfg.Timeout.HealthCheck, logger)
	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
		os.Exit(1)
	}
	grpcHealth.Watch(ctx, healthCheckInterval)
	go func() {
		if err := grpcHealth.Serve(lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.Instrument(m))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())

	// Device routes.
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, m)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		// Streams are long-lived and not rate limited.
		r.Get("/api/events", broker.ServeHTTP)
		r.Get("/ws/live", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			baseHandler.RegisterRoutes(r)
		})
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
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

	grpcHealth.Stop()
	broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
