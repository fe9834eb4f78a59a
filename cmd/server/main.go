// Voice Assistant Server
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

	"github.com/ashureev/voice-assistant/internal/api"
	"github.com/ashureev/voice-assistant/internal/assistant"
	"github.com/ashureev/voice-assistant/internal/auth"
	"github.com/ashureev/voice-assistant/internal/config"
	"github.com/ashureev/voice-assistant/internal/events"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/middleware"
	"github.com/ashureev/voice-assistant/internal/observability/logging"
	"github.com/ashureev/voice-assistant/internal/observability/metrics"
	"github.com/ashureev/voice-assistant/internal/rpc"
	"github.com/ashureev/voice-assistant/internal/session"
	"github.com/ashureev/voice-assistant/internal/store"
	"github.com/ashureev/voice-assistant/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Generative.Provider)

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gen, err := intent.NewGenerator(cfg.Generative, logger)
	if err != nil {
		slog.Error("Failed to initialize generative provider", "error", err)
		os.Exit(1)
	}
	loc := cfg.Location()
	resolver := intent.NewResolver(gen,
		intent.WithTimeout(cfg.Generative.Timeout),
		intent.WithClock(func() time.Time { return time.Now().In(loc) }),
		intent.WithLogger(logger),
		intent.WithRecorder(m),
	)

	publisher := events.New(events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	}, m, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			slog.Error("Failed to close publisher", "error", closeErr)
		}
	}()

	// Initialize services.
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	svc := assistant.NewService(repo, resolver, publisher, logger)
	defer svc.Close()
	limiter := assistant.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()
	sm := session.NewManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	if publisher.Enabled() {
		healthHandler.AddCheck("kafka", publisher.Ping)
	}
	authHandler := auth.NewHandler(repo, tokens, cfg.IsDevelopment(), logger)
	authHandler.OnLogout(sm.CloseSession)
	userHandler := api.NewUserHandler(repo, cfg.UploadDir, cfg.MaxRequestBodySize, sm.UpdateProfile)
	askHandler := assistant.NewHandler(svc, limiter, cfg.MaxRequestBodySize, logger)
	wsHandler := session.NewHandler(repo, svc, sm, m, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	wsHandler.SetLimiter(limiter)

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))
	r.Use(m.Middleware)

	// Public routes.
	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())
	r.Handle(api.UploadsPath+"*", api.UploadsHandler(cfg.UploadDir))

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(tokens))
		userHandler.RegisterRoutes(r)
		askHandler.RegisterRoutes(r)
		r.Get("/ws/assistant", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket sessions outlive any write deadline.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var grpcServer interface{ GracefulStop() }
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		gs := rpc.NewGRPCServer(rpc.NewServer(resolver, logger), logger)
		grpcServer = gs
		go func() {
			slog.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := gs.Serve(lis); err != nil {
				slog.Error("gRPC server failed", "error", err)
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

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
