package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echo-civic-assistant/backend/internal/telegram"
	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/di"
	"echo-civic-assistant/backend/pkg/health"
	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/router"
	"echo-civic-assistant/backend/pkg/secrets"
	"echo-civic-assistant/backend/shared/observability"
)

func main() {
	// Load .env and the environment
	cfg := config.Load()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)
	defer func() { _ = log.Sync() }()

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credentials may live in Vault
	secretManager, err := secrets.FromConfig(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	secrets.Resolve(ctx, secretManager, cfg)

	if cfg.Observability.EnableTracing {
		shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, nil)
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	meterProvider, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName)
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	// Initialize dependency injection container
	container, err := di.New(ctx, cfg, log, di.Options{MeterProvider: meterProvider})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	container.Checker.Start(ctx)
	go container.Hub.Run(ctx)
	go container.RateLimiter.Run(ctx)

	// Initialize and setup router
	r := router.New(container)
	if schemaPath := cfg.Observability.OpenAPISchema; schemaPath != "" {
		r.AddOpenAPIValidation(schemaPath)
	}
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	// gRPC health endpoint for orchestrators
	grpcServer := health.NewGRPCServer(container.Checker, cfg.Observability.ServiceName)
	if lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort); err != nil {
		log.LogError(err, "Failed to listen for gRPC health", "port", cfg.Server.GRPCPort)
	} else {
		go func() {
			log.Info("gRPC health server starting", "port", cfg.Server.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil {
				log.LogError(err, "gRPC health server stopped")
			}
		}()
	}

	if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Options{
			Token:      cfg.Telegram.Token,
			Sessions:   container.Sessions,
			Speech:     container.Speech,
			AppBaseURL: cfg.Assistant.AppBaseURL,
		}, log.With("frontend", "telegram"))
		if err != nil {
			log.LogError(err, "Failed to start Telegram front-end")
		} else {
			go bot.Start(ctx)
		}
	}

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	grpcServer.GracefulStop()

	// Flush every session's history before the backends close
	if err := container.Close(); err != nil {
		log.LogError(err, "Failed to close backends")
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to stop metrics")
	}

	log.Info("Server exited gracefully")
}
