package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/middleware"
	apperrors "github.com/stagewatch/stagewatch/internal/pkg/errors"
	"github.com/stagewatch/stagewatch/internal/pkg/logger"
)

const appVersion = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger before anything that logs through the shared
	// logger package
	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Log
	defer logger.Sync()

	// Initialize Sentry if configured
	sentryEnabled := cfg.Sentry.DSN != ""
	if sentryEnabled {
		sentryConfig := middleware.DefaultSentryConfig()
		sentryConfig.DSN = cfg.Sentry.DSN
		sentryConfig.Release = "stagewatch@" + appVersion
		sentryConfig.TracesSampleRate = cfg.Sentry.TracesSampleRate
		sentryConfig.Environment = cfg.Sentry.Environment
		if sentryConfig.Environment == "" {
			sentryConfig.Environment = cfg.Server.Env
		}

		if err := middleware.InitSentry(sentryConfig); err != nil {
			log.Error("failed to initialize Sentry", zap.Error(err))
			sentryEnabled = false
		} else {
			log.Info("Sentry initialized",
				zap.String("environment", sentryConfig.Environment),
				zap.String("release", sentryConfig.Release),
			)
			defer middleware.FlushSentry(5 * time.Second)
		}
	}

	// Background context for the service loops; cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize dependencies
	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	// Start the service loops. The archive sink starts first so the
	// engines always have somewhere to drain outcomes.
	deps.Services.Archive.Start()
	if err := deps.Services.Runs.Start(ctx); err != nil {
		log.Fatal("failed to start run engines", zap.Error(err))
	}
	deps.Services.Realtime.Start(ctx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               "StageWatch API",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler:          errorHandler(log, sentryEnabled),
	})

	// Apply global middleware
	app.Use(middleware.RequestID())

	loggerMiddleware := middleware.NewLoggerMiddleware(middleware.DefaultLoggerConfig(log))
	app.Use(loggerMiddleware.Handler())

	// Use Sentry-aware recovery middleware
	app.Use(middleware.RecoverWithSentry(log, sentryEnabled))

	// Add Sentry context middleware if enabled
	if sentryEnabled {
		app.Use(middleware.SentryMiddleware(true))
	}

	corsConfig := middleware.DefaultCORSConfig()
	if cfg.Server.CORSOrigins != "" {
		corsConfig = middleware.ProductionCORSConfig(splitOrigins(cfg.Server.CORSOrigins))
	}
	corsMiddleware := middleware.NewCORSMiddleware(corsConfig)
	app.Use(corsMiddleware.Handler())

	// Metrics middleware
	metricsMiddleware := middleware.NewMetricsMiddleware(middleware.DefaultMetricsConfig())
	app.Use(metricsMiddleware.Handler())

	// Register routes
	registerRoutes(app, deps)

	// Start server
	go func() {
		addr := cfg.Server.Addr()
		log.Info("starting server",
			zap.String("addr", addr),
			zap.String("version", appVersion),
		)
		if err := app.Listen(addr); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	// Stop the loops in dependency order: realtime publishing first,
	// then the engines, then the archive flusher that drains what the
	// engines emitted on the way down.
	cancel()
	deps.Services.Runs.Shutdown()
	deps.Services.Archive.Close()

	log.Info("server stopped")
}

// errorHandler creates a custom error handler
func errorHandler(log *zap.Logger, sentryEnabled bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// Default to 500 Internal Server Error
		status := fiber.StatusInternalServerError
		code := apperrors.CodeInternal
		message := "Internal Server Error"

		if appErr := apperrors.GetAppError(err); appErr != nil {
			status = appErr.StatusCode
			code = appErr.Code
			message = appErr.Message
		} else if e, ok := err.(*fiber.Error); ok {
			status = e.Code
			message = e.Message
		}

		log.Error("request error",
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("error", err.Error()),
			zap.String("path", c.Path()),
			zap.String("method", c.Method()),
		)

		// Report to Sentry for 5xx errors
		if sentryEnabled && status >= 500 {
			middleware.CaptureError(c, err)
		}

		// Return JSON error response
		return c.Status(status).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    code,
				"message": message,
			},
		})
	}
}

// splitOrigins splits a comma-separated origin list from config
func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
