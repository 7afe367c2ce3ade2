package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/middleware"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Databases    *Databases
	Repositories *Repositories
	Services     *Services
	Handlers     *Handlers

	// Middleware
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
}

// initDependencies initializes all dependencies
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	dbs, err := initDatabases(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repos := initRepositories(dbs)
	svcs := initServices(cfg, logger, repos, dbs)
	handlers := initHandlers(cfg, logger, svcs, repos, dbs, appVersion)

	return &Dependencies{
		Config:              cfg,
		Logger:              logger,
		Databases:           dbs,
		Repositories:        repos,
		Services:            svcs,
		Handlers:            handlers,
		AuthMiddleware:      middleware.NewAuthMiddleware(svcs.Auth),
		RateLimitMiddleware: middleware.NewRateLimitMiddleware(dbs.Redis.Client),
	}, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() {
	d.Databases.Close()
}
