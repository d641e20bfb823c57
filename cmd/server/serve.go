package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rocket-guard/internal/admin"
	"rocket-guard/internal/auth"
	"rocket-guard/internal/authz"
	"rocket-guard/internal/config"
	"rocket-guard/internal/engine"
	"rocket-guard/internal/logging"
	"rocket-guard/internal/metrics"
	"rocket-guard/internal/pubsub"
	"rocket-guard/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// 2. Connect to database and bootstrap system tables
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		return err
	}

	// 3. Load entities and access rules
	defs, err := loadDefinitions(ctx, cfg, db, true)
	if err != nil {
		return err
	}

	// 4. Register rules; any configuration error aborts startup
	m := metrics.New(nil)
	azCfg := authzConfig(cfg)
	azCfg.Logger = &logger
	azCfg.Recorder = m
	az, err := authz.New(azCfg, defs.registry)
	if err != nil {
		return err
	}
	rules, err := authz.DecodeRules(defs.rules)
	if err != nil {
		return err
	}
	if err := az.RegisterRules(rules); err != nil {
		return err
	}

	// 5. Change event broker
	var broker *pubsub.Broker
	if cfg.PubSub.Enabled {
		broker = pubsub.New(pubsub.Config{BufferSize: cfg.PubSub.BufferSize}, logger)
		defer broker.Close()
	}

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(engine.RequestMetrics(m))
	engine.RegisterSystemRoutes(app, m)

	// 7. Identity resolution for everything below
	app.Use(auth.Middleware(auth.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		AdminSecretHash: cfg.Auth.AdminSecretHash,
		AdminHeader:     cfg.Auth.AdminHeader,
	}))

	// 8. Admin routes (admin secret required)
	adminHandler := admin.NewHandler(db, store.NewMigrator(db), authzConfig(cfg), logger)
	admin.RegisterAdminRoutes(app, adminHandler, auth.RequireAdmin())

	// 9. Dynamic entity routes
	h := engine.NewHandler(db, defs.registry, az, engine.HandlerOptions{
		Broker:  broker,
		Metrics: m,
		Logger:  logger,
	})
	engine.RegisterDynamicRoutes(app, h)

	// 10. Start server and wait for a signal
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting server")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx, app, logger)
}

func shutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) error {
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
		return err
	}
	return nil
}
