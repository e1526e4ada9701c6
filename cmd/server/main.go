// Command server runs the users API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/errfilter"
	httpapi "github.com/tbourn/go-users-backend/internal/http"
	"github.com/tbourn/go-users-backend/internal/http/middleware"
	"github.com/tbourn/go-users-backend/internal/jobs"
	"github.com/tbourn/go-users-backend/internal/observability"
	"github.com/tbourn/go-users-backend/internal/repo"
	"github.com/tbourn/go-users-backend/internal/secrets"
	"github.com/tbourn/go-users-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

// run boots the server and blocks until it stops. Deferred cleanups run
// before the error reaches main.
func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, nil)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if cfg.Auth.SecretID != "" || cfg.Auth.RefreshSecretID != "" {
		loader, err := secrets.NewLoader(ctx, cfg.Auth.AWSRegion, logger)
		if err != nil {
			return fmt.Errorf("secrets manager client: %w", err)
		}
		if err := loader.ResolveAuth(ctx, &cfg.Auth); err != nil {
			return fmt.Errorf("resolve signing secrets: %w", err)
		}
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := observability.InstrumentDB(db, cfg.DB.Database); err != nil {
			return fmt.Errorf("instrument database: %w", err)
		}
	}

	chain := errfilter.New(errfilter.PolicyFor(cfg.Env), logger, errfilter.WithObserver(middleware.RecordError))

	if cfg.Seed.Enabled {
		runner := jobs.NewRunner(chain, logger)
		seed := jobs.SeedAdmin(httpapi.NewUserService(db, cfg.Auth), cfg.Seed, logger)
		if err := runner.Run(ctx, "seed-admin", seed); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, chain, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("version", ver).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
			_ = srv.Close()
		}
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
