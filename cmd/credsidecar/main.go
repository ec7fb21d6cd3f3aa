package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/credsidecar/internal/adapter/driven/identity"
	"github.com/ericfisherdev/credsidecar/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/credsidecar/internal/adapter/driven/postgres"
	sqliteadapter "github.com/ericfisherdev/credsidecar/internal/adapter/driven/sqlite"
	vaultadapter "github.com/ericfisherdev/credsidecar/internal/adapter/driven/vault"
	httphandler "github.com/ericfisherdev/credsidecar/internal/adapter/driving/http"
	"github.com/ericfisherdev/credsidecar/internal/application"
	"github.com/ericfisherdev/credsidecar/internal/config"
	"github.com/ericfisherdev/credsidecar/internal/domain/model"
	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// leaseHistoryRetention bounds how long lease metadata is kept.
const leaseHistoryRetention = 7 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing VAULT_URL).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Structured JSON logging at the configured level.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"vault_url", cfg.VaultURL,
		"auth_role", cfg.AuthRole,
		"db_role", cfg.DBRole,
		"check_interval", cfg.CheckInterval,
		"pg_host", cfg.PGHost,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	// 3. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Read the workload identity once. Failure here is fatal.
	identitySrc := identity.NewFileSource(cfg.TokenPath)

	vaultClient, err := vaultadapter.NewClient(vaultadapter.ClientConfig{
		Address:      cfg.VaultURL,
		Timeout:      cfg.VaultTimeout,
		AuthMount:    cfg.AuthMount,
		SecretsMount: cfg.SecretsMount,
		Clock:        clock.RealClock{},
	})
	if err != nil {
		return err
	}

	supervisor, err := application.NewSupervisor(identitySrc, vaultClient, application.SupervisorOptions{
		AuthRole: cfg.AuthRole,
		DBRole:   cfg.DBRole,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	slog.Info("identity token loaded", "path", identitySrc.Path())

	// 5. Optional lease history (dual reader/writer SQLite with WAL mode).
	var leaseStore driven.LeaseStore
	if cfg.HasLeaseHistory() {
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()

		version, err := sqliteadapter.RunMigrations(db.Writer)
		if err != nil {
			return err
		}
		slog.Info("lease history opened", "path", db.Path(), "schema_version", version)

		repo := sqliteadapter.NewLeaseRepo(db)
		removed, err := repo.Prune(ctx, time.Now().Add(-leaseHistoryRetention))
		if err != nil {
			slog.Error("lease history prune failed", "error", err)
		} else if removed > 0 {
			slog.Info("lease history pruned", "removed", removed)
		}
		leaseStore = repo
	}

	// 6. Metrics registry with process and Go runtime collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	// 7. Create and start the driver loop.
	target := model.DatabaseTarget{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		Database: cfg.PGDatabase,
		SSLMode:  cfg.PGSSLMode,
	}
	driverSvc := application.NewDriverService(
		supervisor,
		postgres.NewChecker(postgres.DefaultConnectTimeout),
		target,
		cfg.CheckInterval,
		application.DriverOptions{
			Store:    leaseStore,
			Recorder: recorder,
			Logger:   logger,
		},
	)

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		driverSvc.Start(ctx)
	}()

	// 8. Optional status server.
	var srv *http.Server
	if cfg.HasStatusServer() {
		statusSvc := application.NewStatusService(supervisor, driverSvc, leaseStore, nil)
		apiHandler := httphandler.NewHandler(statusSvc, driverSvc, logger)
		metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

		srv = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httphandler.NewServeMux(apiHandler, metricsHandler, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			slog.Info("http server starting", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	slog.Info("credsidecar started",
		"vault_url", cfg.VaultURL,
		"check_interval", cfg.CheckInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}

	select {
	case <-driverDone:
	case <-shutdownCtx.Done():
		slog.Warn("driver loop did not stop before shutdown deadline")
	}

	// 11. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}
