package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/oshokin/ucb-deployer/internal/api/grpc/health"
	"github.com/oshokin/ucb-deployer/internal/api/webhook"
	"github.com/oshokin/ucb-deployer/internal/config"
	"github.com/oshokin/ucb-deployer/internal/domain/build"
	"github.com/oshokin/ucb-deployer/internal/lock"
	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/metrics"
	"github.com/oshokin/ucb-deployer/internal/notify"
	"github.com/oshokin/ucb-deployer/internal/repository/journal"
	"github.com/oshokin/ucb-deployer/internal/service/deploy"
	"github.com/oshokin/ucb-deployer/internal/service/fetcher"
	"github.com/oshokin/ucb-deployer/internal/service/ingest"
	"github.com/oshokin/ucb-deployer/internal/signature"
)

// App is an assembled deployer with every collaborator built but nothing
// listening yet.
type App struct {
	// cfg is the validated configuration.
	cfg *config.Config
	// lock guards the output root; nil when disabled.
	lock *lock.PIDFile
	// journal records runs; nil when disabled.
	journal *journal.SQLiteRepository
	// coordinator owns the worker pool.
	coordinator *ingest.Coordinator
	// router is the webhook HTTP handler.
	router http.Handler
	// health is the gRPC health server; nil when disabled.
	health *health.Server
}

// NewApp builds the application from cfg. ctx supplies the logger.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	verifier, err := signature.NewVerifier(cfg.Secret)
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg}

	if cfg.LockFile != "" {
		if app.lock, err = lock.Acquire(cfg.LockFile); err != nil {
			return nil, err
		}
	}

	var repo journal.Repository

	if cfg.Paths.Journal != "" {
		if app.journal, err = journal.Open(ctx, cfg.Paths.Journal); err != nil {
			_ = app.Close()

			return nil, fmt.Errorf("open journal: %w", err)
		}

		repo = app.journal
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	capability := notify.Detect(cfg.Notifications.Enabled)
	logger.InfoKV(ctx, "Desktop notifications", "available", capability.Available)

	// One stamper for staging, incoming and archive names keeps them distinct.
	stamper := build.NewStamper(nil)

	app.coordinator = ingest.New(ctx, ingest.Options{
		Fetcher: fetcher.New(fetcher.Options{
			Root:      cfg.Paths.Staging,
			Timeout:   cfg.Download.Timeout,
			ChunkSize: cfg.Download.ChunkSize,
			Stamper:   stamper,
		}),
		Installer: deploy.New(deploy.Options{
			OutputRoot:        cfg.Paths.Output,
			ArchiveRoot:       cfg.Paths.Archives,
			AccompanimentRoot: cfg.Paths.Accompaniment,
			Stamper:           stamper,
		}),
		Notifier:             notify.New(capability),
		Journal:              repo,
		Metrics:              m,
		MaxWorkers:           cfg.MaxWorkers,
		QueueSize:            cfg.QueueSize,
		KeepStagingOnSuccess: cfg.Staging.KeepOnSuccess,
	})

	app.router = webhook.NewRouter(ctx, webhook.Options{
		Path:        cfg.WebhookPath,
		MaxBodySize: cfg.MaxBodySize,
		Verifier:    verifier,
		Dispatcher:  app.coordinator,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
	})

	if cfg.HealthListen != "" {
		app.health = health.NewServer()
	}

	return app, nil
}

// Handler returns the webhook router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Drain stops accepting builds and waits for queued and running ones.
func (a *App) Drain(ctx context.Context) error {
	if a.health != nil {
		a.health.SetServing(false)
	}

	return a.coordinator.Shutdown(ctx)
}

// Close releases the journal, the health server and the instance lock.
func (a *App) Close() error {
	var errs []error

	if a.health != nil {
		a.health.Stop()
	}

	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}

	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}

	return errors.Join(errs...)
}
