package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/oshokin/ucb-deployer/internal/config"
	"github.com/oshokin/ucb-deployer/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	httpStopTimeout   = 10 * time.Second
)

// Options controls the deployer process.
type Options struct {
	// ConfigPath is the settings YAML; the default file is used when it exists.
	ConfigPath string
	// ListenAddress overrides the configured webhook address.
	ListenAddress string
	// DrainTimeout bounds waiting for in-flight builds at shutdown; zero waits forever.
	DrainTimeout time.Duration
}

// Run loads the configuration, serves until ctx is cancelled and then drains
// the pipeline before returning.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ucb-deployer")

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise deployer: %w", err)
	}

	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.WarnKV(ctx, "Shutdown cleanup failed", "error", cerr)
		}
	}()

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}

	httpServer := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 2)

	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve webhook: %w", err)
		}
	}()

	if app.health != nil {
		healthLis, err := lc.Listen(ctx, "tcp", cfg.HealthListen)
		if err != nil {
			_ = httpServer.Close()

			return fmt.Errorf("listen on %s: %w", cfg.HealthListen, err)
		}

		go func() {
			if err := app.health.Serve(healthLis); err != nil {
				serveErr <- fmt.Errorf("serve health: %w", err)
			}
		}()

		logger.InfoKV(ctx, "Health endpoint listening", "listen_address", cfg.HealthListen)
	}

	logger.InfoKV(ctx, "Webhook listening",
		"listen_address", lis.Addr().String(),
		"path", cfg.WebhookPath,
		"workers", cfg.MaxWorkers,
		"output", cfg.Paths.Output)

	var runErr error

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Shutdown requested")
	case runErr = <-serveErr:
		logger.ErrorKV(ctx, "Server failed", "error", runErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpStopTimeout)
	defer cancel()

	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.WarnKV(ctx, "Webhook shutdown failed", "error", err)
	}

	logger.Info(ctx, "Waiting for running ingestions")

	drainCtx := context.WithoutCancel(ctx)

	if opts.DrainTimeout > 0 {
		var drainCancel context.CancelFunc

		drainCtx, drainCancel = context.WithTimeout(drainCtx, opts.DrainTimeout)
		defer drainCancel()
	}

	if err := app.Drain(drainCtx); err != nil {
		logger.WarnKV(ctx, "Ingestions did not finish", "error", err)
	}

	logger.Info(ctx, "Deployer stopped")

	return runErr
}

// loadConfig resolves the settings file and applies the listen override.
func loadConfig(opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigFilename); err == nil {
			path = config.DefaultConfigFilename
		}
	}

	env := config.EnvProvider(config.OSEnv{})
	if opts.ListenAddress != "" {
		env = overrideEnv{base: env, key: config.EnvListen, value: opts.ListenAddress}
	}

	return config.Load(path, env)
}

// overrideEnv lets a command-line flag win over the environment.
type overrideEnv struct {
	base  config.EnvProvider
	key   string
	value string
}

func (o overrideEnv) LookupEnv(key string) (string, bool) {
	if key == o.key {
		return o.value, true
	}

	return o.base.LookupEnv(key)
}
