package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/service/server"
	"github.com/oshokin/ucb-deployer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// listenAddress overrides the configured webhook address.
	listenAddress string
	// drainTimeout bounds waiting for running builds at shutdown.
	drainTimeout time.Duration

	// rootCmd runs the webhook and the deployment pipeline.
	rootCmd = &cobra.Command{
		Use:   "ucb-deployer",
		Short: "Deploy Unity Cloud Build artifacts received over a webhook.",
		Long: `Listens for Unity Cloud Build success webhooks, downloads the primary artifact,
archives the build currently installed for the same project and target, and
installs the new one together with the project's accompaniment resources.

Settings come from the YAML file given with --config (or ucb-deployer.yaml
when present) and are overridden by UCB_TOKEN, MAX_WORKERS, APP_DEBUG,
DOCKER and UCB_LISTEN. On SIGINT or SIGTERM the webhook stops accepting
builds and the process waits for the ones already running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			logger.InfoKV(ctx, "Starting", "version", version.Full())

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				DrainTimeout:  drainTimeout,
			})
		},
	}
)

// Execute runs the ucb-deployer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf(context.Background(), "%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "webhook listen address, overrides config and UCB_LISTEN")
	rootCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 0, "maximum wait for running builds at shutdown (0 waits forever)")
}
