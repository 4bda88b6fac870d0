package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/ucb-deployer/internal/config"
)

var errConfigExists = errors.New("configuration file already exists")

// initPath is where `init` writes the settings template.
var initPath string

// initCmd writes a settings file with every default spelled out.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default settings.",
	Long: `Writes the default settings to --output so they can be edited.
The secret is left empty; set it in the file or through UCB_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(initPath); err == nil {
			return fmt.Errorf("%w: %s", errConfigExists, initPath)
		}

		if err := config.Save(initPath, config.Default()); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Wrote", initPath)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initCmd.Flags().StringVarP(&initPath, "output", "o", config.DefaultConfigFilename, "where to write the settings")
}
