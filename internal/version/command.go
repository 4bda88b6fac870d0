package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand registers `ucb-deployer version` on root.
// With --short only the release number is printed, for scripts that compare
// the deployed binary against a tag.
func AttachCobraVersionCommand(root *cobra.Command) {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the deployer release and build metadata.",
		Long: `Prints the ucb-deployer release, the commit it was built from, the build
timestamp and the Go toolchain and platform. Release, commit and timestamp
are set through -ldflags at build time; local builds show placeholders.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := Full()
			if short {
				out = Short()
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the release number")
	root.AddCommand(cmd)
}
