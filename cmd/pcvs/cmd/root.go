package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pcvs",
		Short:         "pcvs schedules and runs parameterized validation suites.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(
		runCmd(),
		remoteRunCmd(),
	)

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
