package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pcvs-project/pcvs/internal/runner"
)

// remoteRunCmd is invoked by the job-manager wrapper inside an allocation:
// it executes the jobs serialized into a remote context directory and
// streams results back through it.
func remoteRunCmd() *cobra.Command {
	var contextDir string
	var parallel int

	cmd := &cobra.Command{
		Use:   "remote-run",
		Short: "Execute the jobs handed over through a remote context directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runner.RunRemoteContext(ctx, contextDir, parallel)
		},
	}

	cmd.Flags().StringVarP(&contextDir, "context", "c", "", "remote context directory")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "number of parallel workers")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}
