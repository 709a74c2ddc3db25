package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pcvs-project/pcvs/internal/common"
	"github.com/pcvs-project/pcvs/internal/orchestrator"
	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/pcvs/descriptor"
	"github.com/pcvs-project/pcvs/internal/results"
)

func runCmd() *cobra.Command {
	var configFile string
	var jobsFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule and execute the job list against the configured machine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg configuration.Config
			if err := common.LoadConfig(&cfg, ".", configFile); err != nil {
				return err
			}
			cfg.Defaulted()

			entries, err := descriptor.Load(jobsFile)
			if err != nil {
				return err
			}

			if cfg.MetricsPort > 0 {
				shutdown := common.ServeMetrics(cfg.MetricsPort)
				defer shutdown()
			}

			publisher, err := results.NewFileManager(filepath.Join(cfg.OutputDir, "results"))
			if err != nil {
				return err
			}

			orch := orchestrator.New(&cfg, cfg.OutputDir, publisher)
			for _, entry := range entries {
				orch.AddJob(descriptor.Build(entry, &cfg))
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := orch.Run(ctx); err != nil {
				log.WithError(err).Error("run failed")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "", "path to the run profile")
	cmd.Flags().StringVarP(&jobsFile, "jobs", "j", "jobs.yaml", "path to the expanded job list")
	return cmd
}
