package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/workflow"
)

var workerNoSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for durable sourcing runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := workflow.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		if !workerNoSchedule {
			starter := workflow.NewStarter(c, cfg.Temporal.TaskQueue, workflowInput())
			if err := starter.EnsureSchedule(ctx, cfg.Engine.Schedule); err != nil {
				return err
			}
		}

		w := workflow.NewWorker(c, cfg.Temporal.TaskQueue, workflow.NewActivities(env.Steps, env.History))
		zap.L().Info("starting temporal worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerNoSchedule, "no-schedule", false, "do not create the cron schedule")
	rootCmd.AddCommand(workerCmd)
}
