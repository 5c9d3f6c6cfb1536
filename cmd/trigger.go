package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/events"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/workflow"
)

var (
	triggerVia string
	triggerBy  string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Request an on-demand sourcing run",
	Long: "Publishes leads.segment_pull.requested over AMQP (--via amqp, default) " +
		"or starts the Temporal workflow directly (--via temporal).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("trigger"); err != nil {
			return err
		}

		switch triggerVia {
		case "amqp":
			if cfg.AMQP.URL == "" {
				return eris.New("trigger: amqp.url is required (LEADSOURCE_AMQP_URL)")
			}
			conn, err := events.Dial(cfg.AMQP.URL)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck

			if err := events.DeclareTopology(conn.Channel(), cfg.AMQP.Exchange, ""); err != nil {
				return err
			}
			pub := events.NewPublisher(conn.Channel(), cfg.AMQP.Exchange)
			if err := pub.PublishRequested(ctx, events.RunRequest{RequestedBy: triggerBy, RequestedAt: time.Now().UTC()}); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "run requested")
			return nil

		case "temporal":
			c, err := workflow.Dial(cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()

			err = workflow.NewStarter(c, cfg.Temporal.TaskQueue, workflowInput()).Start(ctx, model.TriggerManual)
			if errors.Is(err, engine.ErrRunInProgress) {
				fmt.Fprintln(os.Stderr, "a run is already in progress")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "run started")
			return nil

		default:
			return eris.Errorf("trigger: unknown --via %q (amqp, temporal)", triggerVia)
		}
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerVia, "via", "amqp", "trigger transport: amqp or temporal")
	triggerCmd.Flags().StringVar(&triggerBy, "by", os.Getenv("USER"), "requester recorded on the event")
	rootCmd.AddCommand(triggerCmd)
}
