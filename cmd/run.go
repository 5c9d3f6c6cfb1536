package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-sourcing/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one sourcing run in-process and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, runErr := env.Engine.Run(ctx, model.TriggerManual)
		if summary != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return eris.Wrap(err, "encode summary")
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
