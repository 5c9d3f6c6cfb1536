package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/config"
)

// cfg is loaded once per invocation before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadsource",
	Short: "Scheduled lead sourcing and routing",
	Long: "Aggregates user targeting preferences, pulls matching contacts from the audience provider, " +
		"ingests them as workspace leads and routes them to interested users.",
	SilenceUsage:      true,
	PersistentPreRunE: setupCommand,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
}

// setupCommand loads config and installs the global logger.
func setupCommand(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "leadsource: load config")
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		c.Log.Level = lvl
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "leadsource: init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
