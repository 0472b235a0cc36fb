package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ja7ad/vmenergy/pkg/config"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "vmenergy",
		Short: "Attribute host energy to tenants and predict tenant workload",
		Long: `vmenergy splits the measured or modelled power of a host across the
virtual machines, applications and other consumers running on it, and
predicts the CPU utilisation a tenant set will cause from recorded history.

Examples:
  vmenergy attribute --rule load --idle snapshot.yaml
  vmenergy predict --db history.db planned.yaml
  vmenergy serve --config /etc/vmenergy/vmenergy.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "vmenergy.yaml", "configuration file (missing file means defaults)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(newAttributeCmd(a), newPredictCmd(a), newServeCmd(a))
	return root
}

// load reads the configuration; flags override file and environment.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.LevelStr = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	cfg.Logging.SetDefaultLogger()
	a.cfg = cfg
	return nil
}
