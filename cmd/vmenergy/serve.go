package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ja7ad/vmenergy/pkg/history"
	"github.com/ja7ad/vmenergy/pkg/monitoring"
	"github.com/ja7ad/vmenergy/pkg/system/proc"
	"github.com/ja7ad/vmenergy/pkg/workload"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sample this host, record history and export attribution metrics",
		Long: `serve samples the host and the configured applications from procfs every
interval, records the samples in the history database, splits the
modelled host power across the applications and keeps a workload
prediction for them current. Metrics are served on /metrics and the
predictor rule table is reloaded when it changes on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Serve.Listen = listen
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "metrics listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := a.cfg

	host := cfg.Host
	if host.Name == "" {
		name, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("serve: host name: %w", err)
		}
		host.Name = name
	}

	registry := monitoring.NewRegistry(cfg.Monitoring)
	db, err := history.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := history.NewStore(db, history.NewMonitor(registry))
	if err != nil {
		return err
	}
	if store.Location, err = cfg.Workload.Location(); err != nil {
		return err
	}

	sampler, err := proc.NewSampler(proc.FS{Root: cfg.Serve.ProcRoot}, &host, cfg.Serve.Alpha)
	if err != nil {
		return err
	}
	sampler.IncludeChildren = cfg.Serve.IncludeChildren

	rules, err := workload.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	d, err := newDaemon(cfg, &host, store, sampler, registry, rules)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sampleLoop(ctx) })
	g.Go(func() error { return d.watchRules(ctx) })
	g.Go(func() error { return d.serveMetrics(ctx) })
	return g.Wait()
}
