package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ja7ad/vmenergy/pkg/config"
	"github.com/ja7ad/vmenergy/pkg/consumption"
	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/history"
	"github.com/ja7ad/vmenergy/pkg/monitoring"
	"github.com/ja7ad/vmenergy/pkg/system/proc"
	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/ja7ad/vmenergy/pkg/workload"
)

const pruneEvery = time.Hour

// daemon samples the local host, records history, attributes power to the
// sampled applications and keeps a prediction for the tenant set current.
type daemon struct {
	cfg      *config.Config
	host     *types.Host
	apps     []*types.ApplicationOnHost
	users    []types.EnergyUsageSource
	sampler  *proc.Sampler
	store    *history.Store
	cache    *workload.StatisticsCache
	model    *consumption.Model
	rule     energy.ShareRule
	acc      *consumption.Accumulator
	registry *monitoring.Registry
	amon     *monitoring.AttributionMonitor
	wmon     *workload.Monitor

	mapper    atomic.Pointer[workload.Mapper]
	lastPrune time.Time
}

func newDaemon(cfg *config.Config, host *types.Host, store *history.Store, sampler *proc.Sampler,
	registry *monitoring.Registry, rules []workload.PredictorRule,
) (*daemon, error) {
	rule, err := energy.RuleByName(cfg.Workload.ShareRule, cfg.Workload.ConsiderIdleEnergy)
	if err != nil {
		return nil, err
	}
	d := &daemon{
		cfg:       cfg,
		host:      host,
		sampler:   sampler,
		store:     store,
		cache:     workload.NewStatisticsCache(),
		model:     consumption.ForHost(host, &cfg.Power),
		rule:      rule,
		acc:       consumption.NewAccumulator(),
		registry:  registry,
		amon:      monitoring.NewAttributionMonitor(registry),
		wmon:      workload.NewMonitor(registry),
		lastPrune: time.Now(),
	}
	d.cache.SetInUse(!cfg.Workload.DisableCache)
	for i := range cfg.Serve.Applications {
		app := &cfg.Serve.Applications[i]
		if app.HostName == "" {
			app.HostName = host.Name
		}
		d.apps = append(d.apps, app)
		d.users = append(d.users, app)
	}
	d.setRules(rules)
	return d, nil
}

func (d *daemon) setRules(rules []workload.PredictorRule) {
	d.mapper.Store(workload.NewMapper(rules, workload.Options{
		Cache:          d.cache,
		Monitor:        d.wmon,
		Connector:      d.store,
		DataSource:     d.sampler,
		Location:       d.store.Location,
		BootBucketSize: d.cfg.Workload.BootBucket,
		RecentLookback: d.cfg.Workload.RecentLookback,
	}))
}

// tick runs one sampling round.
func (d *daemon) tick(ctx context.Context, dt time.Duration) error {
	s, err := d.sampler.Sample(d.apps, dt)
	switch {
	case errors.Is(err, proc.ErrAllExited):
		slog.Warn("serve: every sampled application has exited")
	case err != nil:
		return fmt.Errorf("serve: sample: %w", err)
	}
	s.Host.Power = d.model.Power(s.Host.CPUUtilisation)
	d.amon.ObserveHost(s.Host)

	if err := d.store.RecordHostMeasurement(ctx, s.Host); err != nil {
		return err
	}
	if _, err := d.store.RecordApplicationMeasurements(ctx, s.Apps); err != nil {
		return err
	}

	if len(d.users) > 0 {
		if err := d.attribute(s, dt); err != nil {
			slog.Warn("serve: attribution failed", "err", err)
		}
	}

	if d.cache.InUse() {
		tags, disks := keysOf(d.users)
		if err := d.cache.Warm(ctx, d.store, tags, disks, d.cfg.Workload.BootBucket); err != nil {
			slog.Warn("serve: statistics cache partially warmed", "err", err)
		}
	}
	u := d.mapper.Load().CPUUtilisation(ctx, d.host, d.users)
	d.amon.ObservePrediction(d.host, u)

	if now := time.Now(); now.Sub(d.lastPrune) >= pruneEvery {
		d.lastPrune = now
		n, err := d.store.Prune(ctx, now.Add(-d.cfg.Serve.Retention))
		if err != nil {
			return err
		}
		slog.Info("serve: pruned history", "rows", n)
	}
	return nil
}

func (d *daemon) attribute(s proc.Sample, dt time.Duration) error {
	if lf, ok := d.rule.(*energy.LoadFractionShareRule); ok {
		lf.SetApplicationLoadsFromMeasurements(s.Apps)
	}
	div, err := d.rule.EnergyUsage(d.host, d.users)
	if err != nil {
		return err
	}
	res, err := d.acc.Apply(div, s.Host.Power, dt)
	if err != nil {
		return err
	}
	for _, u := range div.Users() {
		id := u.SourceID()
		d.amon.ObserveTenant(d.host, u, res.Shares[id], d.acc.EnergyCumJ(id))
	}
	return nil
}

func (d *daemon) sampleLoop(ctx context.Context) error {
	interval := d.cfg.Serve.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("serve: sampling stopped", "ticks", d.acc.Ticks(), "host_joules", d.acc.HostEnergyCumJ())
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := d.tick(ctx, dt); err != nil {
				slog.Error("serve: tick failed", "err", err)
			}
		}
	}
}

// watchRules swaps in a new mapper whenever the rule table changes.
func (d *daemon) watchRules(ctx context.Context) error {
	const debounceInterval = 100 * time.Millisecond

	path := d.cfg.RulesPath
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("serve: rule watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("serve: watch %s: %w", path, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only care about our rules file
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, d.reloadRules)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("serve: rule watcher", "err", err)
		}
	}
}

func (d *daemon) reloadRules() {
	rules, err := workload.LoadRules(d.cfg.RulesPath)
	if err != nil {
		slog.Error("serve: keeping previous predictor rules", "path", d.cfg.RulesPath, "err", err)
		return
	}
	d.setRules(rules)
	slog.Info("serve: predictor rules reloaded", "path", d.cfg.RulesPath, "rules", len(rules))
}

func (d *daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: d.cfg.Serve.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serve: metrics listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
