package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/vmenergy/pkg/config"
	"github.com/ja7ad/vmenergy/pkg/consumption"
	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/history"
	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/ja7ad/vmenergy/pkg/workload"
)

type predictOpts struct {
	rule   string
	idle   bool
	format string
	out    string
}

func newPredictCmd(a *app) *cobra.Command {
	var o predictOpts
	cmd := &cobra.Command{
		Use:   "predict SNAPSHOT",
		Short: "Predict host utilisation and power for a tenant set",
		Long: `predict estimates the CPU utilisation the snapshot's tenants (deployed and
planned VMs, applications) will cause on the host from recorded history,
converts it to watts with the host power model and splits the result
across the tenants.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("rule") {
				o.rule = a.cfg.Workload.ShareRule
			}
			if !cmd.Flags().Changed("idle") {
				o.idle = a.cfg.Workload.ConsiderIdleEnergy
			}
			snap, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			db, err := history.Open(a.cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := history.NewStore(db, nil)
			if err != nil {
				return err
			}
			if store.Location, err = a.cfg.Workload.Location(); err != nil {
				return err
			}
			rules, err := workload.LoadRules(a.cfg.RulesPath)
			if err != nil {
				return err
			}
			return withOutput(cmd.OutOrStdout(), o.out, func(w io.Writer) error {
				return runPredict(cmd.Context(), w, snap, store, rules, a.cfg, o)
			})
		},
	}
	cmd.Flags().StringVarP(&o.rule, "rule", "r", "load", "share rule (equal, load, load-cores, cores)")
	cmd.Flags().BoolVar(&o.idle, "idle", false, "split idle power evenly and the rest by weight")
	cmd.Flags().StringVarP(&o.format, "format", "f", "table", "output format (table, csv, json, html)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "write output to file instead of stdout")
	return cmd
}

// historySource is what predict needs from the history store.
type historySource interface {
	workload.HistoryConnector
	workload.DataSource
}

func runPredict(ctx context.Context, w io.Writer, snap *snapshot, store historySource,
	rules []workload.PredictorRule, cfg *config.Config, o predictOpts,
) error {
	loc, err := cfg.Workload.Location()
	if err != nil {
		return err
	}
	cache := workload.NewStatisticsCache()
	cache.SetInUse(!cfg.Workload.DisableCache)
	if cache.InUse() {
		tags, disks := keysOf(snap.users())
		if err := cache.Warm(ctx, store, tags, disks, cfg.Workload.BootBucket); err != nil {
			slog.Warn("predict: statistics cache partially warmed", "err", err)
		}
	}
	mapper := workload.NewMapper(rules, workload.Options{
		Cache:          cache,
		Connector:      store,
		DataSource:     store,
		Now:            func() time.Time { return snap.Time },
		Location:       loc,
		BootBucketSize: cfg.Workload.BootBucket,
		RecentLookback: cfg.Workload.RecentLookback,
	})

	users := snap.users()
	u := mapper.CPUUtilisation(ctx, &snap.Host, users)
	total := consumption.ForHost(&snap.Host, &cfg.Power).Power(u)
	slog.Debug("predict: host utilisation", "host", snap.Host.Name, "cpu", u, "watts", total)

	rule, err := energy.RuleByName(o.rule, o.idle)
	if err != nil {
		return err
	}
	predictors := map[types.SourceID]string{}
	if lf, ok := rule.(*energy.LoadFractionShareRule); ok {
		loads := make([]predictedLoad, 0, len(users))
		for _, src := range users {
			l := predictedLoad{src: src, at: snap.Time}
			if r, name, ok := mapper.PredictSource(ctx, src); ok {
				l.cpu = types.Utilisation(r.Utilisation)
				predictors[src.SourceID()] = name
			}
			loads = append(loads, l)
		}
		lf.SetFractions(energy.Fractions(loads, lf.ConsiderCoreCount))
	}

	d, err := rule.EnergyUsage(&snap.Host, users)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	rep, err := newReport(snap.Time, rule, d, total)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	rep.Utilisation = &u
	for i := range rep.Rows {
		if name, ok := predictors[rep.Rows[i].ID]; ok {
			rep.Rows[i].Predicted = &name
		}
	}
	return rep.write(w, o.format)
}

// keysOf collects the distinct app tags and disk images of users.
func keysOf(users []types.EnergyUsageSource) (tags, disks []string) {
	seen := map[string]bool{}
	for _, u := range users {
		for _, t := range types.AppTags(u) {
			if !seen["t:"+t] {
				seen["t:"+t] = true
				tags = append(tags, t)
			}
		}
		for _, d := range types.DiskImages(u) {
			if !seen["d:"+d] {
				seen["d:"+d] = true
				disks = append(disks, d)
			}
		}
	}
	return tags, disks
}

// predictedLoad is a tenant's predicted utilisation seen as a measurement.
type predictedLoad struct {
	src types.EnergyUsageSource
	cpu *float64
	at  time.Time
}

func (l predictedLoad) Source() types.EnergyUsageSource { return l.src }
func (l predictedLoad) Cores() int                      { return types.CPUCount(l.src) }
func (l predictedLoad) Time() time.Time                 { return l.at }

func (l predictedLoad) CPU() (float64, bool) {
	if l.cpu == nil {
		return 0, false
	}
	return *l.cpu, true
}
