package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ja7ad/vmenergy/pkg/consumption"
	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/types"
)

type attributeOpts struct {
	rule   string
	idle   bool
	total  float64
	format string
	out    string
}

func newAttributeCmd(a *app) *cobra.Command {
	var o attributeOpts
	cmd := &cobra.Command{
		Use:   "attribute SNAPSHOT",
		Short: "Split a host's power across its tenants",
		Long: `attribute reads a host snapshot (YAML) and divides the host total across
the tenants under the chosen share rule. The total is taken from --total,
else the snapshot's metered power, else the power model at the snapshot's
host utilisation.`,
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
			return withOutput(cmd.OutOrStdout(), o.out, func(w io.Writer) error {
				return runAttribute(w, snap, o, &a.cfg.Power)
			})
		},
	}
	cmd.Flags().StringVarP(&o.rule, "rule", "r", "load", "share rule (equal, load, load-cores, cores)")
	cmd.Flags().BoolVar(&o.idle, "idle", false, "split idle power evenly and the rest by weight")
	cmd.Flags().Float64Var(&o.total, "total", 0, "host total in Watts or Joules to split")
	cmd.Flags().StringVarP(&o.format, "format", "f", "table", "output format (table, csv, json, html)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "write output to file instead of stdout")
	return cmd
}

func runAttribute(w io.Writer, snap *snapshot, o attributeOpts, power *consumption.Config) error {
	rule, err := energy.RuleByName(o.rule, o.idle)
	if err != nil {
		return err
	}

	users := snap.users()
	if lf, ok := rule.(*energy.LoadFractionShareRule); ok {
		users = loadUsers(lf, snap)
	}
	d, err := rule.EnergyUsage(&snap.Host, users)
	if err != nil {
		return fmt.Errorf("attribute: %w", err)
	}

	total, err := hostTotal(snap, o.total, power)
	if err != nil {
		return err
	}
	rep, err := newReport(snap.Time, rule, d, total)
	if err != nil {
		return fmt.Errorf("attribute: %w", err)
	}
	rep.Utilisation = snap.CPU
	return rep.write(w, o.format)
}

// loadUsers sets the rule's fractions from the VM and application
// measurements together and returns the measured tenants. Planned VMs and
// plain consumers have no load and are left out.
func loadUsers(lf *energy.LoadFractionShareRule, snap *snapshot) []types.EnergyUsageSource {
	var ms []types.LoadMeasurement
	for _, m := range snap.vmMeasurements() {
		ms = append(ms, m)
	}
	for _, m := range snap.appMeasurements() {
		ms = append(ms, m)
	}
	lf.SetFractions(energy.Fractions(ms, lf.ConsiderCoreCount))

	users := make([]types.EnergyUsageSource, 0, len(ms))
	for _, m := range ms {
		users = append(users, m.Source())
	}
	if skipped := len(snap.Planned) + len(snap.Consumers); skipped > 0 {
		slog.Info("attribute: tenants without load measurements are not part of a load split", "skipped", skipped)
	}
	return users
}

func hostTotal(snap *snapshot, flag float64, power *consumption.Config) (float64, error) {
	switch {
	case flag > 0:
		return flag, nil
	case snap.Power > 0:
		return snap.Power, nil
	case snap.CPU != nil:
		return consumption.ForHost(&snap.Host, power).Power(*snap.CPU), nil
	default:
		return 0, fmt.Errorf("attribute: no total: pass --total or set power or cpu in the snapshot")
	}
}

// withOutput runs fn against path, or against stdout when path is empty.
func withOutput(stdout io.Writer, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
