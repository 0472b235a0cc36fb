package workload

import (
	"context"
	"log/slog"
	"slices"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// Mapper routes each tenant to the estimator named by the first predictor
// rule matching one of its app tags or disk images. Its rule set is fixed
// at construction.
type Mapper struct {
	rules    []PredictorRule
	roster   []SourceEstimator
	fallback SourceEstimator
	recent   Estimator

	validTags  map[string]struct{}
	validDisks map[string]struct{}

	monitor *Monitor
	log     *slog.Logger
}

// NewMapper builds a mapper over rules with the full estimator roster,
// all sharing the collaborators in o.
func NewMapper(rules []PredictorRule, o Options) *Mapper {
	byTag := NewAverageEstimator(ByTag, o)
	m := &Mapper{
		rules: slices.Clone(rules),
		roster: []SourceEstimator{
			byTag,
			NewAverageEstimator(ByDisk, o),
			NewBootEstimator(o),
			NewWeekEstimator(ByTag, o),
			NewWeekEstimator(ByDisk, o),
		},
		fallback:   byTag,
		recent:     NewRecentHistoryEstimator(o),
		validTags:  make(map[string]struct{}),
		validDisks: make(map[string]struct{}),
		monitor:    o.Monitor,
		log:        o.Logger,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	for _, r := range m.rules {
		if r.AppTag {
			m.validTags[r.Property] = struct{}{}
		}
		if r.Disk {
			m.validDisks[r.Property] = struct{}{}
		}
	}
	return m
}

func (*Mapper) Name() string { return NameUserDefined }

// Rules returns the mapper's rules in declaration order.
func (m *Mapper) Rules() []PredictorRule { return slices.Clone(m.rules) }

// Roster returns the estimators rules can name.
func (m *Mapper) Roster() []SourceEstimator { return slices.Clone(m.roster) }

func (m *Mapper) SetDataSource(ds DataSource) {
	for _, e := range m.roster {
		e.SetDataSource(ds)
	}
	m.recent.SetDataSource(ds)
}

func (m *Mapper) SetHistoryConnector(conn HistoryConnector) {
	for _, e := range m.roster {
		e.SetHistoryConnector(conn)
	}
	m.recent.SetHistoryConnector(conn)
}

// Estimator returns the estimator of the first rule whose property equals
// lookup and whose predictor names a roster entry. Without a match it logs
// a warning and returns the average-by-tag estimator.
func (m *Mapper) Estimator(lookup string) SourceEstimator {
	for _, r := range m.rules {
		if r.Property != lookup {
			continue
		}
		for _, e := range m.roster {
			if e.Name() == r.Predictor {
				return e
			}
		}
	}
	m.log.Warn("workload: no predictor rule matched, using default", "property", lookup, "default", m.fallback.Name())
	m.monitor.observeFallback()
	return m.fallback
}

// CPUUtilisation tries app tag rules first, then disk rules, and finally
// falls back to the host's recent history over the whole tenant set. Within
// a tier every tenant with a ruled key counts, those without history as
// zero; a tier where no such tenant has history is skipped.
func (m *Mapper) CPUUtilisation(ctx context.Context, host *types.Host, sources []types.EnergyUsageSource) float64 {
	if u, ok := m.estimateBy(ctx, sources, types.AppTags, m.validTags); ok {
		return u
	}
	if u, ok := m.estimateBy(ctx, sources, types.DiskImages, m.validDisks); ok {
		return u
	}
	return m.recent.CPUUtilisation(ctx, host, sources)
}

func (m *Mapper) estimateBy(ctx context.Context, sources []types.EnergyUsageSource,
	keys func(types.EnergyUsageSource) []string, valid map[string]struct{},
) (float64, bool) {
	var (
		sum   float64
		n     int
		found bool
	)
	for _, src := range sources {
		key, ok := firstValid(keys(src), valid)
		if !ok {
			continue
		}
		n++
		if r, ok := m.Estimator(key).AverageCPUUtilisation(ctx, src); ok {
			sum += r.Utilisation
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return sum / float64(n), true
}

func firstValid(keys []string, valid map[string]struct{}) (string, bool) {
	for _, k := range keys {
		if _, ok := valid[k]; ok {
			return k, true
		}
	}
	return "", false
}

// PredictSource predicts one tenant's utilisation with the estimator its
// first matching app tag selects, or else its first matching disk image.
// It also returns the name of the estimator used.
func (m *Mapper) PredictSource(ctx context.Context, src types.EnergyUsageSource) (VMLoadHistoryRecord, string, bool) {
	for _, tier := range []struct {
		keys  func(types.EnergyUsageSource) []string
		valid map[string]struct{}
	}{
		{types.AppTags, m.validTags},
		{types.DiskImages, m.validDisks},
	} {
		key, ok := firstValid(tier.keys(src), tier.valid)
		if !ok {
			continue
		}
		e := m.Estimator(key)
		if r, ok := e.AverageCPUUtilisation(ctx, src); ok {
			return r, e.Name(), true
		}
	}
	return VMLoadHistoryRecord{}, "", false
}
