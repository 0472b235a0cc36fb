package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/ja7ad/vmenergy/pkg/workload"
)

// Store records workload and host samples and answers the aggregate
// utilisation queries estimators rely on. It implements both
// workload.HistoryConnector and workload.DataSource.
type Store struct {
	db      *DB
	monitor *Monitor

	// Now is the clock used for look-back windows.
	Now func() time.Time
	// Location is the zone day-of-week and hour-of-day slots are taken in.
	Location *time.Location
}

var (
	_ workload.HistoryConnector = (*Store)(nil)
	_ workload.DataSource       = (*Store)(nil)
)

// NewStore registers and creates the history tables on db.
func NewStore(db *DB, monitor *Monitor) (*Store, error) {
	if err := db.CreateTable(
		db.AddTable(WorkloadSample{}),
		db.AddTable(HostSample{}),
	); err != nil {
		return nil, err
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS workload_samples_key ON workload_samples (key_kind, lookup_key)",
		"CREATE INDEX IF NOT EXISTS host_samples_host ON host_samples (host_name, clock)",
	} {
		if _, err := db.Exec(idx); err != nil {
			return nil, fmt.Errorf("history: index: %w", err)
		}
	}
	return &Store{db: db, monitor: monitor, Now: time.Now, Location: time.Local}, nil
}

func (s *Store) slot(t time.Time) (time.Weekday, int) {
	t = t.In(s.Location)
	return t.Weekday(), t.Hour()
}

// RecordVMMeasurements stores one sample per app tag and disk image of each
// measured VM. Measurements without CPU data are dropped. It returns the
// number of rows written.
func (s *Store) RecordVMMeasurements(ctx context.Context, ms []types.VMMeasurement) (int, error) {
	var rows []any
	for _, m := range ms {
		u, ok := m.CPU()
		if !ok || m.VM == nil {
			continue
		}
		day, hour := s.slot(m.Clock)
		base := WorkloadSample{
			SourceID:       string(m.VM.SourceID()),
			HostName:       m.VM.HostName,
			Clock:          m.Clock.Unix(),
			CPUUtilisation: u,
			BootAgeSeconds: int64(m.VM.BootAge(m.Clock) / time.Second),
			DayOfWeek:      int(day),
			HourOfDay:      hour,
		}
		for _, tag := range m.VM.AppTags {
			r := base
			r.KeyKind, r.Key = kindTag, tag
			rows = append(rows, &r)
		}
		for _, disk := range m.VM.DiskImages {
			r := base
			r.KeyKind, r.Key = kindDisk, disk
			rows = append(rows, &r)
		}
	}
	return s.insert(ctx, "vm", rows)
}

// RecordApplicationMeasurements stores one sample per app tag of each
// measured application.
func (s *Store) RecordApplicationMeasurements(ctx context.Context, ms []types.ApplicationMeasurement) (int, error) {
	var rows []any
	for _, m := range ms {
		u, ok := m.CPU()
		if !ok || m.App == nil {
			continue
		}
		day, hour := s.slot(m.Clock)
		for _, tag := range m.App.AppTags {
			rows = append(rows, &WorkloadSample{
				SourceID:       string(m.App.SourceID()),
				HostName:       m.App.HostName,
				KeyKind:        kindTag,
				Key:            tag,
				Clock:          m.Clock.Unix(),
				CPUUtilisation: u,
				DayOfWeek:      int(day),
				HourOfDay:      hour,
			})
		}
	}
	return s.insert(ctx, "app", rows)
}

// RecordHostMeasurement stores a host snapshot.
func (s *Store) RecordHostMeasurement(ctx context.Context, m types.HostMeasurement) error {
	if m.Host == nil {
		return fmt.Errorf("history: host measurement without host")
	}
	_, err := s.insert(ctx, "host", []any{&HostSample{
		HostName:       m.Host.Name,
		Clock:          m.Clock.Unix(),
		CPUUtilisation: m.CPUUtilisation,
		Power:          m.Power,
		Current:        m.Current,
		Voltage:        m.Voltage,
	}})
	return err
}

func (s *Store) insert(ctx context.Context, kind string, rows []any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("history: begin: %w", err)
	}
	if err := tx.WithContext(ctx).Insert(rows...); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("history: insert %s samples: %w", kind, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit: %w", err)
	}
	s.monitor.observeSamples(kind, len(rows))
	return len(rows), nil
}

func toRecord(a aggregate) workload.VMLoadHistoryRecord {
	variance := math.Max(0, a.MeanSq-a.Mean*a.Mean)
	return workload.VMLoadHistoryRecord{Utilisation: a.Mean, StdDev: math.Sqrt(variance)}
}

func (s *Store) average(ctx context.Context, kind, key string) (workload.VMLoadHistoryRecord, error) {
	var a aggregate
	err := s.db.WithContext(ctx).SelectOne(&a, `
		SELECT
			COUNT(*) AS samples,
			COALESCE(AVG(cpu_utilisation), 0) AS mean,
			COALESCE(AVG(cpu_utilisation * cpu_utilisation), 0) AS mean_sq
		FROM workload_samples
		WHERE key_kind = :kind AND lookup_key = :key
	`, map[string]any{"kind": kind, "key": key})
	if err != nil {
		return workload.VMLoadHistoryRecord{}, fmt.Errorf("history: average %s %q: %w", kind, key, err)
	}
	if a.Samples == 0 {
		return workload.VMLoadHistoryRecord{}, fmt.Errorf("%w: %s %q", workload.ErrNoHistory, kind, key)
	}
	return toRecord(a), nil
}

func (s *Store) AverageUtilisationForTag(ctx context.Context, tag string) (workload.VMLoadHistoryRecord, error) {
	return s.average(ctx, kindTag, tag)
}

func (s *Store) AverageUtilisationForDisk(ctx context.Context, disk string) (workload.VMLoadHistoryRecord, error) {
	return s.average(ctx, kindDisk, disk)
}

func (s *Store) BootTraceForDisk(ctx context.Context, disk string, bucketSize time.Duration) ([]workload.BootHistoryRecord, error) {
	secs := int64(bucketSize / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("history: boot bucket must be at least one second, got %s", bucketSize)
	}
	var rows []aggregate
	if _, err := s.db.WithContext(ctx).Select(&rows, `
		SELECT
			boot_age_seconds / :bucket AS bucket,
			COUNT(*) AS samples,
			AVG(cpu_utilisation) AS mean,
			AVG(cpu_utilisation * cpu_utilisation) AS mean_sq
		FROM workload_samples
		WHERE key_kind = :kind AND lookup_key = :key
		GROUP BY boot_age_seconds / :bucket
		ORDER BY bucket
	`, map[string]any{"kind": kindDisk, "key": disk, "bucket": secs}); err != nil {
		return nil, fmt.Errorf("history: boot trace %q: %w", disk, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: boot trace %q", workload.ErrNoHistory, disk)
	}
	out := make([]workload.BootHistoryRecord, 0, len(rows))
	for _, a := range rows {
		out = append(out, workload.BootHistoryRecord{VMLoadHistoryRecord: toRecord(a), Bucket: int(a.Bucket)})
	}
	return out, nil
}

func (s *Store) weekTrace(ctx context.Context, kind, key string) ([]workload.WeekHistoryRecord, error) {
	var rows []aggregate
	if _, err := s.db.WithContext(ctx).Select(&rows, `
		SELECT
			day_of_week,
			hour_of_day,
			COUNT(*) AS samples,
			AVG(cpu_utilisation) AS mean,
			AVG(cpu_utilisation * cpu_utilisation) AS mean_sq
		FROM workload_samples
		WHERE key_kind = :kind AND lookup_key = :key
		GROUP BY day_of_week, hour_of_day
		ORDER BY day_of_week, hour_of_day
	`, map[string]any{"kind": kind, "key": key}); err != nil {
		return nil, fmt.Errorf("history: week trace %s %q: %w", kind, key, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: week trace %s %q", workload.ErrNoHistory, kind, key)
	}
	out := make([]workload.WeekHistoryRecord, 0, len(rows))
	for _, a := range rows {
		out = append(out, workload.WeekHistoryRecord{
			VMLoadHistoryRecord: toRecord(a),
			DayOfWeek:           time.Weekday(a.DayOfWeek),
			HourOfDay:           a.HourOfDay,
		})
	}
	return out, nil
}

func (s *Store) WeekTraceForTag(ctx context.Context, tag string) ([]workload.WeekHistoryRecord, error) {
	return s.weekTrace(ctx, kindTag, tag)
}

func (s *Store) WeekTraceForDisk(ctx context.Context, disk string) ([]workload.WeekHistoryRecord, error) {
	return s.weekTrace(ctx, kindDisk, disk)
}

// HostCPUUtilisation returns the host's mean recorded CPU utilisation over
// the last lookback.
func (s *Store) HostCPUUtilisation(ctx context.Context, host *types.Host, lookback time.Duration) (float64, error) {
	if host == nil {
		return 0, fmt.Errorf("history: nil host")
	}
	var a aggregate
	err := s.db.WithContext(ctx).SelectOne(&a, `
		SELECT COUNT(*) AS samples, COALESCE(AVG(cpu_utilisation), 0) AS mean
		FROM host_samples
		WHERE host_name = :host AND clock >= :since
	`, map[string]any{"host": host.Name, "since": s.Now().Add(-lookback).Unix()})
	if err != nil {
		return 0, fmt.Errorf("history: host utilisation %q: %w", host.Name, err)
	}
	if a.Samples == 0 {
		return 0, fmt.Errorf("%w: host %q", workload.ErrNoHistory, host.Name)
	}
	return a.Mean, nil
}

// HostUsage summarises the host's power between start and end. Total
// energy is the mean power times the window length.
func (s *Store) HostUsage(ctx context.Context, host *types.Host, users []types.EnergyUsageSource, start, end time.Time) (types.HistoricUsageRecord, error) {
	var row struct {
		Samples int64   `db:"samples"`
		Power   float64 `db:"power"`
		Current float64 `db:"current"`
		Voltage float64 `db:"voltage"`
	}
	err := s.db.WithContext(ctx).SelectOne(&row, `
		SELECT
			COUNT(*) AS samples,
			COALESCE(AVG(power_watts), 0) AS power,
			COALESCE(AVG(current_amps), 0) AS current,
			COALESCE(AVG(voltage_volts), 0) AS voltage
		FROM host_samples
		WHERE host_name = :host AND clock >= :start AND clock <= :end
	`, map[string]any{"host": host.Name, "start": start.Unix(), "end": end.Unix()})
	if err != nil {
		return types.HistoricUsageRecord{}, fmt.Errorf("history: host usage %q: %w", host.Name, err)
	}
	if row.Samples == 0 {
		return types.HistoricUsageRecord{}, fmt.Errorf("%w: host %q", workload.ErrNoHistory, host.Name)
	}
	return types.HistoricUsageRecord{
		Users:       users,
		AvgPower:    row.Power,
		AvgCurrent:  row.Current,
		AvgVoltage:  row.Voltage,
		TotalEnergy: row.Power * end.Sub(start).Seconds(),
		Start:       start,
		End:         end,
	}, nil
}

// Keys returns every distinct app tag and disk image with recorded
// samples, used to warm the statistics cache.
func (s *Store) Keys(ctx context.Context) (tags, disks []string, err error) {
	if tags, err = s.keys(ctx, kindTag); err != nil {
		return nil, nil, err
	}
	if disks, err = s.keys(ctx, kindDisk); err != nil {
		return nil, nil, err
	}
	return tags, disks, nil
}

func (s *Store) keys(ctx context.Context, kind string) ([]string, error) {
	var rows []struct {
		Key string `db:"lookup_key"`
	}
	if _, err := s.db.WithContext(ctx).Select(&rows,
		"SELECT DISTINCT lookup_key FROM workload_samples WHERE key_kind = :kind ORDER BY lookup_key",
		map[string]any{"kind": kind}); err != nil {
		return nil, fmt.Errorf("history: %s keys: %w", kind, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out, nil
}

// Prune deletes samples older than before and returns the number removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{WorkloadSample{}.TableName(), HostSample{}.TableName()} {
		res, err := s.db.WithContext(ctx).Exec("DELETE FROM "+table+" WHERE clock < :before",
			map[string]any{"before": before.Unix()})
		if err != nil {
			return total, fmt.Errorf("history: prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
