package proc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/ja7ad/vmenergy/pkg/system/util"
	"github.com/ja7ad/vmenergy/pkg/types"
)

// Sample is one sampling tick of a host and its applications.
type Sample struct {
	Host types.HostMeasurement
	Apps []types.ApplicationMeasurement
}

// Sampler turns procfs counters into host and application measurements.
// It keeps the previous counters of every PID it has seen and is safe for
// concurrent use.
type Sampler struct {
	fs   FS
	host *types.Host

	// CPUs normalises application utilisation; defaults to runtime.NumCPU.
	CPUs int
	// IncludeChildren also charges the direct children of every PID.
	IncludeChildren bool
	Now             func() time.Time

	clkTck int
	log    *slog.Logger

	mu           sync.Mutex
	ema          *util.EMA
	activePrev   uint64
	totalPrev    uint64
	cpuPrev      map[int]uint64 // utime+stime (jiffies)
	rbytesPrev   map[int]uint64
	wbytesPrev   map[int]uint64
	hostSampled  bool
	lastHostUtil float64
}

// NewSampler primes the host counters. alpha in (0,1] enables EMA
// smoothing of host utilisation; anything else disables it.
func NewSampler(fs FS, host *types.Host, alpha float64) (*Sampler, error) {
	if host == nil {
		return nil, fmt.Errorf("proc: nil host")
	}
	active, total, err := fs.ReadSystemCPU()
	if err != nil {
		return nil, fmt.Errorf("proc: prime host counters: %w", err)
	}
	return &Sampler{
		fs:         fs,
		host:       host,
		CPUs:       runtime.NumCPU(),
		Now:        time.Now,
		clkTck:     ClockTicks(),
		log:        slog.Default().With("host", host.Name),
		ema:        util.NewEMA(alpha),
		activePrev: active,
		totalPrev:  total,
		cpuPrev:    make(map[int]uint64),
		rbytesPrev: make(map[int]uint64),
		wbytesPrev: make(map[int]uint64),
	}, nil
}

// Sample reads the host and every application once. dt is the time since
// the previous call. An application whose PIDs were all seen for the first
// time, or have all exited, is reported without CPU data. ErrAllExited is
// returned when no PID of any application is alive.
func (s *Sampler) Sample(apps []*types.ApplicationOnHost, dt time.Duration) (Sample, error) {
	if !(dt > 0) {
		return Sample{}, ErrBadDt
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	hostUtil, err := s.sampleHost()
	if err != nil {
		return Sample{}, err
	}
	out := Sample{
		Host: types.HostMeasurement{Host: s.host, Clock: now, CPUUtilisation: hostUtil},
		Apps: make([]types.ApplicationMeasurement, 0, len(apps)),
	}

	var (
		alive   int
		pidSeen = map[int]struct{}{}
	)
	for _, app := range apps {
		m := types.ApplicationMeasurement{App: app, Clock: now}
		pids, err := s.pids(app)
		if err != nil {
			s.log.Debug("proc: application has nothing to sample", "app", app.Name, "err", err)
			out.Apps = append(out.Apps, m)
			continue
		}

		var (
			jiffies, rd, wr uint64
			charged         int
		)
		for _, pid := range pids {
			if !s.fs.Exists(pid) {
				continue
			}
			alive++
			pidSeen[pid] = struct{}{}

			ut, st, err := s.fs.ReadProcStat(pid)
			if err != nil {
				s.log.Debug("proc: read stat", "pid", pid, "err", err)
				continue
			}
			j := ut + st
			if prev, ok := s.cpuPrev[pid]; ok {
				jiffies += util.DeltaU64(j, prev)
				charged++
			}
			s.cpuPrev[pid] = j

			if r, w, err := s.fs.ReadProcIO(pid); err == nil {
				if _, ok := s.rbytesPrev[pid]; ok {
					rd += util.DeltaU64(r, s.rbytesPrev[pid])
					wr += util.DeltaU64(w, s.wbytesPrev[pid])
				}
				s.rbytesPrev[pid] = r
				s.wbytesPrev[pid] = w
			}
		}
		if charged > 0 {
			cpuSec := float64(jiffies) / float64(s.clkTck)
			u := util.Clamp01(util.SafeDiv(cpuSec, float64(max(s.CPUs, 1))*dt.Seconds()))
			m.CPUUtilisation = types.Utilisation(u)
			m.ReadBytes = types.ToBytes(rd)
			m.WriteBytes = types.ToBytes(wr)
		}
		out.Apps = append(out.Apps, m)
	}
	s.forget(pidSeen)

	if len(apps) > 0 && alive == 0 {
		return out, ErrAllExited
	}
	return out, nil
}

func (s *Sampler) sampleHost() (float64, error) {
	active, total, err := s.fs.ReadSystemCPU()
	if err != nil {
		return 0, fmt.Errorf("proc: host cpu: %w", err)
	}
	u := util.SafeDiv(float64(util.DeltaU64(active, s.activePrev)), float64(util.DeltaU64(total, s.totalPrev)))
	s.activePrev, s.totalPrev = active, total
	u = util.Clamp01(s.ema.Next(util.Clamp01(u)))
	s.hostSampled, s.lastHostUtil = true, u
	return u, nil
}

func (s *Sampler) pids(app *types.ApplicationOnHost) ([]int, error) {
	if len(app.PIDs) == 0 {
		return nil, ErrNoPIDs
	}
	if !s.IncludeChildren {
		return app.PIDs, nil
	}
	out := slices.Clone(app.PIDs)
	for _, pid := range app.PIDs {
		if children, err := s.fs.ReadProcChildren(pid); err == nil {
			out = append(out, children...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// forget drops counters of PIDs that were not seen alive this tick.
func (s *Sampler) forget(alive map[int]struct{}) {
	for pid := range s.cpuPrev {
		if _, ok := alive[pid]; !ok {
			delete(s.cpuPrev, pid)
			delete(s.rbytesPrev, pid)
			delete(s.wbytesPrev, pid)
		}
	}
}

// HostCPUUtilisation returns the latest (smoothed) host utilisation. The
// look-back is covered by the EMA and otherwise ignored.
func (s *Sampler) HostCPUUtilisation(_ context.Context, host *types.Host, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host != nil && host.Name != s.host.Name {
		return 0, fmt.Errorf("proc: sampler of %q asked for %q", s.host.Name, host.Name)
	}
	if !s.hostSampled {
		return 0, ErrNoSample
	}
	return s.lastHostUtil, nil
}
