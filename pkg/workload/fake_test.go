package workload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// fakeConnector serves canned history and counts calls.
type fakeConnector struct {
	mu       sync.Mutex
	calls    int
	tagAvg   map[string]VMLoadHistoryRecord
	diskAvg  map[string]VMLoadHistoryRecord
	boot     map[string][]BootHistoryRecord
	weekTag  map[string][]WeekHistoryRecord
	weekDisk map[string][]WeekHistoryRecord
	fail     error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		tagAvg:   map[string]VMLoadHistoryRecord{},
		diskAvg:  map[string]VMLoadHistoryRecord{},
		boot:     map[string][]BootHistoryRecord{},
		weekTag:  map[string][]WeekHistoryRecord{},
		weekDisk: map[string][]WeekHistoryRecord{},
	}
}

func (f *fakeConnector) hit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fail
}

func (f *fakeConnector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeConnector) AverageUtilisationForTag(_ context.Context, tag string) (VMLoadHistoryRecord, error) {
	if err := f.hit(); err != nil {
		return VMLoadHistoryRecord{}, err
	}
	r, ok := f.tagAvg[tag]
	if !ok {
		return r, fmt.Errorf("%w: %s", ErrNoHistory, tag)
	}
	return r, nil
}

func (f *fakeConnector) AverageUtilisationForDisk(_ context.Context, disk string) (VMLoadHistoryRecord, error) {
	if err := f.hit(); err != nil {
		return VMLoadHistoryRecord{}, err
	}
	r, ok := f.diskAvg[disk]
	if !ok {
		return r, fmt.Errorf("%w: %s", ErrNoHistory, disk)
	}
	return r, nil
}

func (f *fakeConnector) BootTraceForDisk(_ context.Context, disk string, _ time.Duration) ([]BootHistoryRecord, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	r, ok := f.boot[disk]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, disk)
	}
	return r, nil
}

func (f *fakeConnector) WeekTraceForTag(_ context.Context, tag string) ([]WeekHistoryRecord, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	r, ok := f.weekTag[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, tag)
	}
	return r, nil
}

func (f *fakeConnector) WeekTraceForDisk(_ context.Context, disk string) ([]WeekHistoryRecord, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	r, ok := f.weekDisk[disk]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, disk)
	}
	return r, nil
}

type fakeSource struct {
	util float64
	err  error
	got  time.Duration
}

func (f *fakeSource) HostCPUUtilisation(_ context.Context, _ *types.Host, lookback time.Duration) (float64, error) {
	f.got = lookback
	return f.util, f.err
}

func rec(u, sd float64) VMLoadHistoryRecord {
	return VMLoadHistoryRecord{Utilisation: u, StdDev: sd}
}

func tagged(id string, tags ...string) *types.DeployedVM {
	return &types.DeployedVM{VirtualMachine: types.VirtualMachine{ID: id, AppTags: tags}}
}

func withDisks(id string, disks ...string) *types.DeployedVM {
	return &types.DeployedVM{VirtualMachine: types.VirtualMachine{ID: id, DiskImages: disks}}
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
