package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// snapshot is one host and the tenants on it, as read from a YAML file.
//
//	time: 2026-10-14T14:30:00Z
//	host: {name: node-1, idlePower: 100, maxPower: 300}
//	power: 250          # metered watts, optional
//	cpu: 0.45           # host utilisation, optional
//	vms:
//	  - {id: "1", name: web-1, cpus: 2, tags: [web], cpu: 0.3}
//	planned:
//	  - {id: "9", name: batch-9, cpus: 4, tags: [batch]}
//	applications:
//	  - {id: nginx, name: nginx, cpus: 1, tags: [web], cpu: 0.1}
//	consumers:
//	  - {id: shelf, name: storage shelf}
type snapshot struct {
	Time  time.Time  `yaml:"time"`
	Host  types.Host `yaml:"host"`
	Power float64    `yaml:"power"`
	CPU   *float64   `yaml:"cpu"`

	VMs          []vmEntry             `yaml:"vms"`
	Planned      []types.PlannedVM     `yaml:"planned"`
	Applications []appEntry            `yaml:"applications"`
	Consumers    []types.PowerConsumer `yaml:"consumers"`
}

type vmEntry struct {
	types.DeployedVM `yaml:",inline"`
	CPU              *float64 `yaml:"cpu"`
}

type appEntry struct {
	types.ApplicationOnHost `yaml:",inline"`
	CPU                     *float64 `yaml:"cpu"`
}

func readSnapshot(path string) (*snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var s snapshot
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	if s.Host.Name == "" {
		return nil, fmt.Errorf("snapshot: %s: host name is required", path)
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	for i := range s.VMs {
		if s.VMs[i].HostName == "" {
			s.VMs[i].HostName = s.Host.Name
		}
	}
	for i := range s.Applications {
		if s.Applications[i].HostName == "" {
			s.Applications[i].HostName = s.Host.Name
		}
	}
	return &s, nil
}

// users returns every tenant: deployed VMs, planned VMs, applications and
// consumers, in file order.
func (s *snapshot) users() []types.EnergyUsageSource {
	out := make([]types.EnergyUsageSource, 0, len(s.VMs)+len(s.Planned)+len(s.Applications)+len(s.Consumers))
	for i := range s.VMs {
		out = append(out, &s.VMs[i].DeployedVM)
	}
	for i := range s.Planned {
		out = append(out, &s.Planned[i])
	}
	for i := range s.Applications {
		out = append(out, &s.Applications[i].ApplicationOnHost)
	}
	for i := range s.Consumers {
		out = append(out, &s.Consumers[i])
	}
	return out
}

func (s *snapshot) vmMeasurements() []types.VMMeasurement {
	out := make([]types.VMMeasurement, 0, len(s.VMs))
	for i := range s.VMs {
		out = append(out, types.VMMeasurement{VM: &s.VMs[i].DeployedVM, Clock: s.Time, CPUUtilisation: s.VMs[i].CPU})
	}
	return out
}

func (s *snapshot) appMeasurements() []types.ApplicationMeasurement {
	out := make([]types.ApplicationMeasurement, 0, len(s.Applications))
	for i := range s.Applications {
		out = append(out, types.ApplicationMeasurement{App: &s.Applications[i].ApplicationOnHost, Clock: s.Time, CPUUtilisation: s.Applications[i].CPU})
	}
	return out
}
