package types

import (
	"fmt"
	"time"
)

// SourceKind enumerates the closed set of energy user variants.
type SourceKind int

const (
	KindDeployedVM SourceKind = iota
	KindPlannedVM
	KindApplication
	KindPowerConsumer
)

func (k SourceKind) String() string {
	switch k {
	case KindDeployedVM:
		return "vm"
	case KindPlannedVM:
		return "planned-vm"
	case KindApplication:
		return "app"
	case KindPowerConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// SourceID is the stable identity of an energy user. It is the key of
// every weight and fraction map, so two values describing the same tenant
// must yield the same SourceID.
type SourceID string

// EnergyUsageSource is anything a host's energy can be attributed to.
// The set of implementations is closed: DeployedVM, PlannedVM,
// ApplicationOnHost and PowerConsumer.
type EnergyUsageSource interface {
	SourceID() SourceID
	Kind() SourceKind
	Label() string
	sealed()
}

func newSourceID(k SourceKind, id string) SourceID {
	return SourceID(fmt.Sprintf("%s:%s", k, id))
}

// VirtualMachine holds the descriptor shared by deployed and planned VMs.
type VirtualMachine struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	CPUCount   int      `yaml:"cpus" json:"cpus"`
	RAM        Bytes    `yaml:"ram" json:"ram"`
	Disk       Bytes    `yaml:"disk" json:"disk"`
	AppTags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	DiskImages []string `yaml:"diskImages,omitempty" json:"disk_images,omitempty"`
}

// DeployedVM is a VM currently running on a host.
type DeployedVM struct {
	VirtualMachine `yaml:",inline"`
	HostName       string    `yaml:"host" json:"host"`
	Created        time.Time `yaml:"created" json:"created"`
}

func (v *DeployedVM) SourceID() SourceID { return newSourceID(KindDeployedVM, v.ID) }
func (v *DeployedVM) Kind() SourceKind   { return KindDeployedVM }
func (v *DeployedVM) Label() string      { return v.Name }
func (*DeployedVM) sealed()              {}

// BootAge is the time elapsed since the VM was created, never negative.
func (v *DeployedVM) BootAge(now time.Time) time.Duration {
	if v.Created.IsZero() || now.Before(v.Created) {
		return 0
	}
	return now.Sub(v.Created)
}

// PlannedVM is a VM that a scheduler is considering placing on a host.
type PlannedVM struct {
	VirtualMachine `yaml:",inline"`
}

func (v *PlannedVM) SourceID() SourceID { return newSourceID(KindPlannedVM, v.ID) }
func (v *PlannedVM) Kind() SourceKind   { return KindPlannedVM }
func (v *PlannedVM) Label() string      { return v.Name }
func (*PlannedVM) sealed()              {}

// ApplicationOnHost is an application (process group) running directly
// on a host rather than inside a VM.
type ApplicationOnHost struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	HostName string   `yaml:"host" json:"host"`
	CPUCount int      `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	AppTags  []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	PIDs     []int    `yaml:"pids,omitempty" json:"pids,omitempty"`
}

func (a *ApplicationOnHost) SourceID() SourceID { return newSourceID(KindApplication, a.ID) }
func (a *ApplicationOnHost) Kind() SourceKind   { return KindApplication }
func (a *ApplicationOnHost) Label() string      { return a.Name }
func (*ApplicationOnHost) sealed()              {}

// PowerConsumer is a general purpose consumer such as a storage shelf or
// a switch that shares a host's metered supply.
type PowerConsumer struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

func (p *PowerConsumer) SourceID() SourceID { return newSourceID(KindPowerConsumer, p.ID) }
func (p *PowerConsumer) Kind() SourceKind   { return KindPowerConsumer }
func (p *PowerConsumer) Label() string      { return p.Name }
func (*PowerConsumer) sealed()              {}

// AppTags returns the application tags of a source. Only VMs and
// applications carry tags.
func AppTags(s EnergyUsageSource) []string {
	switch v := s.(type) {
	case *DeployedVM:
		return v.AppTags
	case *PlannedVM:
		return v.AppTags
	case *ApplicationOnHost:
		return v.AppTags
	case *PowerConsumer:
		return nil
	default:
		panic(fmt.Sprintf("types: unhandled energy usage source %T", s))
	}
}

// DiskImages returns the disk image references of a source. Only VMs
// boot from disk images.
func DiskImages(s EnergyUsageSource) []string {
	switch v := s.(type) {
	case *DeployedVM:
		return v.DiskImages
	case *PlannedVM:
		return v.DiskImages
	case *ApplicationOnHost, *PowerConsumer:
		return nil
	default:
		panic(fmt.Sprintf("types: unhandled energy usage source %T", s))
	}
}

// CPUCount returns the declared core count of a source, zero when unknown.
func CPUCount(s EnergyUsageSource) int {
	switch v := s.(type) {
	case *DeployedVM:
		return v.CPUCount
	case *PlannedVM:
		return v.CPUCount
	case *ApplicationOnHost:
		return v.CPUCount
	case *PowerConsumer:
		return 0
	default:
		panic(fmt.Sprintf("types: unhandled energy usage source %T", s))
	}
}
