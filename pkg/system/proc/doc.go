// Package proc samples a Linux host and the process groups of the
// applications running on it from procfs.
//
// Host CPU utilisation is the delta of active over total jiffies of the
// aggregate "cpu" line in <root>/stat, optionally EMA smoothed. An
// application's utilisation is the summed utime+stime delta of its PIDs
// (and, optionally, their direct children) normalised by the host's CPU
// count and the sampling interval:
//
//	u_app = Δjiffies / CLK_TCK / (CPUs * dt)
//
// A process is only charged from its second sighting on, so the first
// sample of a new application carries no CPU data.
package proc
