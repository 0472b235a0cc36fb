package proc

import "errors"

var (
	// ErrNoStat indicates that <root>/<pid>/stat was empty or malformed.
	ErrNoStat = errors.New("proc: malformed or empty stat")

	// ErrShortStat indicates that <root>/<pid>/stat had fewer fields than expected.
	ErrShortStat = errors.New("proc: short stat")

	// ErrNoCPU indicates that <root>/stat had no aggregate CPU line.
	ErrNoCPU = errors.New("proc: no cpu line")

	// ErrNoChildren indicates that <root>/<pid>/task/*/children contained none.
	ErrNoChildren = errors.New("proc: no children")

	// ErrNoPIDs indicates an application without any process to sample.
	ErrNoPIDs = errors.New("proc: no pids")

	// ErrBadDt indicates a non-positive sampling interval.
	ErrBadDt = errors.New("proc: sampling interval must be positive")

	// ErrAllExited indicates that every sampled process has exited.
	ErrAllExited = errors.New("proc: all processes exited")

	// ErrNoSample indicates that the host has not been sampled yet.
	ErrNoSample = errors.New("proc: no sample yet")
)
