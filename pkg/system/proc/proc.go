package proc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FS reads procfs below Root.
type FS struct {
	Root string
}

// DefaultFS reads the host's /proc.
func DefaultFS() FS { return FS{Root: "/proc"} }

func (fs FS) path(parts ...string) string {
	return filepath.Join(append([]string{fs.Root}, parts...)...)
}

// ClockTicks returns the number of jiffies (clock ticks) per second.
// It first checks the env var CLK_TCK (useful for testing), otherwise
// falls back to 100 (common default). sysconf(_SC_CLK_TCK) would need cgo.
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	return 100
}

// Exists reports whether <root>/<pid> exists.
func (fs FS) Exists(pid int) bool {
	_, err := os.Stat(fs.path(strconv.Itoa(pid)))
	return err == nil
}

// ReadProcStat parses <root>/<pid>/stat and returns the user and system
// CPU jiffies of the process. comm (2nd field) is in parens and may contain
// spaces, so fields are counted from the last ") ".
func (fs FS) ReadProcStat(pid int) (utime, stime uint64, err error) {
	b, err := os.ReadFile(fs.path(strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, 0, err
	}
	line := strings.TrimSpace(string(b))
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, 0, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])
	// utime and stime are the 14th and 15th fields overall
	if len(fields) < 13 {
		return 0, 0, ErrShortStat
	}
	if utime, err = strconv.ParseUint(fields[11], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: utime: %w", ErrNoStat, err)
	}
	if stime, err = strconv.ParseUint(fields[12], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: stime: %w", ErrNoStat, err)
	}
	return utime, stime, nil
}

// ReadProcIO reads <root>/<pid>/io and returns read_bytes and write_bytes.
// Not every process exposes this file (kernel threads, other users).
func (fs FS) ReadProcIO(pid int) (readBytes, writeBytes uint64, err error) {
	f, err := os.Open(fs.path(strconv.Itoa(pid), "io"))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch key {
		case "read_bytes":
			readBytes, _ = strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		case "write_bytes":
			writeBytes, _ = strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		}
	}
	return readBytes, writeBytes, sc.Err()
}

// ReadSystemCPU parses <root>/stat for the aggregate CPU line and returns:
//   - active: user + nice + system + irq + softirq + steal
//   - total:  active + idle + iowait
//
// Both are monotonic jiffy counters.
func (fs FS) ReadSystemCPU() (active, total uint64, err error) {
	f, err := os.Open(fs.path("stat"))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		if len(fields) < 9 {
			return 0, 0, ErrNoCPU
		}
		var v [8]uint64
		for i := range v {
			v[i], _ = strconv.ParseUint(fields[i+1], 10, 64)
		}
		active = v[0] + v[1] + v[2] + v[5] + v[6] + v[7]
		total = active + v[3] + v[4]
		return active, total, nil
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, ErrNoCPU
}

// ReadProcChildren returns the direct child PIDs of a process from
// <root>/<pid>/task/*/children, deduplicated across threads.
func (fs FS) ReadProcChildren(pid int) ([]int, error) {
	paths, _ := filepath.Glob(fs.path(strconv.Itoa(pid), "task", "*", "children"))
	set := map[int]struct{}{}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, s := range strings.Fields(string(b)) {
			if id, err := strconv.Atoi(s); err == nil {
				set[id] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil, ErrNoChildren
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}
