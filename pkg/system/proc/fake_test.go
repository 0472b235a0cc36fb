package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProc is a procfs tree in a temp dir.
type fakeProc struct {
	t    *testing.T
	root string
}

func newFakeProc(t *testing.T) *fakeProc {
	t.Helper()
	t.Setenv("CLK_TCK", "100")
	return &fakeProc{t: t, root: t.TempDir()}
}

func (f *fakeProc) FS() FS { return FS{Root: f.root} }

func (f *fakeProc) write(rel, content string) {
	f.t.Helper()
	p := filepath.Join(f.root, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
}

// cpu writes the aggregate line: user nice system idle iowait irq softirq steal.
func (f *fakeProc) cpu(user, system, idle uint64) {
	f.write("stat", fmt.Sprintf("cpu  %d 0 %d %d 0 0 0 0 0 0\ncpu0 %d 0 %d %d 0 0 0 0 0 0\nintr 0\n",
		user, system, idle, user, system, idle))
}

func (f *fakeProc) proc(pid int, comm string, utime, stime uint64) {
	f.write(filepath.Join(strconv.Itoa(pid), "stat"),
		fmt.Sprintf("%d (%s) S 1 1 1 0 -1 4194304 10 0 2 0 %d %d 0 0 20 0 1 0 100 0 0\n", pid, comm, utime, stime))
}

func (f *fakeProc) io(pid int, read, write uint64) {
	f.write(filepath.Join(strconv.Itoa(pid), "io"),
		fmt.Sprintf("rchar: 1\nwchar: 1\nsyscr: 1\nsyscw: 1\nread_bytes: %d\nwrite_bytes: %d\ncancelled_write_bytes: 0\n", read, write))
}

func (f *fakeProc) children(pid int, kids ...int) {
	var s string
	for _, k := range kids {
		s += strconv.Itoa(k) + " "
	}
	f.write(filepath.Join(strconv.Itoa(pid), "task", strconv.Itoa(pid), "children"), s)
}

func (f *fakeProc) kill(pid int) {
	require.NoError(f.t, os.RemoveAll(filepath.Join(f.root, strconv.Itoa(pid))))
}
