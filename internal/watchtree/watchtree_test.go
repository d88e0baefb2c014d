package watchtree

import (
	"testing"

	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/reaper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoreServices models a root with two subdirectories, "a" and "a/b",
// without touching a real inotify fd.
type fakeCoreServices struct {
	nextWd  int32
	subdirs map[string][]string
}

func newFakeCoreServices() *fakeCoreServices {
	return &fakeCoreServices{
		subdirs: map[string][]string{
			"/root":   {"a"},
			"/root/a": {"b"},
		},
	}
}

func (f *fakeCoreServices) AddWatch(string) (int32, error) {
	f.nextWd++
	return f.nextWd, nil
}
func (f *fakeCoreServices) Log(corelog.Level, string)                      {}
func (f *fakeCoreServices) Logf(corelog.Level, string, ...interface{})     {}
func (f *fakeCoreServices) Now() osutil.Ticks                              { return 0 }
func (f *fakeCoreServices) Addup(a, b osutil.Ticks) osutil.Ticks           { return a + b }
func (f *fakeCoreServices) Exec(string, ...string) int                     { return 0 }
func (f *fakeCoreServices) RealDir(path string) (string, bool)             { return path, true }
func (f *fakeCoreServices) SubDirs(absPath string) ([]string, error)       { return f.subdirs[absPath], nil }
func (f *fakeCoreServices) Terminate(int)                                  {}
func (f *fakeCoreServices) WaitPids(pids []int, collect reaper.Collector) {}

func TestSyncWalksEntireTree(t *testing.T) {
	tr := New("/root")
	svc := newFakeCoreServices()
	require.NoError(t, tr.Sync(svc))
	assert.Equal(t, 3, tr.Len())
}

func TestSyncCalledTwiceAddsASecondWatchSet(t *testing.T) {
	// Tree keys its bookkeeping by watch descriptor, not path, so calling
	// Sync again after the kernel has already issued watches for the same
	// paths produces a second set of entries rather than deduplicating.
	tr := New("/root")
	svc := newFakeCoreServices()
	require.NoError(t, tr.Sync(svc))
	require.NoError(t, tr.Sync(svc))
	assert.Equal(t, 6, tr.Len())
}

func TestAddCreatedDirRegistersNewSubtree(t *testing.T) {
	tr := New("/root")
	svc := newFakeCoreServices()
	require.NoError(t, tr.Sync(svc))

	svc.subdirs["/root/c"] = nil
	require.NoError(t, tr.AddCreatedDir(svc, 1, "c"))
	assert.Equal(t, 4, tr.Len())
}

func TestRemoveWatchForgetsMapping(t *testing.T) {
	tr := New("/root")
	svc := newFakeCoreServices()
	require.NoError(t, tr.Sync(svc))

	tr.RemoveWatch(1)
	_, ok := tr.Path(1)
	assert.False(t, ok)
}
