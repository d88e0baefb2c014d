package mirror

import (
	"testing"

	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/event"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/policy"
	"github.com/davideuler/lsyncd/internal/reaper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSvc struct {
	now      osutil.Ticks
	wds      map[int32]string
	execs    [][]string
	execPid  int
	waited   [][]int
}

func newFakeSvc() *fakeSvc {
	return &fakeSvc{
		wds:     make(map[int32]string),
		execPid: 42,
	}
}

func (f *fakeSvc) AddWatch(path string) (int32, error) {
	wd := int32(len(f.wds) + 1)
	f.wds[wd] = path
	return wd, nil
}
func (f *fakeSvc) Log(corelog.Level, string)                  {}
func (f *fakeSvc) Logf(corelog.Level, string, ...interface{}) {}
func (f *fakeSvc) Now() osutil.Ticks                           { return f.now }
func (f *fakeSvc) Addup(a, b osutil.Ticks) osutil.Ticks         { return a + b }
func (f *fakeSvc) Exec(binary string, args ...string) int {
	f.execs = append(f.execs, append([]string{binary}, args...))
	return f.execPid
}
func (f *fakeSvc) RealDir(path string) (string, bool)       { return path, true }
func (f *fakeSvc) SubDirs(absPath string) ([]string, error) { return nil, nil }
func (f *fakeSvc) Terminate(int)                            {}
func (f *fakeSvc) WaitPids(pids []int, collect reaper.Collector) {
	f.waited = append(f.waited, pids)
	for _, pid := range pids {
		if collect != nil {
			collect(pid, 0)
		}
	}
}

func TestInitializeWatchesRootAndArmsInitialSync(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))

	state, _ := p.GetAlarm(svc.now)
	assert.Equal(t, policy.Waiting, state)
}

func TestGetAlarmFlushesOnceDelayElapsed(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))

	svc.now += 10
	state, _ := p.GetAlarm(svc.now)
	assert.Equal(t, policy.Idle, state, "pending batch must flush and leave the policy idle")
	require.Len(t, svc.execs, 1)
	assert.Contains(t, svc.execs[0], "rsync")
	require.Len(t, svc.waited, 1)
}

func TestEventMarksRelativePathDirtyAndRearms(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))
	svc.now += 10
	p.GetAlarm(svc.now) // drain the initial full-sync batch

	require.NoError(t, p.Event(event.Event{Kind: event.Modify, Watch: 1, Name: "a.txt"}))
	state, _ := p.GetAlarm(svc.now)
	assert.Equal(t, policy.Waiting, state)
}

func TestEventOnUnknownWatchIsAnError(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))
	err := p.Event(event.Event{Kind: event.Modify, Watch: 99, Name: "a.txt"})
	assert.Error(t, err)
}

func TestFileDeleteDoesNotForgetContainingDirectoryWatch(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))

	require.NoError(t, p.Event(event.Event{Kind: event.Delete, Watch: 1, Name: "a.txt"}))
	// The watch on /src itself must still be live: a later event on the
	// same watch must not fail as "unknown watch".
	require.NoError(t, p.Event(event.Event{Kind: event.Modify, Watch: 1, Name: "b.txt"}))
}

func TestDirectorySelfDeleteForgetsItsOwnWatch(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))

	require.NoError(t, p.Event(event.Event{Kind: event.Delete, Watch: 1, Name: ""}))
	err := p.Event(event.Event{Kind: event.Modify, Watch: 1, Name: "b.txt"})
	assert.Error(t, err, "the watch for the removed directory must be forgotten")
}

func TestOverflowForcesFullResync(t *testing.T) {
	svc := newFakeSvc()
	p := New(Config{Source: "/src", Target: "backup:/dst", Delay: 5})
	require.NoError(t, p.Initialize(svc))
	svc.now += 10
	p.GetAlarm(svc.now) // drain initial sync

	require.NoError(t, p.Overflow())
	svc.now += 10
	state, _ := p.GetAlarm(svc.now)
	assert.Equal(t, policy.Idle, state)
	assert.Len(t, svc.execs, 2)
}

func TestRsyncArgsExcludePatternsAreApplied(t *testing.T) {
	p := New(Config{Source: "/src", Target: "backup:/dst", Excludes: []string{"*.tmp"}})
	args := p.rsyncArgs([]string{"."})
	assert.Contains(t, args, "--exclude")
	assert.Contains(t, args, "*.tmp")
	assert.Equal(t, "/src/", args[len(args)-2])
	assert.Equal(t, "backup:/dst", args[len(args)-1])
}
