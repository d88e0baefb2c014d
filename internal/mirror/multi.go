package mirror

import (
	"github.com/davideuler/lsyncd/internal/event"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/policy"
)

// Multi fans a single engine out across several sync pairs sharing one
// inotify instance and one master loop, the way lsyncd.lua's "sync{...}"
// calls each register their own watch tree against the one core the
// process runs.
type Multi struct {
	children []*Policy
}

// NewMulti builds a Multi policy for every given Config.
func NewMulti(cfgs []Config) *Multi {
	m := &Multi{children: make([]*Policy, 0, len(cfgs))}
	for _, cfg := range cfgs {
		m.children = append(m.children, New(cfg))
	}
	return m
}

func (m *Multi) Version() string { return "1" }

func (m *Multi) Initialize(svc policy.CoreServices) error {
	for _, c := range m.children {
		if err := c.Initialize(svc); err != nil {
			return err
		}
	}
	return nil
}

// GetAlarm returns the soonest alarm across every child, calling each
// child's GetAlarm in turn so a due child's side-effecting flush still
// happens exactly once per call.
func (m *Multi) GetAlarm(now osutil.Ticks) (policy.AlarmState, osutil.Ticks) {
	state := policy.Idle
	var soonest osutil.Ticks
	have := false
	for _, c := range m.children {
		s, at := c.GetAlarm(now)
		if s == policy.Idle {
			continue
		}
		if !have || osutil.After(soonest, at) {
			soonest = at
			have = true
		}
		state = policy.Waiting
	}
	if !have {
		return policy.Idle, 0
	}
	return state, soonest
}

// Event routes the event to whichever child's watch tree owns e.Watch. A
// watch descriptor belongs to exactly one child, since each registers its
// own non-overlapping root.
func (m *Multi) Event(e event.Event) error {
	for _, c := range m.children {
		if _, ok := c.tree.Path(e.Watch); ok {
			return c.Event(e)
		}
	}
	return nil
}

// Overflow forces every child to resync, since the kernel queue overflow
// is process-wide, not scoped to one watch.
func (m *Multi) Overflow() error {
	for _, c := range m.children {
		if err := c.Overflow(); err != nil {
			return err
		}
	}
	return nil
}
