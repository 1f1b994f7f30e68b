package eventloop

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by Advance. Callbacks run on the caller's goroutine,
// which stands in for the loop in tests and in offline tools.
type Manual struct {
	now     time.Duration
	seq     uint64
	pending []*manualTimer
}

func NewManual() *Manual { return &Manual{} }

type manualTimer struct {
	m       *Manual
	due     time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{m: m, due: m.now + d, seq: m.seq, fn: fn}
	m.pending = append(m.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, p := range t.m.pending {
		if p == t {
			t.m.pending = append(t.m.pending[:i], t.m.pending[i+1:]...)
			break
		}
	}
	return true
}

// Advance moves the clock forward and fires every callback that became due, in
// due order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		sort.SliceStable(m.pending, func(i, j int) bool {
			if m.pending[i].due != m.pending[j].due {
				return m.pending[i].due < m.pending[j].due
			}
			return m.pending[i].seq < m.pending[j].seq
		})
		if len(m.pending) == 0 || m.pending[0].due > target {
			break
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.now = t.due
		t.stopped = true
		t.fn()
	}
	m.now = target
}

func (m *Manual) Pending() int { return len(m.pending) }
