package eventloop

import (
	"sort"
	"time"
)

// Manual is a deterministic single-goroutine Scheduler with virtual time, used by tests.
// Posted callbacks run immediately (in FIFO order) unless a callback is already running,
// timers only fire from Advance, and Background runs its work inline.
type Manual struct {
	now     time.Time
	queue   []func()
	timers  []*manualTimer
	seq     int
	running bool
}

func NewManual() *Manual {
	return &Manual{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *Manual) Now() time.Time { return m.now }

func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
	m.drain()
}

func (m *Manual) Background(work func(), done func()) {
	work()
	m.Post(done)
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.due
		t.fired = true
		m.Post(t.fn)
	}
	m.now = target
}

// Pending returns the number of timers that are neither fired nor stopped.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(limit time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})
	if len(m.timers) == 0 || m.timers[0].due.After(limit) {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) drain() {
	if m.running {
		return
	}
	m.running = true
	defer func() { m.running = false }()
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

type manualTimer struct {
	due     time.Time
	seq     int
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
