package schedule

import (
	"sync"
	"time"
)

// Manual is a virtual-time scheduler. Nothing runs until the owner calls
// Advance or Drain, and everything runs on the caller's goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
}

type manualTimer struct {
	interval  time.Duration
	next      time.Time
	tick      func(time.Time)
	cancelled bool
	owner     *Manual
}

func (t *manualTimer) Cancel() {
	t.owner.mu.Lock()
	t.cancelled = true
	t.owner.mu.Unlock()
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Call runs fn immediately: the caller is treated as the loop goroutine.
func (m *Manual) Call(fn func()) {
	fn()
	m.Drain()
}

func (m *Manual) Schedule(interval time.Duration, tick func(now time.Time)) Token {
	if interval <= 0 {
		interval = time.Millisecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{interval: interval, next: m.now.Add(interval), tick: tick, owner: m}
	m.timers = append(m.timers, t)
	return t
}

// Drain runs queued posts, including posts made while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves virtual time forward by d, firing due ticks in time order
// and draining posts after each one.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.Drain()
	for {
		m.mu.Lock()
		var due *manualTimer
		for _, t := range m.timers {
			if t.cancelled || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			m.now = target
			m.compact()
			m.mu.Unlock()
			break
		}
		m.now = due.next
		due.next = due.next.Add(due.interval)
		now := m.now
		m.mu.Unlock()

		due.tick(now)
		m.Drain()
	}
	m.Drain()
}

// Active reports how many timers are still live.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (m *Manual) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live
}
