// Package schedule serializes all session work onto one event loop and
// provides the cancellable repeating timer shared by the frame loop, the
// export capture loop and the export progress poll.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token cancels a scheduled task. Cancel is idempotent and safe from any
// goroutine; once it returns on the loop goroutine the task never runs again.
type Token interface {
	Cancel()
}

type Scheduler interface {
	// Schedule runs tick on the loop every interval until the token is cancelled.
	Schedule(interval time.Duration, tick func(now time.Time)) Token
	// Post queues fn to run once on the loop. Safe from any goroutine.
	Post(fn func())
	// Call runs fn on the loop and waits for it. Must not be called from the loop.
	Call(fn func())
	// Now reports the scheduler's notion of current time.
	Now() time.Time
}

// After runs fn once after d and returns a token that can cancel it first.
func After(s Scheduler, d time.Duration, fn func()) Token {
	var token Token
	fired := false
	token = s.Schedule(d, func(time.Time) {
		if fired {
			return
		}
		fired = true
		token.Cancel()
		fn()
	})
	return token
}

type task struct {
	cancelled atomic.Bool
	pending   atomic.Bool
	stop      chan struct{}
	once      sync.Once
}

func (t *task) Cancel() {
	t.cancelled.Store(true)
	t.once.Do(func() { close(t.stop) })
}

// Loop is the production scheduler: a single goroutine draining a task queue.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run executes queued tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Stop ends Run; pending and future posts are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *Loop) Call(fn func()) {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
	case <-l.done:
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) Schedule(interval time.Duration, tick func(now time.Time)) Token {
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := &task{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				// Coalesce like a display refresh: skip while the previous tick is queued.
				if !t.pending.CompareAndSwap(false, true) {
					continue
				}
				l.Post(func() {
					t.pending.Store(false)
					if t.cancelled.Load() {
						return
					}
					tick(now)
				})
			case <-t.stop:
				return
			case <-l.done:
				return
			}
		}
	}()
	return t
}
