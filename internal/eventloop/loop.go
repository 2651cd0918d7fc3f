// Package eventloop runs every callback of the client core on one goroutine.
//
// Transport events, timers and UI commands are all posted as closures and executed
// one at a time, so components never need locks around their own state. Blocking work
// (dialing, media permission prompts, REST calls) runs through Background and re-enters
// the loop with its result.
package eventloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtchat/internal/logger"
)

// Timer is a retained handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback. After Stop returns the callback will not run,
	// even if its deadline already passed and it was queued.
	Stop() bool
}

// Scheduler is the surface components depend on; Loop and Manual implement it.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
	Background(work func(), done func())
	Now() time.Time
}

// Loop is the production scheduler backed by a single goroutine.
// Lifecycle: New -> Start -> [Post/AfterFunc/Do] -> Stop.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop terminates the loop; queued callbacks that have not run yet are dropped.
// Safe to call multiple times.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.quit)
	})
	<-l.done
}

// Post enqueues fn. It never blocks, so it is safe from any goroutine including the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it. Must not be called from the loop goroutine.
func (l *Loop) Do(fn func()) {
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

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) Background(work func(), done func()) {
	go func() {
		work()
		l.Post(done)
	}()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return t
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				select {
				case <-l.quit:
					return
				default:
				}
				l.exec(fn)
			}
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("eventloop: panic recovered: %v", r)
		}
	}()
	fn()
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type loopTimer struct {
	timer *time.Timer
	state atomic.Int32
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.state.CompareAndSwap(timerPending, timerStopped)
}
