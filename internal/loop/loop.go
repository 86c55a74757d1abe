// Package loop runs a session's deferred work on one goroutine so that
// delayed follow-ups never race each other.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Loop is a single-worker job queue with clock-driven timers.
type Loop struct {
	jobs   chan func()
	clock  clockwork.Clock
	logger *zap.Logger

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	timers  map[uint64]clockwork.Timer
	nextID  uint64
	stopped bool
}

// New creates a loop. Call Start before submitting.
func New(clock clockwork.Clock, queueSize int, logger *zap.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		jobs:   make(chan func(), queueSize),
		clock:  clock,
		logger: logger,
		quit:   make(chan struct{}),
		timers: make(map[uint64]clockwork.Timer),
	}
}

// Start 启动事件循环
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case job := <-l.jobs:
				l.run(job)
			case <-l.quit:
				return
			}
		}
	}()
}

func (l *Loop) run(job func()) {
	// 防止单个任务 panic 导致循环退出
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop job panic", zap.Any("panic", r))
		}
	}()
	job()
}

// Submit queues job. It blocks while the queue is full and reports false
// once the loop is stopped.
func (l *Loop) Submit(job func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.jobs <- job:
		return true
	case <-l.quit:
		return false
	}
}

// After runs job on the loop once d has elapsed on the loop's clock. The
// returned cancel func is safe to call more than once.
func (l *Loop) After(d time.Duration, job func()) (cancel func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return func() {}
	}
	l.nextID++
	id := l.nextID
	// placeholder so a timer that fires before registration is still seen as live
	l.timers[id] = nil
	l.mu.Unlock()

	fire := func() {
		l.mu.Lock()
		_, live := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if live {
			l.Submit(job)
		}
	}

	if d <= 0 {
		go fire()
	} else {
		t := l.clock.AfterFunc(d, fire)
		l.mu.Lock()
		if _, live := l.timers[id]; live {
			l.timers[id] = t
		}
		l.mu.Unlock()
	}

	return func() {
		l.mu.Lock()
		t, ok := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if ok && t != nil {
			t.Stop()
		}
	}
}

// CancelAll drops every timer that has not fired yet.
func (l *Loop) CancelAll() {
	l.mu.Lock()
	timers := l.timers
	l.timers = make(map[uint64]clockwork.Timer)
	l.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}

// Pending counts armed timers plus queued jobs.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers) + len(l.jobs)
}

// Stop cancels timers and waits for the running job to finish. It must not
// be called from inside a loop job.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		l.CancelAll()
		close(l.quit)
		l.wg.Wait()
	})
}

// Wait blocks for d on clock, returning early with ctx's error. A
// non-positive d only checks ctx.
func Wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
