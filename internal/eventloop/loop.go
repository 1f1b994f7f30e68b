// Package eventloop runs every village mutation on one goroutine. Other goroutines
// (network handlers, cron, signal handlers) hand work to it with Post or Do, and
// delayed work is scheduled with AfterFunc so it also lands on the loop.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrStopped = errors.New("eventloop: stopped")

type Timer interface {
	// Stop cancels the callback. It reports false if it already ran or was stopped.
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type Loop struct {
	inbox chan func()
	done  chan struct{}
	once  sync.Once
}

func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{inbox: make(chan func(), buffer), done: make(chan struct{})}
}

// Run executes posted funcs in order until ctx is cancelled. Work still queued at
// that point is run before Run returns so save-on-exit requests are not lost.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return ctx.Err()
		case fn := <-l.inbox:
			fn()
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.inbox:
			fn()
		default:
			return
		}
	}
}

func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// Run drains before closing done, so fn has either run or never will.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

type loopTimer struct {
	t     *time.Timer
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.t.Stop()
	// Claiming fired here blocks a callback that was already queued on the loop.
	return t.fired.CompareAndSwap(false, true)
}
