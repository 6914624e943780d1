// Package eventloop serializes work onto a single logical queue.
//
// Every hardware notification, command and timer callback in audioswitch runs
// through a Loop, so the state it touches is only ever mutated by one function
// at a time. Timers returned by AfterFunc are delivered through the same
// queue; once Stop has been called their callback will not run, even if it
// was already queued.
package eventloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mil-ad/audioswitch/internal/logger"
)

// ErrClosed is returned when posting to a stopped loop.
var ErrClosed = errors.New("eventloop: closed")

// Timer is a handle to work scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it had already fired or been stopped.
	Stop() bool
}

// Loop is the scheduling surface the state machines depend on.
type Loop interface {
	Post(fn func()) error
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Serial runs posted functions one at a time on its own goroutine.
type Serial struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New returns a stopped loop. Functions posted before Start are kept and run
// once the loop starts.
func New(log *slog.Logger) *Serial {
	return &Serial{
		log:  logger.For(log, "eventloop"),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (l *Serial) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.running {
		return fmt.Errorf("eventloop: already running")
	}
	l.running = true
	go l.dispatch()
	return nil
}

// Stop closes the loop and waits for the function currently running, if any.
// Work still queued is dropped. Stop must not be called from the loop itself.
func (l *Serial) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	running := l.running
	l.queue = nil
	l.mu.Unlock()

	l.signal()
	if running {
		<-l.done
	}
}

// Post queues fn. It never blocks.
func (l *Serial) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// AfterFunc runs fn on the loop after d.
func (l *Serial) AfterFunc(d time.Duration, fn func()) Timer {
	t := &serialTimer{}
	t.t = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if t.stopped.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

func (l *Serial) Now() time.Time { return time.Now() }

func (l *Serial) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Serial) dispatch() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				return
			}
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.run(fn)
		}
	}
}

func (l *Serial) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("recovered panic in loop callback", "panic", r)
		}
	}()
	fn()
}

type serialTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *serialTimer) Stop() bool {
	t.t.Stop()
	return t.stopped.CompareAndSwap(false, true)
}
