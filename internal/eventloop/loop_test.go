package eventloop

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mil-ad/audioswitch/internal/logger"
)

func TestSerialRunsInOrder(t *testing.T) {
	l := New(logger.Discard())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	if err := l.Start(); err == nil {
		t.Error("expected error starting a running loop")
	}

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		if err := l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	wg.Wait()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestSerialSurvivesPanic(t *testing.T) {
	l := New(logger.Discard())
	_ = l.Start()
	defer l.Stop()

	done := make(chan struct{})
	_ = l.Post(func() { panic("boom") })
	_ = l.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not recover from panic")
	}
}

func TestSerialPostAfterStop(t *testing.T) {
	l := New(logger.Discard())
	_ = l.Start()
	l.Stop()
	if err := l.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Post after Stop = %v, want ErrClosed", err)
	}
	l.Stop()
}

func TestSerialTimerStop(t *testing.T) {
	l := New(logger.Discard())
	_ = l.Start()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	if !tm.Stop() {
		t.Fatal("Stop on pending timer should report true")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestSerialStoppedWhileQueued(t *testing.T) {
	l := New(logger.Discard())
	_ = l.Start()
	defer l.Stop()

	block := make(chan struct{})
	_ = l.Post(func() { <-block })

	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
	// Let the timer enqueue its callback behind the blocked function.
	time.Sleep(20 * time.Millisecond)
	tm.Stop()
	close(block)

	done := make(chan struct{})
	_ = l.Post(func() { close(done) })
	<-done
	select {
	case <-fired:
		t.Fatal("callback ran after Stop")
	default:
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManual(start)

	var got []string
	m.AfterFunc(300*time.Millisecond, func() { got = append(got, "b") })
	m.AfterFunc(100*time.Millisecond, func() {
		got = append(got, "a")
		m.AfterFunc(100*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := m.AfterFunc(150*time.Millisecond, func() { got = append(got, "never") })
	stopped.Stop()

	if m.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", m.Pending())
	}
	m.Advance(250 * time.Millisecond)
	if want := []string{"a", "a2"}; !equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !m.Now().Equal(start.Add(250 * time.Millisecond)) {
		t.Fatalf("Now = %v", m.Now())
	}
	m.Advance(time.Second)
	if want := []string{"a", "a2", "b"}; !equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if m.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", m.Pending())
	}
}

func TestManualTimerSeesItsDeadline(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewManual(start)
	var at time.Time
	m.AfterFunc(500*time.Millisecond, func() { at = m.Now() })
	m.Advance(2 * time.Second)
	if !at.Equal(start.Add(500 * time.Millisecond)) {
		t.Fatalf("timer observed %v", at)
	}
}

func TestManualFlushAndClose(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	n := 0
	_ = m.Post(func() {
		n++
		_ = m.Post(func() { n++ })
	})
	m.Flush()
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	m.Close()
	if err := m.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Post after Close = %v", err)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
