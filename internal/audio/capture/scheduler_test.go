package capture

import (
	"sync"
	"testing"
	"time"
)

type fakeGate struct {
	mu       sync.Mutex
	inFlight bool
	bytes    int
	speaking int
}

func (g *fakeGate) ResponseInFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *fakeGate) AddSpeechBytes(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bytes += n
	return g.bytes
}

func (g *fakeGate) ResetSpeechBytes() {
	g.mu.Lock()
	g.bytes = 0
	g.mu.Unlock()
}

func (g *fakeGate) MarkGuestSpeaking() {
	g.mu.Lock()
	g.speaking++
	g.mu.Unlock()
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func newTestScheduler(gate *fakeGate, commit func()) (*Scheduler, *[]*fakeTimer) {
	s := NewScheduler(gate, commit)
	timers := &[]*fakeTimer{}
	s.afterFunc = func(d time.Duration, f func()) stopper {
		ft := &fakeTimer{d: d, f: f}
		*timers = append(*timers, ft)
		return ft
	}
	return s, timers
}

func speech(n int) Frame {
	return Frame{PCM: make([]byte, n), HasSpeech: true}
}

func TestSchedulerWaitsForMinimumBytes(t *testing.T) {
	gate := &fakeGate{}
	commits := 0
	s, timers := newTestScheduler(gate, func() { commits++ })

	s.Observe(speech(8192))
	s.Observe(speech(8192))
	s.Observe(speech(8192))
	if len(*timers) != 0 || s.Pending() {
		t.Fatalf("scheduled before 32000 bytes (have %d)", gate.bytes)
	}
	s.Observe(speech(8192))
	if len(*timers) != 1 || !s.Pending() {
		t.Fatalf("timers = %d after 32768 bytes", len(*timers))
	}
	if (*timers)[0].d != 2*time.Second {
		t.Errorf("delay = %v, want 2s", (*timers)[0].d)
	}
	(*timers)[0].f()
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
	if gate.bytes != 0 {
		t.Errorf("accumulator = %d after commit, want 0", gate.bytes)
	}
	if gate.speaking != 4 {
		t.Errorf("speaking marks = %d, want 4", gate.speaking)
	}
}

func TestSchedulerDebounces(t *testing.T) {
	gate := &fakeGate{bytes: 40000}
	commits := 0
	s, timers := newTestScheduler(gate, func() { commits++ })

	s.Observe(speech(100))
	s.Observe(speech(100))
	if len(*timers) != 2 {
		t.Fatalf("timers = %d, want 2", len(*timers))
	}
	if !(*timers)[0].stopped {
		t.Error("first timer not stopped by new speech")
	}
	// a stale callback racing with Stop must not commit
	(*timers)[0].f()
	if commits != 0 {
		t.Fatalf("stale timer committed")
	}
	(*timers)[1].f()
	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestSchedulerIgnoresSilenceAndInFlight(t *testing.T) {
	gate := &fakeGate{bytes: 40000, inFlight: true}
	s, timers := newTestScheduler(gate, func() { t.Error("commit while response in flight") })

	s.Observe(Frame{PCM: make([]byte, 8192)})
	if gate.bytes != 40000 {
		t.Errorf("silent frame counted")
	}
	s.Observe(speech(8192))
	if len(*timers) != 0 {
		t.Errorf("scheduled while in flight")
	}
}

func TestSchedulerStop(t *testing.T) {
	gate := &fakeGate{bytes: 40000}
	s, timers := newTestScheduler(gate, func() { t.Error("commit after Stop") })
	s.Observe(speech(10))
	s.Stop()
	if s.Pending() || !(*timers)[0].stopped {
		t.Fatal("Stop did not cancel the timer")
	}
	(*timers)[0].f()
}

func TestSchedulerRealTimer(t *testing.T) {
	gate := &fakeGate{bytes: 40000}
	done := make(chan struct{})
	s := NewScheduler(gate, func() { close(done) })
	s.delay = 10 * time.Millisecond
	s.Observe(speech(10))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("commit never fired")
	}
}
