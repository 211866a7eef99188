package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Delays: []time.Duration{time.Millisecond, 2 * time.Millisecond}, MaxAttempts: attempts}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if p.Delay(0) != 0 {
		t.Error("Delay(0) should be zero")
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	r := New("test", fastPolicy(3))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Errorf("attempt = %d, calls = %d", attempt, calls)
		}
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 || r.Attempts() != 3 {
		t.Errorf("calls = %d attempts = %d, want 3", calls, r.Attempts())
	}
	if r.State() != StateSucceeded {
		t.Errorf("state = %s", r.State())
	}
}

func TestDoExhausts(t *testing.T) {
	boom := errors.New("boom")
	r := New("test", fastPolicy(2))
	err := r.Do(context.Background(), func(context.Context, int) error { return boom })
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want exhausted wrapping boom", err)
	}
	if r.State() != StateExhausted || r.Attempts() != 2 {
		t.Errorf("state = %s attempts = %d", r.State(), r.Attempts())
	}
	if err := r.Do(context.Background(), func(context.Context, int) error { return nil }); err == nil {
		t.Error("second Do on a used retrier should fail")
	}
}

func TestPermanentStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), "perm", fastPolicy(5), func(context.Context, int) error {
		calls++
		return Permanent(fatal)
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestCancelDuringWait(t *testing.T) {
	r := New("cancel", Policy{Delays: []time.Duration{time.Hour}, MaxAttempts: 3})
	done := make(chan error, 1)
	go func() {
		done <- r.Do(context.Background(), func(context.Context, int) error { return errors.New("fail") })
	}()

	deadline := time.After(2 * time.Second)
	for r.State() != StateWaiting {
		select {
		case <-deadline:
			t.Fatal("retrier never entered waiting state")
		case <-time.After(time.Millisecond):
		}
	}
	r.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after Cancel")
	}
	if r.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", r.State())
	}
}
