package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is an ordered list of backoff delays and an attempt cap.
// Attempt n waits Delays[n-1] before running; the last delay repeats when attempts outnumber delays.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// DefaultPolicy waits 1s, 2s, 5s, 10s between attempts and gives up after 3.
func DefaultPolicy() Policy {
	return Policy{
		Delays:      []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second},
		MaxAttempts: 3,
	}
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if len(p.Delays) == 0 || n <= 0 {
		return 0
	}
	if n > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[n-1]
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateSucceeded
	StateExhausted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so that no further attempts are made.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Retrier runs one operation under a policy. It is single use.
type Retrier struct {
	policy Policy
	name   string

	mu       sync.Mutex
	state    State
	attempts int
	cancel   context.CancelFunc
}

func New(name string, p Policy) *Retrier {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return &Retrier{policy: p, name: name}
}

func (r *Retrier) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Retrier) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Cancel stops a pending wait or a running Do.
func (r *Retrier) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Retrier) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Do runs op until it succeeds, returns a Permanent error, the attempts run out or ctx ends.
// The first attempt runs immediately.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("retry: %s already used", r.name)
	}
	r.cancel = cancel
	r.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Delay(attempt - 1)
			r.setState(StateWaiting)
			log.Debug().Str("op", r.name).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying after backoff")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.setState(StateCancelled)
				return ctx.Err()
			case <-timer.C:
			}
		}

		r.mu.Lock()
		r.state = StateRunning
		r.attempts = attempt
		r.mu.Unlock()

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			r.setState(StateSucceeded)
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			r.setState(StateExhausted)
			return perm.err
		}
		if ctx.Err() != nil {
			r.setState(StateCancelled)
			return ctx.Err()
		}
		log.Warn().Err(lastErr).Str("op", r.name).Int("attempt", attempt).Msg("Attempt failed")
	}

	r.setState(StateExhausted)
	return fmt.Errorf("%w: %s: %w", ErrExhausted, r.name, lastErr)
}

// Do is a shorthand for New(name, p).Do(ctx, op).
func Do(ctx context.Context, name string, p Policy, op func(ctx context.Context, attempt int) error) error {
	return New(name, p).Do(ctx, op)
}
