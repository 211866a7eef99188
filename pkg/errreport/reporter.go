package errreport

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the number of reports kept before the oldest is overwritten.
const DefaultCapacity = 50

type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Critical Health = "critical"
)

const healthWindow = time.Minute

type Report struct {
	Kind    Kind
	Message string
	Context string
	Time    time.Time
}

// Reporter keeps the most recent error reports in a fixed-size ring.
type Reporter struct {
	mu    sync.Mutex
	buf   []Report
	head  int // index of the oldest report
	size  int
	now   func() time.Time
	onErr func(Report)
}

func New(capacity int) *Reporter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reporter{
		buf: make([]Report, capacity),
		now: time.Now,
	}
}

// OnReport registers a callback invoked after every report, outside the lock.
func (r *Reporter) OnReport(fn func(Report)) {
	r.mu.Lock()
	r.onErr = fn
	r.mu.Unlock()
}

// Report records err under the kind carried by its OpError, or fallback when there is none.
func (r *Reporter) Report(fallback Kind, context string, err error) Report {
	if err == nil {
		return Report{}
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return r.Add(kind, context, err.Error())
}

func (r *Reporter) Add(kind Kind, context, message string) Report {
	r.mu.Lock()
	rep := Report{Kind: kind, Message: message, Context: context, Time: r.now()}
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = rep
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
	cb := r.onErr
	r.mu.Unlock()

	log.Error().
		Str("kind", kind.String()).
		Str("context", context).
		Bool("recoverable", kind.Recoverable()).
		Msg(message)
	if cb != nil {
		cb(rep)
	}
	return rep
}

// Recent returns up to n reports, newest first.
func (r *Reporter) Recent(n int) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Report, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.size - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *Reporter) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	r.each(func(rep Report) {
		if rep.Kind == kind {
			count++
		}
	})
	return count
}

// HasRecent reports whether a report of kind was recorded within window.
func (r *Reporter) HasRecent(kind Kind, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-window)
	found := false
	r.each(func(rep Report) {
		if rep.Kind == kind && rep.Time.After(cutoff) {
			found = true
		}
	})
	return found
}

// Health classifies the last minute of reports.
func (r *Reporter) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-healthWindow)
	recent := 0
	r.each(func(rep Report) {
		if rep.Time.After(cutoff) {
			recent++
		}
	})
	switch {
	case recent == 0:
		return Healthy
	case recent < 3:
		return Degraded
	default:
		return Critical
	}
}

func (r *Reporter) Clear() {
	r.mu.Lock()
	r.head, r.size = 0, 0
	r.mu.Unlock()
}

// each must be called with the lock held.
func (r *Reporter) each(fn func(Report)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}
