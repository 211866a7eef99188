package capture

import (
	"sync"
	"time"

	"voice-relay/internal/audio/config"

	"github.com/rs/zerolog/log"
)

// TurnGate is the conversation state the scheduler reads and updates.
type TurnGate interface {
	ResponseInFlight() bool
	AddSpeechBytes(n int) int
	ResetSpeechBytes()
	MarkGuestSpeaking()
}

type stopper interface {
	Stop() bool
}

// Scheduler debounces "commit and request response" behind accumulated speech.
type Scheduler struct {
	gate     TurnGate
	commit   func()
	minBytes int
	delay    time.Duration

	afterFunc func(time.Duration, func()) stopper

	mu    sync.Mutex
	timer stopper
	gen   uint64
}

func NewScheduler(gate TurnGate, commit func()) *Scheduler {
	return &Scheduler{
		gate:     gate,
		commit:   commit,
		minBytes: config.MinSpeechBytes,
		delay:    config.CommitDelay,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Observe feeds one captured frame. Frames without speech are ignored.
func (s *Scheduler) Observe(frame Frame) {
	if !frame.HasSpeech {
		return
	}
	s.gate.MarkGuestSpeaking()
	total := s.gate.AddSpeechBytes(len(frame.PCM))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	if total < s.minBytes || s.gate.ResponseInFlight() {
		return
	}
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	log.Debug().Msg("Silence confirmed, committing buffered speech")
	s.gate.ResetSpeechBytes()
	s.commit()
}

// Pending reports whether a commit is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Stop cancels any scheduled commit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
