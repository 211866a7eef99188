package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Speaker is who currently holds the conversation turn.
type Speaker int

const (
	SpeakerNone Speaker = iota
	SpeakerGuest
	SpeakerAI
)

func (s Speaker) String() string {
	switch s {
	case SpeakerGuest:
		return "guest"
	case SpeakerAI:
		return "ai"
	default:
		return "none"
	}
}

// Turn is the conversation turn state shared by the speech detector and the
// speech service events. Writes are last-write-wins.
type Turn struct {
	mu          sync.Mutex
	speaker     Speaker
	inFlight    bool
	speechBytes int
	onChange    func(Speaker)
}

func NewTurn() *Turn {
	return &Turn{}
}

// OnChange registers fn to observe speaker changes.
func (t *Turn) OnChange(fn func(Speaker)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Turn) Speaker() Speaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaker
}

func (t *Turn) SetSpeaker(s Speaker) {
	t.mu.Lock()
	if t.speaker == s {
		t.mu.Unlock()
		return
	}
	t.speaker = s
	fn := t.onChange
	t.mu.Unlock()

	log.Debug().Str("speaker", s.String()).Msg("Turn changed")
	if fn != nil {
		fn(s)
	}
}

func (t *Turn) MarkGuestSpeaking() {
	t.SetSpeaker(SpeakerGuest)
}

// BeginResponse claims the single response slot. It returns false when a
// response is already in flight.
func (t *Turn) BeginResponse() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight {
		return false
	}
	t.inFlight = true
	return true
}

// EndResponse releases the response slot and hands the turn back to nobody.
func (t *Turn) EndResponse() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
	t.SetSpeaker(SpeakerNone)
}

func (t *Turn) ResponseInFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// AddSpeechBytes grows the buffered speech count and returns the total.
func (t *Turn) AddSpeechBytes(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speechBytes += n
	return t.speechBytes
}

func (t *Turn) ResetSpeechBytes() {
	t.mu.Lock()
	t.speechBytes = 0
	t.mu.Unlock()
}

func (t *Turn) SpeechBytes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speechBytes
}

// Reset returns to the initial state, used on teardown.
func (t *Turn) Reset() {
	t.mu.Lock()
	t.inFlight = false
	t.speechBytes = 0
	t.mu.Unlock()
	t.SetSpeaker(SpeakerNone)
}
