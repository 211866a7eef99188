package relay

import (
	"sync"
	"testing"

	"voice-relay/internal/audio/capture"
)

var _ capture.TurnGate = (*Turn)(nil)

func TestTurnSingleFlight(t *testing.T) {
	turn := NewTurn()
	if !turn.BeginResponse() {
		t.Fatal("first BeginResponse refused")
	}
	if turn.BeginResponse() {
		t.Fatal("second BeginResponse allowed while in flight")
	}
	turn.EndResponse()
	if turn.ResponseInFlight() {
		t.Fatal("still in flight after EndResponse")
	}
	if !turn.BeginResponse() {
		t.Fatal("BeginResponse refused after completion")
	}
}

func TestTurnConcurrentBeginResponse(t *testing.T) {
	turn := NewTurn()
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if turn.BeginResponse() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("granted %d responses, want 1", granted)
	}
}

func TestTurnSpeakerTransitions(t *testing.T) {
	turn := NewTurn()
	var seen []Speaker
	turn.OnChange(func(s Speaker) { seen = append(seen, s) })

	turn.MarkGuestSpeaking()
	turn.MarkGuestSpeaking()
	turn.SetSpeaker(SpeakerAI)
	turn.EndResponse()

	want := []Speaker{SpeakerGuest, SpeakerAI, SpeakerNone}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
	if turn.Speaker() != SpeakerNone {
		t.Fatalf("speaker = %s", turn.Speaker())
	}
}

func TestTurnSpeechBytes(t *testing.T) {
	turn := NewTurn()
	turn.AddSpeechBytes(8192)
	if got := turn.AddSpeechBytes(8192); got != 16384 {
		t.Fatalf("total = %d", got)
	}
	turn.BeginResponse()
	turn.Reset()
	if turn.SpeechBytes() != 0 || turn.ResponseInFlight() || turn.Speaker() != SpeakerNone {
		t.Fatal("reset left state behind")
	}
}
