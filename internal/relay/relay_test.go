package relay

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"voice-relay/internal/audio/config"
	"voice-relay/internal/rtc"
	"voice-relay/internal/signaling"
	"voice-relay/internal/speech"
	appconfig "voice-relay/pkg/config"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/retry"

	"github.com/pion/webrtc/v4"
)

type sentOffer struct {
	target    string
	sessionID string
}

type fakeSignaling struct {
	events chan signaling.Event
	done   chan struct{}

	mu           sync.Mutex
	offers       []sentOffer
	answers      []string
	speech       []string
	joined       string
	disconnected bool
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{
		events: make(chan signaling.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeSignaling) Events() <-chan signaling.Event { return f.events }
func (f *fakeSignaling) Done() <-chan struct{}         { return f.done }

func (f *fakeSignaling) SendOffer(target string, _ webrtc.SessionDescription, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, sentOffer{target: target, sessionID: sessionID})
	return nil
}

func (f *fakeSignaling) SendAnswer(target string, _ webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, target)
	return nil
}

func (f *fakeSignaling) SendCandidate(string, webrtc.ICECandidateInit, string) error {
	return nil
}

func (f *fakeSignaling) CreateRoom(context.Context, string) (string, error) {
	return "abc123", nil
}

func (f *fakeSignaling) ConnectSpeech(context.Context) error { return nil }

func (f *fakeSignaling) DisconnectSpeech() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeSignaling) SendSpeechMessage(event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speech = append(f.speech, event.(map[string]any)["type"].(string))
	return nil
}

func (f *fakeSignaling) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = roomID
	return nil
}

func (f *fakeSignaling) speechTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.speech...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testConfig() appconfig.Config {
	cfg := appconfig.Default()
	cfg.ICE = appconfig.ICE{}
	return cfg
}

func newTestHost(t *testing.T, sig *fakeSignaling) (*Host, *errreport.Reporter) {
	t.Helper()
	audio := config.NewPCMUConfig()
	api, err := rtc.NewAPI(audio)
	if err != nil {
		t.Fatal(err)
	}
	reporter := errreport.New(10)
	h, err := NewHost(sig, HostOptions{
		Name:     "Alice",
		Config:   testConfig(),
		Audio:    audio,
		API:      api,
		Reporter: reporter,
	})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return h, reporter
}

func TestHostRoutesSpeechEvents(t *testing.T) {
	h, reporter := newTestHost(t, newFakeSignaling())

	fragment := base64.StdEncoding.EncodeToString(make([]byte, 480))
	h.handleSpeech([]byte(`{"type":"response.audio.delta","delta":"` + fragment + `"}`))
	if h.playback.Queued() != 1 {
		t.Fatalf("queued = %d, want 1", h.playback.Queued())
	}
	if h.Turn().Speaker() != SpeakerAI {
		t.Fatalf("speaker = %s, want ai", h.Turn().Speaker())
	}

	h.Turn().BeginResponse()
	h.handleSpeech([]byte(`{"type":"response.done"}`))
	if h.Turn().ResponseInFlight() || h.Turn().Speaker() != SpeakerNone {
		t.Fatal("response.done did not end the turn")
	}

	h.handleSpeech([]byte(`{"type":`))
	if reporter.Count(errreport.KindMalformed) != 1 {
		t.Fatal("malformed message not reported")
	}
	h.handleSpeech([]byte(`{"type":"error","error":{"message":"rate limited"}}`))
	if reporter.Count(errreport.KindUpstream) != 1 {
		t.Fatal("upstream error not reported")
	}
}

func TestHostRequestResponseSingleFlight(t *testing.T) {
	sig := newFakeSignaling()
	h, _ := newTestHost(t, sig)

	h.requestResponse()
	h.requestResponse()
	got := sig.speechTypes()
	if len(got) != 2 || got[0] != speech.EventAudioCommit || got[1] != speech.EventResponseCreate {
		t.Fatalf("sent %v", got)
	}

	h.handleSpeech([]byte(`{"type":"response.done"}`))
	h.requestResponse()
	if n := len(sig.speechTypes()); n != 4 {
		t.Fatalf("sent %d events after completion, want 4", n)
	}
}

func TestHostOffersToJoiningGuest(t *testing.T) {
	sig := newFakeSignaling()
	h, _ := newTestHost(t, sig)
	rooms := make(chan string, 1)
	h.opts.OnRoom = func(id string) { rooms <- id }

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	select {
	case id := <-rooms:
		if id != "abc123" {
			t.Fatalf("room = %q", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("room not created")
	}

	sig.events <- signaling.UserJoined{ConnID: "guest-1"}
	eventually(t, "offer", func() bool {
		sig.mu.Lock()
		defer sig.mu.Unlock()
		return len(sig.offers) == 1
	})
	sig.mu.Lock()
	offer := sig.offers[0]
	sig.mu.Unlock()
	if offer.target != "guest-1" || offer.sessionID == "" {
		t.Fatalf("offer = %+v", offer)
	}
	if s := h.Session(); s == nil || s.SessionID() != offer.sessionID {
		t.Fatal("offer does not belong to the current session")
	}

	sig.events <- signaling.UserLeft{ConnID: "guest-1"}
	eventually(t, "teardown", func() bool { return h.Session() == nil })

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if !sig.disconnected {
		t.Fatal("speech service not disconnected on exit")
	}
}

func (f *fakeSignaling) offerIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.offers))
	for i, o := range f.offers {
		ids[i] = o.sessionID
	}
	return ids
}

func TestHostRenegotiatesFailedSession(t *testing.T) {
	sig := newFakeSignaling()
	h, reporter := newTestHost(t, sig)
	h.opts.Policy = retry.Policy{Delays: []time.Duration{10 * time.Millisecond}, MaxAttempts: 3}
	rooms := make(chan string, 1)
	h.opts.OnRoom = func(id string) { rooms <- id }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	<-rooms

	sig.events <- signaling.UserJoined{ConnID: "guest-1"}
	eventually(t, "first offer", func() bool { return len(sig.offerIDs()) == 1 })
	first := h.Session()
	if first == nil {
		t.Fatal("no session after offer")
	}

	first.Fail()
	eventually(t, "second offer", func() bool { return len(sig.offerIDs()) == 2 })

	ids := sig.offerIDs()
	if ids[0] == "" || ids[1] == "" || ids[0] == ids[1] {
		t.Fatalf("offer session ids = %v, want two distinct ids", ids)
	}
	second := h.Session()
	if second == first || second.SessionID() != ids[1] {
		t.Fatal("renegotiation did not install a new session")
	}
	if first.Phase() != rtc.PhaseClosed || first.SessionID() != "" {
		t.Fatalf("failed session left phase=%s id=%q", first.Phase(), first.SessionID())
	}

	// candidates of the failed attempt are fenced off
	sig.events <- signaling.CandidateReceived{
		From:             "guest-1",
		CandidatePayload: signaling.CandidatePayload{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}, SessionID: ids[0]},
	}
	sig.events <- signaling.CandidateReceived{
		From:             "guest-1",
		CandidatePayload: signaling.CandidatePayload{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}, SessionID: ids[1]},
	}
	eventually(t, "current candidate queued", func() bool { return second.PendingCandidates() == 1 })

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reporter.Count(errreport.KindNegotiation) != 0 {
		t.Fatal("recovered attempt reported as a negotiation failure")
	}
}

func TestGuestAnswersOffer(t *testing.T) {
	audio := config.NewPCMUConfig()
	api, err := rtc.NewAPI(audio)
	if err != nil {
		t.Fatal(err)
	}

	var offer webrtc.SessionDescription
	var offerID string
	initiator := rtc.NewSession(rtc.Initiator, rtc.Options{
		API:      api,
		Audio:    audio,
		Signaler: offerCapture(func(o webrtc.SessionDescription, id string) { offer, offerID = o, id }),
	})
	defer initiator.Close()
	if err := initiator.StartInitiator(context.Background()); err != nil {
		t.Fatal(err)
	}

	sig := newFakeSignaling()
	g := NewGuest(sig, GuestOptions{RoomID: "abc123", Config: testConfig(), Audio: audio, API: api})
	defer g.teardown()

	g.session.HandleCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}, offerID)
	if err := g.handle(context.Background(), signaling.OfferReceived{
		From:         "host-1",
		OfferPayload: signaling.OfferPayload{Offer: offer, SessionID: offerID},
	}); err != nil {
		t.Fatal(err)
	}

	sig.mu.Lock()
	answers := append([]string(nil), sig.answers...)
	sig.mu.Unlock()
	if len(answers) != 1 || answers[0] != "host-1" {
		t.Fatalf("answers = %v", answers)
	}
	if g.Session().SessionID() != offerID {
		t.Fatalf("guest session = %q, want %q", g.Session().SessionID(), offerID)
	}
	if g.Session().PendingCandidates() != 0 {
		t.Fatal("queued candidate was not flushed")
	}

	if err := g.handle(context.Background(), signaling.UserLeft{ConnID: "host-1"}); err != ErrHostLeft {
		t.Fatalf("UserLeft = %v, want ErrHostLeft", err)
	}
}

type offerCapture func(webrtc.SessionDescription, string)

func (f offerCapture) SendOffer(o webrtc.SessionDescription, id string) error {
	f(o, id)
	return nil
}
func (offerCapture) SendAnswer(webrtc.SessionDescription) error          { return nil }
func (offerCapture) SendCandidate(webrtc.ICECandidateInit, string) error { return nil }
