package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"voice-relay/internal/audio/capture"
	"voice-relay/internal/audio/codec"
	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/playback"
	"voice-relay/internal/rtc"
	"voice-relay/internal/signaling"
	"voice-relay/internal/speech"
	appconfig "voice-relay/pkg/config"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/retry"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ConnectTimeout bounds one negotiation attempt.
const ConnectTimeout = 30 * time.Second

var ErrConnectTimeout = errors.New("peer did not connect in time")

type HostOptions struct {
	Name     string
	Config   appconfig.Config
	Audio    config.AudioConfig
	API      *webrtc.API
	Reporter *errreport.Reporter
	Policy   retry.Policy

	// OnRoom is called with the room code once the room exists.
	OnRoom func(roomID string)
	// OnLevel receives the meter reading of every guest frame.
	OnLevel func(level int)
}

// Host relays the guest's speech to the speech service and plays the
// synthesized answer back to the guest.
type Host struct {
	opts      HostOptions
	sig       HostSignaling
	peer      *peerSignaler
	remote    *speech.Remote
	turn      *Turn
	playback  *playback.Pipeline
	aiTrack   *webrtc.TrackLocalStaticSample
	scheduler *capture.Scheduler

	mu            sync.Mutex
	runCtx        context.Context
	roomID        string
	session       *rtc.Session
	cancelNeg     context.CancelFunc
	cancelCapture context.CancelFunc
}

func NewHost(sig HostSignaling, opts HostOptions) (*Host, error) {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Reporter == nil {
		opts.Reporter = errreport.New(errreport.DefaultCapacity)
	}

	aiTrack, err := rtc.NewOutboundTrack(opts.Audio, "ai", "assistant")
	if err != nil {
		return nil, err
	}
	pb, err := playback.NewPipeline(opts.Audio, aiTrack)
	if err != nil {
		return nil, err
	}

	h := &Host{
		opts:     opts,
		sig:      sig,
		peer:     &peerSignaler{sig: sig},
		remote:   speech.NewRemote(sig),
		turn:     NewTurn(),
		playback: pb,
		aiTrack:  aiTrack,
		runCtx:   context.Background(),
	}
	h.scheduler = capture.NewScheduler(h.turn, h.requestResponse)
	pb.OnStart = func(b playback.Buffer) {
		log.Debug().Int("index", b.Index).Int("samples", len(b.Samples)).Msg("Playing speech fragment")
	}
	return h, nil
}

func (h *Host) Turn() *Turn { return h.turn }

func (h *Host) RoomID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomID
}

// Session returns the current peer session, nil when no guest is connected.
func (h *Host) Session() *rtc.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Run opens the speech session, creates the room and serves guests until ctx ends.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.sig.ConnectSpeech(ctx); err != nil {
		h.opts.Reporter.Report(errreport.KindUpstream, "connect speech", err)
		return err
	}
	defer h.sig.DisconnectSpeech()

	roomID, err := h.sig.CreateRoom(ctx, h.opts.Name)
	if err != nil {
		h.opts.Reporter.Report(errreport.KindSignaling, "create room", err)
		return err
	}
	h.mu.Lock()
	h.runCtx = ctx
	h.roomID = roomID
	h.mu.Unlock()
	log.Info().Str("room", roomID).Str("host", h.opts.Name).Msg("Room created, waiting for a guest")
	if h.opts.OnRoom != nil {
		h.opts.OnRoom(roomID)
	}

	go func() {
		if err := h.playback.Run(ctx); err != nil {
			h.opts.Reporter.Report(errreport.KindAudio, "playback", err)
		}
	}()
	defer h.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.sig.Done():
			return errreport.Wrap(errreport.KindSignaling, "signaling", signaling.ErrClosed)
		case ev, ok := <-h.sig.Events():
			if !ok {
				return errreport.Wrap(errreport.KindSignaling, "signaling", signaling.ErrClosed)
			}
			h.handle(ctx, ev)
		}
	}
}

func (h *Host) handle(ctx context.Context, ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.UserJoined:
		log.Info().Str("conn", e.ConnID).Msg("Guest joined")
		h.peer.SetTarget(e.ConnID)
		h.startNegotiation(ctx)

	case signaling.UserLeft:
		if e.ConnID != h.peer.Target() {
			return
		}
		log.Info().Str("conn", e.ConnID).Msg("Guest left")
		h.peer.SetTarget("")
		h.teardown()

	case signaling.AnswerReceived:
		s := h.Session()
		if s == nil || e.From != h.peer.Target() {
			log.Debug().Str("conn", e.From).Msg("Ignoring answer without a matching session")
			return
		}
		if err := s.HandleAnswer(e.Answer); err != nil {
			log.Error().Err(err).Msg("Failed to apply answer")
			h.opts.Reporter.Report(errreport.KindNegotiation, "answer", err)
		}

	case signaling.CandidateReceived:
		if s := h.Session(); s != nil && e.From == h.peer.Target() {
			s.HandleCandidate(e.Candidate, e.SessionID)
		}

	case signaling.SpeechMessage:
		h.handleSpeech(e.Event)

	case signaling.SpeechConnected:
		log.Info().Msg("Speech service ready")

	case signaling.SpeechDisconnected:
		log.Warn().Msg("Speech service disconnected")
		h.turn.EndResponse()

	case signaling.SpeechError:
		log.Error().Str("error", e.Message).Msg("Speech service error")
		h.opts.Reporter.Add(errreport.KindUpstream, "speech", e.Message)
		h.turn.EndResponse()

	case signaling.RoomListUpdated:
		log.Debug().Int("rooms", len(e.Rooms)).Msg("Room list updated")
	}
}

// handleSpeech routes audio to playback and completion to the turn state.
func (h *Host) handleSpeech(raw []byte) {
	ev, err := speech.ParseEvent(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed speech message")
		h.opts.Reporter.Report(errreport.KindMalformed, "speech message", err)
		return
	}

	switch ev.Type {
	case speech.EventAudioDelta:
		if _, err := h.playback.Enqueue(ev.Delta); err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable audio fragment")
			h.opts.Reporter.Report(errreport.KindMalformed, "audio delta", err)
			return
		}
		h.turn.SetSpeaker(SpeakerAI)
	case speech.EventResponseDone:
		h.playback.Flush()
		h.turn.EndResponse()
	case speech.EventError:
		msg := "speech service error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		h.opts.Reporter.Add(errreport.KindUpstream, "speech event", msg)
		h.turn.EndResponse()
	case speech.EventSpeechStarted:
		h.turn.MarkGuestSpeaking()
	}
}

// requestResponse is the debounced commit. It is a no-op while a response is in flight.
func (h *Host) requestResponse() {
	if !h.turn.BeginResponse() {
		log.Debug().Msg("Response already in flight, skipping commit")
		return
	}
	log.Info().Msg("Requesting response")
	if err := h.remote.RequestResponse(); err != nil {
		h.turn.EndResponse()
		h.opts.Reporter.Report(errreport.KindUpstream, "request response", err)
	}
}

func (h *Host) onFrame(frame capture.Frame) {
	if err := h.remote.ForwardAudio(frame.PCM); err != nil {
		log.Debug().Err(err).Msg("Failed to forward audio frame")
	}
	h.scheduler.Observe(frame)
	if h.opts.OnLevel != nil {
		h.opts.OnLevel(frame.Level)
	}
}

// onGuestTrack feeds the guest's inbound audio through the capture pipeline.
func (h *Host) onGuestTrack(track *webrtc.TrackRemote) {
	decoder, err := codec.CreateDecoder(h.opts.Audio)
	if err != nil {
		h.opts.Reporter.Report(errreport.KindAudio, "guest track decoder", err)
		return
	}

	h.mu.Lock()
	if h.cancelCapture != nil {
		h.cancelCapture()
	}
	ctx, cancel := context.WithCancel(h.runCtx)
	h.cancelCapture = cancel
	h.mu.Unlock()

	src := capture.NewTrackSource(track, decoder, int(track.Codec().ClockRate))
	pipe := capture.NewPipeline(src.SampleRate(), capture.RoleGuest, h.onFrame)
	log.Info().Str("codec", track.Codec().MimeType).Int("rate", src.SampleRate()).Msg("Capturing guest audio")
	go func() {
		if err := pipe.Run(ctx, src); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Guest audio capture ended")
		}
	}()
}

func (h *Host) startNegotiation(parent context.Context) {
	h.mu.Lock()
	if h.cancelNeg != nil {
		h.cancelNeg()
	}
	ctx, cancel := context.WithCancel(parent)
	h.cancelNeg = cancel
	h.mu.Unlock()

	go h.negotiate(ctx, parent)
}

// negotiate runs fresh sessions until one connects. Each attempt has its own
// session id and later attempts add TURN relays.
func (h *Host) negotiate(ctx, parent context.Context) {
	var connected *rtc.Session
	err := retry.Do(ctx, "negotiation", h.opts.Policy, func(ctx context.Context, attempt int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := rtc.NewSession(rtc.Initiator, rtc.Options{
			API:           h.opts.API,
			Configuration: rtc.Configuration(h.opts.Config, attempt-1),
			Audio:         h.opts.Audio,
			Signaler:      h.peer,
			OnTrack:       h.onGuestTrack,
		})
		h.swapSession(s)

		if err := s.StartInitiator(ctx); err != nil {
			return err
		}
		if err := waitConnected(ctx, s); err != nil {
			if errors.Is(err, ErrConnectTimeout) {
				s.Fail()
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("session_id", s.SessionID()).Msg("Negotiation attempt failed")
			return err
		}
		connected = s
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Giving up on guest connection")
			h.opts.Reporter.Report(errreport.KindNegotiation, "negotiation", err)
		}
		return
	}

	if err := connected.ReplaceOutbound(h.aiTrack); err != nil {
		h.opts.Reporter.Report(errreport.KindNegotiation, "attach speech track", err)
		return
	}
	log.Info().Str("session_id", connected.SessionID()).Msg("Guest connected, speech track attached")

	select {
	case <-ctx.Done():
	case err := <-connected.Status():
		if err == nil || h.Session() != connected {
			return
		}
		h.opts.Reporter.Report(errreport.KindNegotiation, "session", err)
		log.Warn().Err(err).Msg("Transport failed, renegotiating with a new session")
		h.turn.Reset()
		h.startNegotiation(parent)
	}
}

func waitConnected(ctx context.Context, s *rtc.Session) error {
	timer := time.NewTimer(ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-s.Status():
		return err
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// swapSession installs s and closes the session it replaces.
func (h *Host) swapSession(s *rtc.Session) {
	h.mu.Lock()
	old := h.session
	h.session = s
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (h *Host) teardown() {
	h.mu.Lock()
	if h.cancelNeg != nil {
		h.cancelNeg()
		h.cancelNeg = nil
	}
	if h.cancelCapture != nil {
		h.cancelCapture()
		h.cancelCapture = nil
	}
	s := h.session
	h.session = nil
	h.mu.Unlock()

	if s != nil {
		s.Close()
	}
	h.scheduler.Stop()
	h.playback.Reset()
	h.turn.Reset()
}
