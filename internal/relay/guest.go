package relay

import (
	"context"
	"errors"
	"sync"

	"voice-relay/internal/audio/capture"
	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/pipeline"
	"voice-relay/internal/rtc"
	"voice-relay/internal/signaling"
	appconfig "voice-relay/pkg/config"
	"voice-relay/pkg/errreport"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrHostLeft = errors.New("host left the room")

type GuestOptions struct {
	RoomID   string
	Config   appconfig.Config
	Audio    config.AudioConfig
	API      *webrtc.API
	Reporter *errreport.Reporter

	// Mic must capture at the codec rate. Nil joins receive-only.
	Mic capture.Source
	// Speaker plays the synthesized answer. Nil discards it.
	Speaker pipeline.FrameWriter
}

// Guest joins a room, answers the host's offers, sends the microphone and
// plays what comes back.
type Guest struct {
	opts    GuestOptions
	sig     GuestSignaling
	peer    *peerSignaler
	session *rtc.Session

	mu         sync.Mutex
	runCtx     context.Context
	cancelSend context.CancelFunc
	cancelRecv context.CancelFunc
}

func NewGuest(sig GuestSignaling, opts GuestOptions) *Guest {
	if opts.Reporter == nil {
		opts.Reporter = errreport.New(errreport.DefaultCapacity)
	}
	g := &Guest{
		opts:   opts,
		sig:    sig,
		peer:   &peerSignaler{sig: sig},
		runCtx: context.Background(),
	}
	g.session = rtc.NewSession(rtc.Responder, rtc.Options{
		API:           opts.API,
		Configuration: rtc.Configuration(opts.Config, rtc.RelayAttempt),
		Audio:         opts.Audio,
		Signaler:      g.peer,
		OnTrack:       g.onHostTrack,
	})
	return g
}

func (g *Guest) Session() *rtc.Session { return g.session }

// Run joins the room and serves the call until ctx ends or the host leaves.
func (g *Guest) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.sig.JoinRoom(ctx, g.opts.RoomID); err != nil {
		g.opts.Reporter.Report(errreport.KindSignaling, "join room", err)
		return err
	}
	g.mu.Lock()
	g.runCtx = ctx
	g.mu.Unlock()
	log.Info().Str("room", g.opts.RoomID).Msg("Joined room, waiting for the host's offer")
	defer g.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.sig.Done():
			return errreport.Wrap(errreport.KindSignaling, "signaling", signaling.ErrClosed)
		case err := <-g.session.Status():
			if err != nil {
				log.Error().Err(err).Msg("Transport failed, waiting for the host to renegotiate")
				g.opts.Reporter.Report(errreport.KindNegotiation, "session", err)
				g.stopSending()
			}
		case ev, ok := <-g.sig.Events():
			if !ok {
				return errreport.Wrap(errreport.KindSignaling, "signaling", signaling.ErrClosed)
			}
			if err := g.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (g *Guest) handle(ctx context.Context, ev signaling.Event) error {
	switch e := ev.(type) {
	case signaling.OfferReceived:
		g.peer.SetTarget(e.From)
		if err := g.session.HandleOffer(ctx, e.Offer, e.SessionID); err != nil {
			log.Error().Err(err).Str("session_id", e.SessionID).Msg("Failed to answer offer")
			g.opts.Reporter.Report(errreport.KindNegotiation, "offer", err)
			return nil
		}
		g.startSending()

	case signaling.CandidateReceived:
		g.session.HandleCandidate(e.Candidate, e.SessionID)

	case signaling.UserLeft:
		log.Info().Str("conn", e.ConnID).Msg("Host left the room")
		return ErrHostLeft

	case signaling.RoomListUpdated:
		log.Debug().Int("rooms", len(e.Rooms)).Msg("Room list updated")
	}
	return nil
}

// startSending streams the microphone into the session's local track.
func (g *Guest) startSending() {
	track := g.session.LocalTrack()
	if track == nil || g.opts.Mic == nil {
		log.Warn().Msg("No microphone, joining receive-only")
		return
	}
	ap, err := pipeline.NewAudioPipeline(g.opts.Audio)
	if err != nil {
		g.opts.Reporter.Report(errreport.KindAudio, "send pipeline", err)
		return
	}

	g.mu.Lock()
	if g.cancelSend != nil {
		g.cancelSend()
	}
	ctx, cancel := context.WithCancel(g.runCtx)
	g.cancelSend = cancel
	g.mu.Unlock()

	go func() {
		if err := ap.StartSending(ctx, g.opts.Mic, track); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Microphone stream ended")
			g.opts.Reporter.Report(errreport.KindAudio, "microphone", err)
		}
	}()
}

func (g *Guest) stopSending() {
	g.mu.Lock()
	if g.cancelSend != nil {
		g.cancelSend()
		g.cancelSend = nil
	}
	g.mu.Unlock()
}

// onHostTrack plays the relayed speech.
func (g *Guest) onHostTrack(track *webrtc.TrackRemote) {
	log.Info().Str("codec", track.Codec().MimeType).Msg("Receiving host audio")
	if g.opts.Speaker == nil {
		return
	}
	ap, err := pipeline.NewAudioPipeline(g.opts.Audio)
	if err != nil {
		g.opts.Reporter.Report(errreport.KindAudio, "receive pipeline", err)
		return
	}

	g.mu.Lock()
	if g.cancelRecv != nil {
		g.cancelRecv()
	}
	ctx, cancel := context.WithCancel(g.runCtx)
	g.cancelRecv = cancel
	g.mu.Unlock()

	go func() {
		if err := ap.StartReceiving(ctx, track, g.opts.Speaker); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Host audio stream ended")
		}
	}()
}

func (g *Guest) teardown() {
	g.mu.Lock()
	if g.cancelSend != nil {
		g.cancelSend()
		g.cancelSend = nil
	}
	if g.cancelRecv != nil {
		g.cancelRecv()
		g.cancelRecv = nil
	}
	g.mu.Unlock()
	g.session.Close()
}
