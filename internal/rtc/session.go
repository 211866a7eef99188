package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voice-relay/internal/audio/config"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/system"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession        = errors.New("no active session")
	ErrSessionActive    = errors.New("session already active")
	ErrWrongRole        = errors.New("operation not valid for this role")
	ErrNoReservedSender = errors.New("no reserved outbound channel")
	ErrTransportFailed  = errors.New("peer transport failed")
)

// Role decides which side of the negotiation a session plays.
type Role int

const (
	Initiator Role = iota // host
	Responder             // guest
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Phase is the negotiation progress of a session.
type Phase string

const (
	PhaseNew              Phase = "new"
	PhaseHaveLocalOffer   Phase = "have-local-offer"
	PhaseHaveRemoteOffer  Phase = "have-remote-offer"
	PhaseHaveLocalAnswer  Phase = "have-local-answer"
	PhaseHaveRemoteAnswer Phase = "have-remote-answer"
	PhaseConnected        Phase = "connected"
	PhaseFailed           Phase = "failed"
	PhaseClosed           Phase = "closed"
)

// Signaler carries negotiation messages to the remote peer.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription, sessionID string) error
	SendAnswer(answer webrtc.SessionDescription) error
	SendCandidate(candidate webrtc.ICECandidateInit, sessionID string) error
}

type Options struct {
	API           *webrtc.API
	Configuration webrtc.Configuration
	Audio         config.AudioConfig
	Signaler      Signaler

	// OnTrack receives every inbound audio track.
	OnTrack func(track *webrtc.TrackRemote)
}

// Session owns one peer connection at a time. Every negotiation attempt gets
// a fresh session id, and remote candidates of other attempts are never applied.
type Session struct {
	opts   Options
	role   Role
	status chan error

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	sessionID string
	phase     Phase
	remoteSet bool
	queue     CandidateQueue
	reserved  *webrtc.RTPSender
	local     *webrtc.TrackLocalStaticSample
	stopStats context.CancelFunc
}

func NewSession(role Role, opts Options) *Session {
	return &Session{
		opts:   opts,
		role:   role,
		status: make(chan error, 8),
		phase:  PhaseNew,
	}
}

// Status reports nil once the transport connects and an error when it fails.
func (s *Session) Status() <-chan error {
	return s.status
}

func (s *Session) Role() Role { return s.role }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// PendingCandidates returns the number of queued remote candidates.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// LocalTrack is the responder's microphone track, nil before an offer is handled.
func (s *Session) LocalTrack() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) setPhaseLocked(p Phase) {
	if s.phase == p {
		return
	}
	log.Debug().Str("session_id", s.sessionID).Str("from", string(s.phase)).Str("to", string(p)).Msg("Negotiation phase changed")
	s.phase = p
}

func (s *Session) newPeerConnectionLocked(sessionID string) (*webrtc.PeerConnection, error) {
	pc, err := s.opts.API.NewPeerConnection(s.opts.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pc = pc
	s.sessionID = sessionID
	s.remoteSet = false
	s.stopStats = cancel
	EventHandlers{session: s, pc: pc, sessionID: sessionID}.setupEventHandlers(ctx)
	return pc, nil
}

// detachLocked forgets the current peer connection and returns it for closing
// outside the lock. Queued candidates are kept.
func (s *Session) detachLocked() *webrtc.PeerConnection {
	pc := s.pc
	if s.stopStats != nil {
		s.stopStats()
		s.stopStats = nil
	}
	s.pc = nil
	s.remoteSet = false
	s.reserved = nil
	s.local = nil
	return pc
}

func closePeer(pc *webrtc.PeerConnection) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close peer connection")
	}
}

// StartInitiator reserves a bidirectional audio channel plus a receive-only
// one, then sends an offer under a new session id.
func (s *Session) StartInitiator(ctx context.Context) error {
	if s.role != Initiator {
		return ErrWrongRole
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.pc != nil {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.queue.Clear()
	sessionID := system.GenerateSessionID()
	offer, err := s.offerLocked(sessionID)
	if err != nil {
		pc := s.detachLocked()
		s.sessionID = ""
		s.setPhaseLocked(PhaseFailed)
		s.mu.Unlock()
		closePeer(pc)
		return errreport.Wrap(errreport.KindNegotiation, "start initiator", err)
	}
	s.mu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Sending offer")
	if err := s.opts.Signaler.SendOffer(offer, sessionID); err != nil {
		return errreport.Wrap(errreport.KindSignaling, "send offer", err)
	}
	return nil
}

func (s *Session) offerLocked(sessionID string) (webrtc.SessionDescription, error) {
	pc, err := s.newPeerConnectionLocked(sessionID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to reserve audio channel: %w", err)
	}
	s.reserved = tr.Sender()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to add receive-only audio: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	s.setPhaseLocked(PhaseHaveLocalOffer)
	return *pc.LocalDescription(), nil
}

// HandleOffer answers an offer, adopting its session id. An offer under a new
// id replaces the current peer connection.
func (s *Session) HandleOffer(ctx context.Context, offer webrtc.SessionDescription, sessionID string) error {
	if s.role != Responder {
		return ErrWrongRole
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.pc != nil {
		log.Info().Str("old", s.sessionID).Str("session_id", sessionID).Msg("Renegotiating with a new session")
		go closePeer(s.detachLocked())
	}
	answer, pc, err := s.answerLocked(offer, sessionID)
	if err != nil {
		failed := s.detachLocked()
		s.setPhaseLocked(PhaseFailed)
		s.mu.Unlock()
		closePeer(failed)
		return errreport.Wrap(errreport.KindNegotiation, "handle offer", err)
	}
	s.mu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Sending answer")
	if err := s.opts.Signaler.SendAnswer(answer); err != nil {
		return errreport.Wrap(errreport.KindSignaling, "send answer", err)
	}

	// candidates that arrived while answering
	s.mu.Lock()
	if s.pc == pc {
		s.flushLocked()
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) answerLocked(offer webrtc.SessionDescription, sessionID string) (webrtc.SessionDescription, *webrtc.PeerConnection, error) {
	pc, err := s.newPeerConnectionLocked(sessionID)
	if err != nil {
		return webrtc.SessionDescription{}, nil, err
	}

	track, err := NewOutboundTrack(s.opts.Audio, "audio", "microphone")
	if err != nil {
		return webrtc.SessionDescription{}, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		return webrtc.SessionDescription{}, nil, fmt.Errorf("failed to add microphone track: %w", err)
	}
	s.local = track

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	s.remoteSet = true
	s.setPhaseLocked(PhaseHaveRemoteOffer)
	s.flushLocked()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, nil, fmt.Errorf("failed to set local description: %w", err)
	}
	s.setPhaseLocked(PhaseHaveLocalAnswer)
	return *pc.LocalDescription(), pc, nil
}

// HandleAnswer applies the responder's answer and flushes queued candidates.
func (s *Session) HandleAnswer(answer webrtc.SessionDescription) error {
	if s.role != Initiator {
		return ErrWrongRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return ErrNoSession
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return errreport.Wrap(errreport.KindNegotiation, "handle answer", err)
	}
	s.remoteSet = true
	if s.phase == PhaseHaveLocalOffer {
		s.setPhaseLocked(PhaseHaveRemoteAnswer)
	}
	s.flushLocked()
	return nil
}

// HandleCandidate applies a remote candidate, queues it until a remote
// description exists, or drops it when it belongs to another session.
func (s *Session) HandleCandidate(candidate webrtc.ICECandidateInit, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" && s.sessionID != "" && sessionID != s.sessionID {
		log.Debug().Str("session_id", sessionID).Str("current", s.sessionID).Msg("Dropping candidate of stale session")
		return
	}
	if s.pc == nil || !s.remoteSet {
		s.queue.Push(PendingCandidate{Init: candidate, SessionID: sessionID})
		log.Debug().Int("queued", s.queue.Len()).Msg("Queued ICE candidate until remote description is set")
		return
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		log.Warn().Err(err).Str("candidate", candidate.Candidate).Msg("Failed to apply ICE candidate")
	}
}

func (s *Session) flushLocked() {
	if s.queue.Len() == 0 {
		return
	}
	pending := s.queue.Len()
	applied := s.queue.Flush(s.sessionID, s.pc.AddICECandidate)
	log.Debug().Int("queued", pending).Int("applied", applied).Msg("Flushed queued ICE candidates")
}

// ReplaceOutbound swaps the source of the reserved channel without renegotiating.
func (s *Session) ReplaceOutbound(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved == nil {
		return ErrNoReservedSender
	}
	if err := s.reserved.ReplaceTrack(track); err != nil {
		return fmt.Errorf("failed to replace outbound track: %w", err)
	}
	log.Debug().Str("session_id", s.sessionID).Msg("Outbound audio source replaced")
	return nil
}

// Close tears the session down, clearing the session id and queued candidates.
// A new negotiation may start afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	pc := s.detachLocked()
	s.queue.Clear()
	s.sessionID = ""
	s.setPhaseLocked(PhaseClosed)
	s.mu.Unlock()
	closePeer(pc)
}

func (s *Session) markConnected(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	if s.pc != pc || s.phase == PhaseConnected || s.phase == PhaseFailed {
		s.mu.Unlock()
		return
	}
	s.setPhaseLocked(PhaseConnected)
	sessionID := s.sessionID
	s.mu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Peer transport connected")
	s.notify(nil)
}

// Fail marks the current attempt failed, as a failed transport would, and
// reports it on Status. A later connect of the same attempt is ignored.
func (s *Session) Fail() {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc != nil {
		s.markFailed(pc)
	}
}

func (s *Session) markFailed(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	if s.pc != pc || s.phase == PhaseFailed {
		s.mu.Unlock()
		return
	}
	s.setPhaseLocked(PhaseFailed)
	sessionID := s.sessionID
	s.mu.Unlock()

	log.Error().Str("session_id", sessionID).Msg("Peer transport failed")
	s.notify(errreport.Wrap(errreport.KindNegotiation, "session "+sessionID, ErrTransportFailed))
}

func (s *Session) deliverTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	s.mu.Lock()
	current := s.pc == pc
	s.mu.Unlock()
	if current && s.opts.OnTrack != nil {
		s.opts.OnTrack(track)
	}
}

func (s *Session) notify(err error) {
	select {
	case s.status <- err:
	default:
		log.Warn().Msg("Session status dropped, nobody is listening")
	}
}
