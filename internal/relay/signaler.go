package relay

import (
	"context"
	"errors"
	"sync"

	"voice-relay/internal/signaling"

	"github.com/pion/webrtc/v4"
)

var ErrNoPeer = errors.New("no remote peer")

// Signaling is the part of the signaling client both roles use.
type Signaling interface {
	Events() <-chan signaling.Event
	Done() <-chan struct{}
	SendOffer(target string, offer webrtc.SessionDescription, sessionID string) error
	SendAnswer(target string, answer webrtc.SessionDescription) error
	SendCandidate(target string, candidate webrtc.ICECandidateInit, sessionID string) error
}

type HostSignaling interface {
	Signaling
	CreateRoom(ctx context.Context, hostName string) (string, error)
	ConnectSpeech(ctx context.Context) error
	DisconnectSpeech() error
	SendSpeechMessage(event any) error
}

type GuestSignaling interface {
	Signaling
	JoinRoom(ctx context.Context, roomID string) error
}

// peerSignaler addresses negotiation messages to the current remote peer.
type peerSignaler struct {
	sig Signaling

	mu     sync.Mutex
	target string
}

func (p *peerSignaler) SetTarget(id string) {
	p.mu.Lock()
	p.target = id
	p.mu.Unlock()
}

func (p *peerSignaler) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *peerSignaler) SendOffer(offer webrtc.SessionDescription, sessionID string) error {
	target := p.Target()
	if target == "" {
		return ErrNoPeer
	}
	return p.sig.SendOffer(target, offer, sessionID)
}

func (p *peerSignaler) SendAnswer(answer webrtc.SessionDescription) error {
	target := p.Target()
	if target == "" {
		return ErrNoPeer
	}
	return p.sig.SendAnswer(target, answer)
}

func (p *peerSignaler) SendCandidate(candidate webrtc.ICECandidateInit, sessionID string) error {
	target := p.Target()
	if target == "" {
		return ErrNoPeer
	}
	return p.sig.SendCandidate(target, candidate, sessionID)
}
