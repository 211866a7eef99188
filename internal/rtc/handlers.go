package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// StatsInterval is how often RTP stats are logged at debug level.
const StatsInterval = 60 * time.Second

// EventHandlers binds pion callbacks of one peer connection to its session.
type EventHandlers struct {
	session   *Session
	pc        *webrtc.PeerConnection
	sessionID string
}

// handleIceCandidate trickles each gathered candidate to the remote peer.
func (h EventHandlers) handleIceCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	var connType string
	switch candidate.Typ {
	case webrtc.ICECandidateTypeHost:
		connType = "Direct" // local network or public ip
	case webrtc.ICECandidateTypeSrflx:
		connType = "STUN"
	case webrtc.ICECandidateTypeRelay:
		connType = "TURN"
	case webrtc.ICECandidateTypePrflx:
		connType = "Peer"
	default:
		connType = "Undefined"
	}

	log.Debug().
		Str("type", connType).
		Str("protocol", candidate.Protocol.String()).
		Str("address", candidate.Address).
		Uint16("port", candidate.Port).
		Uint32("priority", candidate.Priority).
		Msg("New ICE candidate gathered")

	if err := h.session.opts.Signaler.SendCandidate(candidate.ToJSON(), h.sessionID); err != nil {
		log.Warn().Err(err).Msg("Failed to send ICE candidate")
	}
}

// Either signal may report connectivity first, so both are watched.
func (h EventHandlers) handleIceConnectionStateChange(state webrtc.ICEConnectionState) {
	log.Info().Str("state", state.String()).Str("session_id", h.sessionID).Msg("ICE state changed")
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		h.session.markConnected(h.pc)
	case webrtc.ICEConnectionStateFailed:
		h.session.markFailed(h.pc)
	case webrtc.ICEConnectionStateDisconnected:
		log.Warn().Str("session_id", h.sessionID).Msg("ICE disconnected, waiting for recovery")
	}
}

func (h EventHandlers) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	log.Info().Str("state", state.String()).Str("session_id", h.sessionID).Msg("Peer connection state changed")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		h.session.markConnected(h.pc)
	case webrtc.PeerConnectionStateFailed:
		h.session.markFailed(h.pc)
	}
}

func (h EventHandlers) handleTrackEvent(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Info().
		Str("track_id", track.ID()).
		Str("type", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Msg("Received track")

	if track.Kind() == webrtc.RTPCodecTypeAudio {
		h.session.deliverTrack(h.pc, track)
	}
}

// setupEventHandlers installs the callbacks and starts stats logging until ctx ends.
func (h EventHandlers) setupEventHandlers(ctx context.Context) {
	h.pc.OnICECandidate(h.handleIceCandidate)
	h.pc.OnICEConnectionStateChange(h.handleIceConnectionStateChange)
	h.pc.OnConnectionStateChange(h.handleConnectionStateChange)
	h.pc.OnTrack(h.handleTrackEvent)
	go logStat(ctx, h.pc)
}

// logStat periodically logs connection statistics.
func logStat(ctx context.Context, pc *webrtc.PeerConnection) {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats := pc.GetStats()
		for _, stat := range stats {
			if inbound, ok := stat.(webrtc.InboundRTPStreamStats); ok {
				log.Debug().
					Uint32("packets", inbound.PacketsReceived).
					Uint64("bytes", inbound.BytesReceived).
					Int32("lost", inbound.PacketsLost).
					Float64("jitter", inbound.Jitter).
					Msg("Inbound RTP stats")
			}
			if outbound, ok := stat.(webrtc.OutboundRTPStreamStats); ok {
				log.Debug().
					Uint32("packets", outbound.PacketsSent).
					Uint64("bytes", outbound.BytesSent).
					Msg("Outbound RTP stats")
			}
		}
	}
}
