package rtc

import (
	"fmt"
	"time"

	"voice-relay/internal/audio/config"
	appconfig "voice-relay/pkg/config"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type apiOptions struct {
	loopback bool
}

type APIOption func(*apiOptions)

// WithLoopback gathers loopback host candidates, for peers on one machine.
func WithLoopback() APIOption {
	return func(o *apiOptions) { o.loopback = true }
}

// NewAPI builds a pion API that negotiates only the track codec in audio.
func NewAPI(audio config.AudioConfig, opts ...APIOption) (*webrtc.API, error) {
	var o apiOptions
	for _, opt := range opts {
		opt(&o)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(
		time.Second*60, // disconnected timeout upped for double NAT
		time.Second*30, // failed timeout
		time.Second*5,  // keepalive interval
	)
	settingEngine.SetReceiveMTU(1500)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	if o.loopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(audio.CodecParameters(), webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register %s codec: %w", audio.Type, err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// RelayAttempt is the first attempt whose configuration includes TURN relays.
const RelayAttempt = 2

// Configuration returns the ICE configuration for a connection attempt.
// The first attempt uses STUN only, later attempts add TURN relays.
func Configuration(cfg appconfig.Config, attempt int) webrtc.Configuration {
	stunServers := cfg.StunServers()

	conf := webrtc.Configuration{
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}

	switch attempt {
	case 0, 1:
		log.Debug().Int("attempt", attempt).Int("stun", len(stunServers)).Msg("Configured with STUN servers")
		conf.ICEServers = stunServers
		conf.ICECandidatePoolSize = 15
	default:
		turnServers := cfg.TurnServers()
		log.Debug().Int("attempt", attempt).Int("stun", len(stunServers)).Int("turn", len(turnServers)).Msg("Configured with STUN and TURN servers")
		conf.ICEServers = append(stunServers, turnServers...)
		conf.ICECandidatePoolSize = 25
	}
	return conf
}

// NewOutboundTrack creates a local track for the codec in audio.
func NewOutboundTrack(audio config.AudioConfig, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(audio.Capability(), id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	return track, nil
}
