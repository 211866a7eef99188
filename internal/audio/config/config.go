package config

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// Wire format for speech exchanged with the speech service.
const (
	InputSampleRate  = 16000 // captured speech sent upstream
	OutputSampleRate = 24000 // synthesized speech received from upstream
	CaptureRate      = 48000 // native rate of capture devices and opus tracks
	CaptureBlockSize = 4096  // samples per capture block, before resampling

	// SpeechThreshold is the max |sample| above which a frame carries speech.
	SpeechThreshold = 100

	// MinSpeechBytes is one second of 16 kHz mono PCM16.
	MinSpeechBytes = 32000

	// CommitDelay confirms silence before buffered speech is committed.
	CommitDelay = 2 * time.Second

	FrameDuration = 20 * time.Millisecond
)

type AudioConfigType string

func (ac AudioConfigType) String() string {
	return string(ac)
}

const (
	SampleRateOpus   = 48000
	FrameSamplesOpus = 960 // 20 ms at 48 kHz
	ChannelsOpus     = 1

	SampleRatePCM   = 8000
	FrameSamplesPCM = 160 // 20 ms at 8 kHz
	ChannelsPCM     = 1

	JitterBufferSize = 2 // frames buffered before playout

	AudioCodecOpus AudioConfigType = "opus"
	AudioCodecPCMU AudioConfigType = "pcmu"
)

// AudioConfig describes the codec used on the peer-to-peer audio track.
type AudioConfig struct {
	SampleRate   uint32
	FrameSamples int
	Channels     uint16
	BufferSize   int // channel buffer size in frames
	Type         AudioConfigType
	SDPFmtpLine  string
	PayloadType  uint8
	MimeType     string
}

// NewOpusConfig creates AudioConfig for Opus codec
func NewOpusConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRateOpus,
		FrameSamples: FrameSamplesOpus,
		Channels:     ChannelsOpus,
		BufferSize:   300,
		Type:         AudioCodecOpus,
		SDPFmtpLine:  "minptime=10;useinbandfec=1;maxaveragebitrate=64000;stereo=0;sprop-stereo=0;cbr=0",
		PayloadType:  111,
		MimeType:     webrtc.MimeTypeOpus,
	}
}

// NewPCMUConfig creates AudioConfig for PCMU/G.711 codec
func NewPCMUConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		BufferSize:   300,
		Type:         AudioCodecPCMU,
		PayloadType:  0,
		MimeType:     webrtc.MimeTypePCMU,
	}
}

// ForCodec returns the config for a codec name as found in AUDIO_CODEC.
func ForCodec(name string) (AudioConfig, error) {
	switch AudioConfigType(name) {
	case AudioCodecOpus:
		return NewOpusConfig(), nil
	case AudioCodecPCMU, "":
		return NewPCMUConfig(), nil
	default:
		return AudioConfig{}, fmt.Errorf("unsupported codec: %s", name)
	}
}

// Capability is the RTP capability advertised for this codec.
func (ac AudioConfig) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    ac.MimeType,
		ClockRate:   ac.SampleRate,
		Channels:    ac.Channels,
		SDPFmtpLine: ac.SDPFmtpLine,
	}
}

// CodecParameters is the media engine registration for this codec.
func (ac AudioConfig) CodecParameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: ac.Capability(),
		PayloadType:        webrtc.PayloadType(ac.PayloadType),
	}
}
