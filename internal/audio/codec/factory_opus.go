//go:build opus

package codec

import "voice-relay/internal/audio/config"

// CreateEncoder returns the encoder for cfg. Built with the opus tag, both codecs are available.
func CreateEncoder(cfg config.AudioConfig) (Encoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return PCMUEncoder{}, nil
	case config.AudioCodecOpus:
		return NewOpusEncoder(int(cfg.SampleRate), int(cfg.Channels), cfg.FrameSamples)
	default:
		return nil, ErrUnknownCodec
	}
}

func CreateDecoder(cfg config.AudioConfig) (Decoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return PCMUDecoder{}, nil
	case config.AudioCodecOpus:
		return NewOpusDecoder(int(cfg.SampleRate), int(cfg.Channels), cfg.FrameSamples)
	default:
		return nil, ErrUnknownCodec
	}
}
