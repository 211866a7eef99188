//go:build !opus

package codec

import "voice-relay/internal/audio/config"

// CreateEncoder returns the encoder for cfg. Without the opus tag only PCMU is available.
func CreateEncoder(cfg config.AudioConfig) (Encoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return PCMUEncoder{}, nil
	case config.AudioCodecOpus:
		return nil, ErrOpusDisabled
	default:
		return nil, ErrUnknownCodec
	}
}

func CreateDecoder(cfg config.AudioConfig) (Decoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return PCMUDecoder{}, nil
	case config.AudioCodecOpus:
		return nil, ErrOpusDisabled
	default:
		return nil, ErrUnknownCodec
	}
}
