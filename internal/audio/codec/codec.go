package codec

import (
	"errors"

	"voice-relay/internal/audio/config"
)

var (
	ErrUnknownCodec = errors.New("unknown codec type")
	ErrOpusDisabled = errors.New("opus codec requires building with -tags opus")
)

// Encoder turns one frame of PCM samples into a track payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns one track payload into PCM samples.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// New returns the encoder and decoder pair for the track codec in cfg.
func New(cfg config.AudioConfig) (Encoder, Decoder, error) {
	enc, err := CreateEncoder(cfg)
	if err != nil {
		return nil, nil, err
	}
	dec, err := CreateDecoder(cfg)
	if err != nil {
		return nil, nil, err
	}
	return enc, dec, nil
}
