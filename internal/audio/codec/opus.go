//go:build opus

package codec

import (
	"errors"
	"fmt"
	"slices"

	"gopkg.in/hraban/opus.v2"
)

var ErrInvalidFrameSize = errors.New("invalid opus frame size for given sampleRate")

// IsFrameSizeValid accepts 2.5, 5, 10, 20, 40 and 60 ms frames.
func IsFrameSizeValid(sampleRate, frameSize int) bool {
	ms25 := sampleRate / 400
	valid := []int{ms25, ms25 * 2, ms25 * 4, ms25 * 8, ms25 * 16, ms25 * 24}
	return slices.Contains(valid, frameSize)
}

type OpusEncoder struct {
	enc       *opus.Encoder
	frameSize int
}

func NewOpusEncoder(sampleRate, channels, frameSize int) (*OpusEncoder, error) {
	if !IsFrameSizeValid(sampleRate, frameSize) {
		return nil, ErrInvalidFrameSize
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &OpusEncoder{enc: enc, frameSize: frameSize * channels}, nil
}

// Encode expects exactly one frame of samples.
func (e *OpusEncoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("opus: got %d samples, want %d", len(samples), e.frameSize)
	}
	out := make([]byte, 1500)
	n, err := e.enc.Encode(samples, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
	maxFrame int
}

func NewOpusDecoder(sampleRate, channels, frameSize int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	// room for the largest 60 ms packet
	return &OpusDecoder{dec: dec, channels: channels, maxFrame: frameSize * 3}, nil
}

func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	buf := make([]int16, d.maxFrame*d.channels)
	n, err := d.dec.Decode(packet, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n*d.channels], nil
}
