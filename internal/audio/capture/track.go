package capture

import (
	"context"
	"errors"
	"fmt"

	"voice-relay/internal/audio/codec"
	"voice-relay/internal/audio/convert"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

var (
	ErrClosed     = errors.New("capture: source closed")
	ErrPermission = errors.New("capture: microphone unavailable")
)

// PacketReader is satisfied by *webrtc.TrackRemote.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackSource decodes an inbound RTP audio track into float samples.
type TrackSource struct {
	reader  PacketReader
	decoder codec.Decoder
	rate    int
}

func NewTrackSource(reader PacketReader, decoder codec.Decoder, sampleRate int) *TrackSource {
	return &TrackSource{reader: reader, decoder: decoder, rate: sampleRate}
}

func (ts *TrackSource) SampleRate() int { return ts.rate }

// ReadSamples blocks on the next packet. Undecodable packets are skipped.
func (ts *TrackSource) ReadSamples(ctx context.Context) ([]float32, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		packet, _, err := ts.reader.ReadRTP()
		if err != nil {
			return nil, fmt.Errorf("read rtp: %w", err)
		}
		if len(packet.Payload) == 0 {
			continue
		}
		pcm, err := ts.decoder.Decode(packet.Payload)
		if err != nil {
			continue
		}
		return convert.Int16ToFloat32(pcm), nil
	}
}
