package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"voice-relay/internal/audio/capture"
	"voice-relay/internal/audio/codec"
	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/convert"
	"voice-relay/internal/audio/playback"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// AddOnPipe adds a processing stage to the pipeline.
// q stops the stage, f transforms each item read from in,
// chanBuffer sizes the returned channel. Items are dropped when the output is full.
func AddOnPipe[X, Y any](q <-chan struct{}, f func(X) Y, in <-chan X, chanBuffer int) chan Y {
	out := make(chan Y, chanBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-q:
				return
			case data, ok := <-in:
				if !ok {
					return
				}
				result := f(data)
				select {
				case out <- result:
				default:
					log.Debug().Msg("Dropping data in pipeline stage")
				}
			}
		}
	}()
	return out
}

// FrameWriter accepts decoded frames for playout. *playback.Speaker satisfies it.
type FrameWriter interface {
	Write(frame []int16) bool
}

type encoded struct {
	payload []byte
	err     error
}

// AudioPipeline moves a guest's microphone onto its outbound track and
// its inbound track onto the speaker.
type AudioPipeline struct {
	cfg     config.AudioConfig
	encoder codec.Encoder
	decoder codec.Decoder
	jitter  *JitterBuffer
	tick    time.Duration
}

func NewAudioPipeline(cfg config.AudioConfig) (*AudioPipeline, error) {
	enc, dec, err := codec.New(cfg)
	if err != nil {
		return nil, err
	}
	return &AudioPipeline{
		cfg:     cfg,
		encoder: enc,
		decoder: dec,
		jitter:  NewJitterBuffer(config.JitterBufferSize, config.JitterBufferSize*3),
		tick:    config.FrameDuration,
	}, nil
}

// Jitter exposes the receive buffer for stats.
func (p *AudioPipeline) Jitter() *JitterBuffer { return p.jitter }

// StartSending reads src, cuts it into codec frames, encodes and writes them to sink.
// src must produce samples at the codec rate.
// capture -> frame -> encode -> send
func (p *AudioPipeline) StartSending(ctx context.Context, src capture.Source, sink playback.Sink) error {
	defer log.Debug().Msg("Sending pipeline stopped")
	if src.SampleRate() != int(p.cfg.SampleRate) {
		return fmt.Errorf("capture rate %d does not match codec rate %d", src.SampleRate(), p.cfg.SampleRate)
	}

	quit := make(chan struct{})
	defer close(quit)

	frames := make(chan []int16, p.cfg.BufferSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		framer := NewFramer(p.cfg.FrameSamples)
		for {
			block, err := src.ReadSamples(ctx)
			if err != nil {
				readErr <- err
				return
			}
			for _, frame := range framer.Push(convert.Float32ToInt16(block)) {
				select {
				case frames <- frame:
				case <-quit:
					return
				}
			}
		}
	}()

	out := AddOnPipe(quit, func(pcm []int16) encoded {
		payload, err := p.encoder.Encode(pcm)
		return encoded{payload: payload, err: err}
	}, frames, p.cfg.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-out:
			if !ok {
				var err error
				select {
				case err = <-readErr:
				default:
				}
				if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if e.err != nil {
				log.Warn().Err(e.err).Msg("Failed to encode pcm")
				continue
			}
			if err := sink.WriteSample(media.Sample{Data: e.payload, Duration: config.FrameDuration}); err != nil {
				return fmt.Errorf("write audio sample: %w", err)
			}
		}
	}
}

// StartReceiving decodes packets from reader into the jitter buffer and
// plays them out to w on a fixed tick.
// receive -> decode -> jitter -> playback
func (p *AudioPipeline) StartReceiving(ctx context.Context, reader capture.PacketReader, w FrameWriter) error {
	defer log.Debug().Msg("Receiving pipeline stopped")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.playout(ctx, w)

	for {
		if ctx.Err() != nil {
			return nil
		}
		packet, _, err := reader.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		if len(packet.Payload) == 0 {
			continue
		}
		frame, err := p.decoder.Decode(packet.Payload)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to decode packet")
			continue
		}
		if dropped := p.jitter.Push(frame); dropped > 0 {
			log.Debug().Int("dropped", dropped).Msg("Jitter buffer overflow")
		}
	}
}

func (p *AudioPipeline) playout(ctx context.Context, w FrameWriter) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := p.jitter.Pop()
			if !ok {
				continue
			}
			if !w.Write(frame) {
				log.Debug().Msg("Playback channel full, dropping frame")
			}
		}
	}
}
