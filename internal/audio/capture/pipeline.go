package capture

import (
	"context"
	"errors"
	"io"
	"sync"

	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/convert"

	"github.com/rs/zerolog/log"
)

// Role identifies whose audio a frame carries.
type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
)

// Frame is one capture block converted to the upstream wire format.
type Frame struct {
	PCM        []byte // PCM16 little-endian mono
	SampleRate int
	Role       Role
	Seq        uint64
	HasSpeech  bool
	Level      int // 0-100 meter reading
}

// Source yields blocks of float samples at its native rate.
type Source interface {
	ReadSamples(ctx context.Context) ([]float32, error)
	SampleRate() int
}

// Pipeline converts a live source into fixed-format frames.
type Pipeline struct {
	nativeRate int
	targetRate int
	blockSize  int
	threshold  int
	role       Role
	emit       func(Frame)

	mu      sync.Mutex
	pending []float32
	seq     uint64
}

type Option func(*Pipeline)

func WithBlockSize(n int) Option {
	return func(p *Pipeline) { p.blockSize = n }
}

func WithThreshold(t int) Option {
	return func(p *Pipeline) { p.threshold = t }
}

// NewPipeline builds a pipeline for a source at nativeRate that calls emit for every frame.
func NewPipeline(nativeRate int, role Role, emit func(Frame), opts ...Option) *Pipeline {
	p := &Pipeline{
		nativeRate: nativeRate,
		targetRate: config.InputSampleRate,
		blockSize:  config.CaptureBlockSize,
		threshold:  config.SpeechThreshold,
		role:       role,
		emit:       emit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process converts exactly one block and emits it.
func (p *Pipeline) Process(block []float32) Frame {
	resampled := convert.Resample(block, p.nativeRate, p.targetRate)
	pcm := convert.EncodePCM16(resampled)
	amplitude := convert.MaxAmplitude(pcm)

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	frame := Frame{
		PCM:        pcm,
		SampleRate: p.targetRate,
		Role:       p.role,
		Seq:        seq,
		HasSpeech:  amplitude > p.threshold,
		Level:      convert.Level(amplitude),
	}
	if p.emit != nil {
		p.emit(frame)
	}
	return frame
}

// Push buffers samples of any length and processes every complete block.
func (p *Pipeline) Push(samples []float32) int {
	p.mu.Lock()
	p.pending = append(p.pending, samples...)
	var blocks [][]float32
	for len(p.pending) >= p.blockSize {
		block := make([]float32, p.blockSize)
		copy(block, p.pending[:p.blockSize])
		p.pending = p.pending[p.blockSize:]
		blocks = append(blocks, block)
	}
	p.mu.Unlock()

	for _, block := range blocks {
		p.Process(block)
	}
	return len(blocks)
}

// Run pulls from src until ctx ends or the source is exhausted.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	defer log.Debug().Str("role", string(p.role)).Msg("Capture pipeline stopped")
	for {
		samples, err := src.ReadSamples(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		p.Push(samples)
	}
}
