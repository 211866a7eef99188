package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-relay/internal/audio/codec"
	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/convert"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Sink receives encoded samples. *webrtc.TrackLocalStaticSample satisfies it.
type Sink interface {
	WriteSample(s media.Sample) error
}

// Buffer is one decoded speech fragment, tagged with its arrival index.
type Buffer struct {
	Index   int
	Samples []float32 // at config.OutputSampleRate
}

// DrainAfter is how long the queue may stay empty before the current
// response is considered finished and its tail is played out.
const DrainAfter = 100 * time.Millisecond

// Pipeline plays decoded fragments strictly in arrival order into a sink.
// Consecutive fragments form one continuous stream: samples that do not fill
// a frame carry over to the next fragment, and only the end of a response is
// padded with silence.
type Pipeline struct {
	cfg     config.AudioConfig
	sink    Sink
	encoder codec.Encoder
	pace    time.Duration
	drain   time.Duration

	// OnStart is called when a buffer begins playing.
	OnStart func(b Buffer)
	// OnIdle is called when the queue drains and the tail has been played.
	OnIdle func()

	mu        sync.Mutex
	queue     []Buffer
	next      int
	playing   bool
	discard   bool
	notify    chan struct{}
	flush     chan struct{}
	resampler resampling.Resampler
	resample  bool

	// stream state, owned by Run
	pending  []int16
	inTotal  int
	outTotal int
}

type Option func(*Pipeline)

// WithPace sets the wall-clock time spent per frame. Zero writes as fast as the sink accepts.
func WithPace(d time.Duration) Option {
	return func(p *Pipeline) { p.pace = d }
}

// WithDrainAfter overrides DrainAfter.
func WithDrainAfter(d time.Duration) Option {
	return func(p *Pipeline) { p.drain = d }
}

func NewPipeline(cfg config.AudioConfig, sink Sink, opts ...Option) (*Pipeline, error) {
	enc, err := codec.CreateEncoder(cfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		sink:    sink,
		encoder: enc,
		pace:    config.FrameDuration,
		drain:   DrainAfter,
		notify:  make(chan struct{}, 1),
		flush:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.resetResampler(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) resetResampler() error {
	p.resample = int(p.cfg.SampleRate) != config.OutputSampleRate
	if !p.resample {
		return nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(config.OutputSampleRate),
		OutputRate: float64(p.cfg.SampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return fmt.Errorf("failed to create resampler: %w", err)
	}
	p.resampler = rs
	return nil
}

// Enqueue decodes a base64 PCM16 fragment immediately and appends it to the queue.
func (p *Pipeline) Enqueue(fragment string) (int, error) {
	samples, err := convert.DecodeBase64PCM16(fragment)
	if err != nil {
		return -1, err
	}
	p.mu.Lock()
	b := Buffer{Index: p.next, Samples: samples}
	p.next++
	p.queue = append(p.queue, b)
	p.mu.Unlock()

	signal(p.notify)
	return b.Index, nil
}

// Flush marks the end of the current response. Its tail plays as soon as
// the queue is empty instead of after DrainAfter.
func (p *Pipeline) Flush() {
	signal(p.flush)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Idle reports whether nothing is playing or queued.
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing && len(p.queue) == 0
}

// Queued returns the number of buffers waiting to play.
func (p *Pipeline) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Reset drops queued buffers, the unplayed tail and restarts arrival numbering.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.queue = nil
	p.next = 0
	p.discard = true
	p.mu.Unlock()
	signal(p.notify)
}

// dequeue returns the next buffer. reset reports that Reset was called since
// the previous dequeue.
func (p *Pipeline) dequeue() (b Buffer, ok, reset bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reset = p.discard
	p.discard = false
	if len(p.queue) == 0 {
		return Buffer{}, false, reset
	}
	b = p.queue[0]
	p.queue = p.queue[1:]
	p.playing = true
	return b, true, reset
}

func (p *Pipeline) setIdle() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// Run plays buffers one at a time until ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	defer log.Debug().Msg("Playback pipeline stopped")
	for {
		b, ok, reset := p.dequeue()
		if reset {
			p.clearStream()
		}
		if !ok {
			if p.inTotal > 0 {
				if !p.waitTail(ctx) {
					continue
				}
				if err := p.finish(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				continue
			}
			p.setIdle()
			if p.OnIdle != nil {
				p.OnIdle()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
			case <-p.flush:
			}
			continue
		}
		if p.OnStart != nil {
			p.OnStart(b)
		}
		if err := p.play(ctx, b); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// waitTail waits for the next fragment of the current response. It reports
// true when the response has ended and its tail should be played.
func (p *Pipeline) waitTail(ctx context.Context) bool {
	timer := time.NewTimer(p.drain)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-p.notify:
		return false
	case <-p.flush:
		return true
	case <-timer.C:
		return true
	}
}

func (p *Pipeline) clearStream() {
	p.pending = nil
	p.inTotal = 0
	p.outTotal = 0
	if p.resample {
		p.resampler.Reset()
	}
}

// expected is the number of track-rate samples the stream should produce.
func (p *Pipeline) expected() int {
	return p.inTotal * int(p.cfg.SampleRate) / config.OutputSampleRate
}

// take counts converted samples against the expected stream length.
func (p *Pipeline) take(out []float32) []float32 {
	room := p.expected() - p.outTotal
	if room < 0 {
		room = 0
	}
	if len(out) > room {
		out = out[:room]
	}
	p.outTotal += len(out)
	return out
}

func (p *Pipeline) play(ctx context.Context, b Buffer) error {
	p.inTotal += len(b.Samples)
	samples, err := p.toTrackRate(b.Samples)
	if err != nil {
		return err
	}
	return p.write(ctx, b.Index, p.take(samples), false)
}

// finish plays the rest of the response: the resampler tail, silence up to
// the expected length and a padded final frame.
func (p *Pipeline) finish(ctx context.Context) error {
	var tail []float32
	if p.resample {
		out, err := p.resampler.Flush()
		if err != nil {
			return fmt.Errorf("flush playback resampler: %w", err)
		}
		tail = p.take(toFloat32(out))
	}
	if missing := p.expected() - p.outTotal; missing > 0 {
		tail = append(tail, make([]float32, missing)...)
		p.outTotal += missing
	}
	err := p.write(ctx, -1, tail, true)
	p.clearStream()
	return err
}

// write frames pcm after the carried samples. Without last, a partial frame
// is kept for the next call.
func (p *Pipeline) write(ctx context.Context, index int, samples []float32, last bool) error {
	pcm := append(p.pending, convert.Float32ToInt16(samples)...)
	frameSize := p.cfg.FrameSamples
	full := len(pcm) / frameSize * frameSize
	if last && full < len(pcm) {
		pcm = append(pcm, make([]int16, frameSize-(len(pcm)-full))...)
		full = len(pcm)
	}
	p.pending = append([]int16(nil), pcm[full:]...)

	var ticker *time.Ticker
	if p.pace > 0 {
		ticker = time.NewTicker(p.pace)
		defer ticker.Stop()
	}

	for start := 0; start < full; start += frameSize {
		payload, err := p.encoder.Encode(pcm[start : start+frameSize])
		if err != nil {
			log.Warn().Err(err).Int("buffer", index).Msg("Failed to encode playback frame")
			continue
		}
		if err := p.sink.WriteSample(media.Sample{Data: payload, Duration: config.FrameDuration}); err != nil {
			return fmt.Errorf("write playback sample: %w", err)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

func (p *Pipeline) toTrackRate(samples []float32) ([]float32, error) {
	if !p.resample {
		return samples, nil
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := p.resampler.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample playback buffer: %w", err)
	}
	return toFloat32(out), nil
}

func toFloat32(src []float64) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s)
	}
	return out
}
