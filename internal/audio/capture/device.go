package capture

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"voice-relay/internal/audio/config"
	"voice-relay/internal/audio/convert"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// MicSource captures the default input device through malgo.
type MicSource struct {
	samples chan []float32
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	rate    int
	muted   atomic.Bool
}

// NewMicSource opens the default capture device at the given rate, mono S16.
func NewMicSource(sampleRate uint32, bufferFrames int) (*MicSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("component", "malgo").Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	ms := &MicSource{
		samples: make(chan []float32, bufferFrames),
		ctx:     ctx,
		rate:    int(sampleRate),
	}

	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatS16
	capCfg.Capture.Channels = 1
	capCfg.SampleRate = sampleRate
	if runtime.GOOS == "linux" {
		capCfg.Alsa.NoMMap = 1
	}

	onCapture := func(_, input []byte, frameCount uint32) {
		if ms.muted.Load() {
			return
		}
		block := convert.DecodePCM16(input[:frameCount*2])
		select {
		case ms.samples <- block:
		default:
			// reader is behind, drop the block
		}
	}

	device, err := malgo.InitDevice(ctx.Context, capCfg, malgo.DeviceCallbacks{Data: onCapture})
	if err != nil {
		ms.Close()
		return nil, fmt.Errorf("%w: failed to open capture device: %v", ErrPermission, err)
	}
	ms.device = device

	if err := ms.device.Start(); err != nil {
		ms.Close()
		return nil, fmt.Errorf("%w: failed to start capture device: %v", ErrPermission, err)
	}
	log.Info().Uint32("rate", sampleRate).Msg("Capture device started")
	return ms, nil
}

// NewDefaultMicSource opens the microphone at the rate of the native capture block.
func NewDefaultMicSource() (*MicSource, error) {
	return NewMicSource(config.CaptureRate, 64)
}

func (ms *MicSource) SampleRate() int { return ms.rate }

func (ms *MicSource) ReadSamples(ctx context.Context) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case block, ok := <-ms.samples:
		if !ok {
			return nil, ErrClosed
		}
		return block, nil
	}
}

func (ms *MicSource) SetMuted(muted bool) { ms.muted.Store(muted) }
func (ms *MicSource) Muted() bool { return ms.muted.Load() }

func (ms *MicSource) Close() {
	if ms.device != nil {
		ms.device.Uninit()
		ms.device = nil
	}
	if ms.ctx != nil {
		_ = ms.ctx.Uninit()
		ms.ctx.Free()
		ms.ctx = nil
	}
}
