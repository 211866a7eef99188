package playback

import (
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// Speaker plays PCM frames on the default output device through malgo.
type Speaker struct {
	InChan chan []int16
	device *malgo.Device
	ctx    *malgo.AllocatedContext
	paused atomic.Bool
	carry  []int16
}

func NewSpeaker(sampleRate uint32, bufferFrames int) (*Speaker, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("component", "malgo").Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	sp := &Speaker{
		InChan: make(chan []int16, bufferFrames),
		ctx:    ctx,
	}

	playCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playCfg.Playback.Format = malgo.FormatS16
	playCfg.Playback.Channels = 1
	playCfg.SampleRate = sampleRate

	device, err := malgo.InitDevice(ctx.Context, playCfg, malgo.DeviceCallbacks{Data: sp.fill})
	if err != nil {
		sp.Close()
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}
	sp.device = device

	if err := sp.device.Start(); err != nil {
		sp.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	log.Info().Uint32("rate", sampleRate).Msg("Playback device started")
	return sp, nil
}

// fill copies queued samples into the device buffer, padding with silence.
func (sp *Speaker) fill(out, _ []byte, _ uint32) {
	want := len(out) / 2
	written := 0
	for written < want && !sp.paused.Load() {
		if len(sp.carry) == 0 {
			select {
			case frame := <-sp.InChan:
				sp.carry = frame
			default:
			}
			if len(sp.carry) == 0 {
				break
			}
		}
		n := min(len(sp.carry), want-written)
		for i := 0; i < n; i++ {
			s := sp.carry[i]
			out[(written+i)*2] = byte(s)
			out[(written+i)*2+1] = byte(s >> 8)
		}
		sp.carry = sp.carry[n:]
		written += n
	}
	for i := written * 2; i < len(out); i++ {
		out[i] = 0
	}
}

// Write queues one frame, dropping it when the device is behind.
func (sp *Speaker) Write(frame []int16) bool {
	select {
	case sp.InChan <- frame:
		return true
	default:
		return false
	}
}

func (sp *Speaker) SetPaused(paused bool) { sp.paused.Store(paused) }

func (sp *Speaker) Close() {
	if sp.device != nil {
		sp.device.Uninit()
		sp.device = nil
	}
	if sp.ctx != nil {
		_ = sp.ctx.Uninit()
		sp.ctx.Free()
		sp.ctx = nil
	}
}
