package main

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"voice-relay/internal/audio/capture"
	audioconfig "voice-relay/internal/audio/config"
	"voice-relay/internal/audio/playback"
	"voice-relay/internal/relay"
	"voice-relay/internal/rtc"
	"voice-relay/pkg/errreport"
	"voice-relay/pkg/interface/console"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const deviceBufferFrames = 64

var guestCmd = &cobra.Command{
	Use:   "guest <room>",
	Short: "Join a room and talk to the speech model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGuest(cmd.Context(), strings.ToLower(strings.TrimSpace(args[0])))
	},
}

func init() {
	addClientFlags(guestCmd)
}

func runGuest(ctx context.Context, roomID string) error {
	audio, err := audioconfig.ForCodec(cfg.AudioCodec)
	if err != nil {
		return err
	}
	sig, err := connectSignaling(ctx)
	if err != nil {
		return err
	}
	defer sig.Close()
	probeStun(ctx)

	api, err := rtc.NewAPI(audio)
	if err != nil {
		return err
	}
	reporter := newReporter()

	opts := relay.GuestOptions{
		RoomID:   roomID,
		Config:   cfg,
		Audio:    audio,
		API:      api,
		Reporter: reporter,
	}
	var muted atomic.Bool
	mic, err := capture.NewMicSource(audio.SampleRate, deviceBufferFrames)
	if err != nil {
		reporter.Report(errreport.KindPermission, "microphone", err)
	} else {
		defer mic.Close()
		opts.Mic = mic
	}
	speaker, err := playback.NewSpeaker(audio.SampleRate, deviceBufferFrames)
	if err != nil {
		reporter.Report(errreport.KindAudio, "speaker", err)
	} else {
		defer speaker.Close()
		opts.Speaker = speaker
	}
	guest := relay.NewGuest(sig, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return guest.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		con := console.New(os.Stdin, os.Stdout, console.Controls{
			SetMuted: func(m bool) {
				muted.Store(m)
				if mic != nil {
					mic.SetMuted(m)
				}
			},
			Clear: reporter.Clear,
			Status: func() console.Status {
				return console.Status{
					Role:   rtc.Responder.String(),
					Room:   roomID,
					Phase:  string(guest.Session().Phase()),
					Muted:  muted.Load(),
					Health: string(reporter.Health()),
					Recent: recentMessages(reporter, 5),
				}
			},
		})
		return con.Run(ctx)
	})
	return g.Wait()
}
