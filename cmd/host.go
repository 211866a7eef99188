package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	audioconfig "voice-relay/internal/audio/config"
	"voice-relay/internal/relay"
	"voice-relay/internal/rtc"
	"voice-relay/pkg/interface/console"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var flagHostName string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a room and relay the guest to the speech service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context())
	},
}

func init() {
	hostCmd.Flags().StringVarP(&flagHostName, "name", "n", "host", "name shown in the room list")
	addClientFlags(hostCmd)
}

func runHost(ctx context.Context) error {
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

	var level atomic.Int64
	roomID := make(chan string, 1)
	host, err := relay.NewHost(sig, relay.HostOptions{
		Name:     flagHostName,
		Config:   cfg,
		Audio:    audio,
		API:      api,
		Reporter: reporter,
		OnRoom:   func(id string) { roomID <- id },
		OnLevel:  func(l int) { level.Store(int64(l)) },
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return host.Run(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case id := <-roomID:
			fmt.Fprintf(os.Stdout, "Room %s is open. Share the code with your guest.\n", id)
		}
		con := console.New(os.Stdin, os.Stdout, console.Controls{
			Clear: reporter.Clear,
			Status: func() console.Status {
				st := console.Status{
					Role:    rtc.Initiator.String(),
					Room:    host.RoomID(),
					Phase:   "waiting for guest",
					Speaker: host.Turn().Speaker().String(),
					Level:   int(level.Load()),
					Health:  string(reporter.Health()),
					Recent:  recentMessages(reporter, 5),
				}
				if s := host.Session(); s != nil {
					st.Phase = string(s.Phase())
				}
				return st
			},
		})
		defer cancel()
		return con.Run(ctx)
	})
	return g.Wait()
}
