package main

import (
	"context"
	"time"

	"voice-relay/internal/discovery"
	"voice-relay/internal/signaling"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const stunProbeTimeout = 5 * time.Second

var (
	flagClientServer   string
	flagClientDiscover bool
)

// addClientFlags registers the flags shared by commands that dial signaling.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagClientServer, "server", "s", "", "signaling websocket URL (overrides SIGNALING_URL)")
	cmd.Flags().BoolVar(&flagClientDiscover, "discover", false, "find the signaling server on the local network")
}

// connectSignaling resolves the signaling URL from flags, discovery or config and dials it.
func connectSignaling(ctx context.Context) (*signaling.Client, error) {
	switch {
	case flagClientServer != "":
		cfg.SignalingURL = flagClientServer
	case flagClientDiscover:
		ann, err := discovery.Find(ctx, discovery.DefaultConfig())
		if err != nil {
			return nil, err
		}
		log.Info().Str("name", ann.Name).Str("url", ann.SignalingURL).Msg("Discovered signaling server")
		cfg.SignalingURL = ann.SignalingURL
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return signaling.Dial(ctx, cfg.SignalingURL)
}

// probeStun reports reachable STUN servers without blocking the call for long.
func probeStun(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, stunProbeTimeout)
	defer cancel()
	if cfg.ProbeAll(ctx) == 0 {
		log.Warn().Msg("No STUN server reachable, only local candidates will be gathered")
	}
}
