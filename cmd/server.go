package main

import (
	"context"
	"fmt"
	"net"

	"voice-relay/internal/discovery"
	"voice-relay/internal/signaling"
	"voice-relay/internal/speech"
	"voice-relay/pkg/system"
	"voice-relay/pkg/web"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServerAddr     string
	flagServerTLS      bool
	flagServerAnnounce bool
	flagServerDHT      bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the signaling server and speech service bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.ListenAddr = flagServerAddr
		}
		if cmd.Flags().Changed("tls") {
			cfg.TLSEnabled = flagServerTLS
		}
		if cmd.Flags().Changed("announce") {
			cfg.DiscoveryEnabled = flagServerAnnounce
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		return runServer(cmd.Context())
	},
}

func init() {
	serverCmd.Flags().StringVar(&flagServerAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	serverCmd.Flags().BoolVar(&flagServerTLS, "tls", false, "serve HTTPS with a self-signed certificate")
	serverCmd.Flags().BoolVar(&flagServerAnnounce, "announce", false, "announce the server to peers over libp2p")
	serverCmd.Flags().BoolVar(&flagServerDHT, "dht", false, "also advertise on the public DHT")
}

func runServer(ctx context.Context) error {
	reporter := newReporter()
	rooms := signaling.NewRegistry()
	hub := signaling.NewHub(rooms, signaling.WithReporter(reporter))
	bridge := speech.NewBridge(cfg.Speech, hub, speech.WithReporter(reporter))
	defer bridge.Close()
	hub.AttachSpeech(bridge)
	go hub.Run(ctx)

	publicURL := announcedURL(cfg.ListenAddr, cfg.TLSEnabled)
	if cfg.DiscoveryEnabled {
		dcfg := discovery.DefaultConfig()
		dcfg.DHT = flagServerDHT
		announcer := discovery.NewAnnouncer(dcfg, func() discovery.Announcement {
			return discovery.Announcement{
				Name:         "voice-relay",
				SignalingURL: publicURL,
				Rooms:        len(hub.Rooms()),
				TLS:          cfg.TLSEnabled,
			}
		})
		if err := announcer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Discovery disabled")
		} else {
			defer announcer.Close()
		}
	}

	log.Info().Str("signaling", publicURL).Msg("Starting signaling server")
	return web.Serve(ctx, cfg.ListenAddr, signaling.NewHandler(hub, publicURL, true), cfg.TLSEnabled)
}

// announcedURL is the websocket URL peers on the LAN should dial.
func announcedURL(listenAddr string, useTLS bool) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		port = "8080"
	}
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	ip := system.GetLocalIP()
	if ip == "" {
		ip = "localhost"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, net.JoinHostPort(ip, port))
}
