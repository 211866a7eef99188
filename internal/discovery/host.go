package discovery

import (
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

const (
	ProtocolID = "/voice-relay/announce/1.0.0"
	Rendezvous = "voice-relay-signaling-6f1c2a"
)

type Config struct {
	ListenHost     string
	ListenPort     int
	Rendezvous     string
	ProtocolID     string
	BootstrapPeers []multiaddr.Multiaddr
	MDNS           bool
	DHT            bool
}

func DefaultConfig() Config {
	return Config{
		ListenHost:     "0.0.0.0",
		ListenPort:     0,
		Rendezvous:     Rendezvous,
		ProtocolID:     ProtocolID,
		BootstrapPeers: dht.DefaultBootstrapPeers,
		MDNS:           true,
		DHT:            false,
	}
}

// newHost creates a libp2p host with a fresh identity listening on cfg's address.
func newHost(cfg Config) (host.Host, error) {
	prvKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, err
	}
	listen, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenHost, cfg.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(listen),
		libp2p.Identity(prvKey),
	)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("host", h.ID().String()).Any("address", h.Addrs()).Msg("Discovery host created")
	return h, nil
}

func bootstrapPeers(addrs []multiaddr.Multiaddr) []peer.AddrInfo {
	peers := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Debug().Err(err).Str("addr", addr.String()).Msg("Skipping bootstrap peer")
			continue
		}
		peers = append(peers, *info)
	}
	return peers
}
