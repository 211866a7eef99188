package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/rs/zerolog/log"
)

// MDNSTimeout is how long Find waits on the local network before trying the DHT.
const MDNSTimeout = 10 * time.Second

var ErrNotFound = errors.New("discovery: no signaling server found")

type notifee struct {
	peers chan peer.AddrInfo
}

func (n *notifee) HandlePeerFound(info peer.AddrInfo) {
	select {
	case n.peers <- info:
	default:
	}
}

// Announcer answers discovery queries with the current announcement.
type Announcer struct {
	cfg  Config
	info func() Announcement

	mu   sync.Mutex
	host host.Host
	mdns mdns.Service
	dht  *dht.IpfsDHT
}

// NewAnnouncer serves info(), evaluated on every query.
func NewAnnouncer(cfg Config, info func() Announcement) *Announcer {
	return &Announcer{cfg: cfg, info: info}
}

// Start creates the host and begins advertising. It does not block.
func (a *Announcer) Start(ctx context.Context) error {
	h, err := newHost(a.cfg)
	if err != nil {
		return err
	}
	h.SetStreamHandler(protocol.ID(a.cfg.ProtocolID), a.handleStream)

	a.mu.Lock()
	a.host = h
	a.mu.Unlock()

	if a.cfg.MDNS {
		svc := mdns.NewMdnsService(h, a.cfg.Rendezvous, &notifee{peers: make(chan peer.AddrInfo, 1)})
		if err := svc.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start mDNS service")
		} else {
			a.mu.Lock()
			a.mdns = svc
			a.mu.Unlock()
		}
	}
	if a.cfg.DHT {
		go a.advertise(ctx, h)
	}
	log.Info().Str("host", h.ID().String()).Str("rendezvous", a.cfg.Rendezvous).Msg("Announcing signaling server")
	return nil
}

func (a *Announcer) advertise(ctx context.Context, h host.Host) {
	kademliaDHT, err := dht.New(ctx, h, dht.BootstrapPeers(bootstrapPeers(a.cfg.BootstrapPeers)...))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DHT")
		return
	}
	a.mu.Lock()
	a.dht = kademliaDHT
	a.mu.Unlock()

	log.Debug().Msg("Bootstrapping the DHT...")
	if err := kademliaDHT.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("DHT bootstrap failed")
		return
	}
	routingDiscovery := drouting.NewRoutingDiscovery(kademliaDHT)
	dutil.Advertise(ctx, routingDiscovery, a.cfg.Rendezvous)
	log.Debug().Msg("Announced on the DHT")
}

func (a *Announcer) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := WriteAnnouncement(stream, a.info()); err != nil {
		log.Debug().Err(err).Str("peer", stream.Conn().RemotePeer().String()).Msg("Failed to answer discovery query")
	}
}

// AddrInfo returns how to reach the announcer, empty before Start.
func (a *Announcer) AddrInfo() peer.AddrInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.host == nil {
		return peer.AddrInfo{}
	}
	return peer.AddrInfo{ID: a.host.ID(), Addrs: a.host.Addrs()}
}

func (a *Announcer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mdns != nil {
		a.mdns.Close()
		a.mdns = nil
	}
	if a.dht != nil {
		a.dht.Close()
		a.dht = nil
	}
	if a.host != nil {
		err := a.host.Close()
		a.host = nil
		return err
	}
	return nil
}

// Query asks one peer for its announcement.
func Query(ctx context.Context, h host.Host, info peer.AddrInfo, protocolID string) (Announcement, error) {
	if err := h.Connect(ctx, info); err != nil {
		return Announcement{}, fmt.Errorf("connect %s: %w", info.ID, err)
	}
	stream, err := h.NewStream(ctx, info.ID, protocol.ID(protocolID))
	if err != nil {
		return Announcement{}, fmt.Errorf("open stream to %s: %w", info.ID, err)
	}
	defer stream.Close()
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}
	return ReadAnnouncement(stream)
}

// Find looks for a signaling server on the local network, then on the DHT
// when cfg enables it.
func Find(ctx context.Context, cfg Config) (Announcement, error) {
	h, err := newHost(cfg)
	if err != nil {
		return Announcement{}, err
	}
	defer h.Close()

	if cfg.MDNS {
		mdnsCtx, cancel := context.WithTimeout(ctx, MDNSTimeout)
		a, err := findMDNS(mdnsCtx, h, cfg)
		cancel()
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			return Announcement{}, ctx.Err()
		}
		log.Warn().Err(err).Msg("mDNS discovery failed")
	}
	if cfg.DHT {
		log.Info().Msg("Falling back to DHT discovery")
		return findDHT(ctx, h, cfg)
	}
	return Announcement{}, ErrNotFound
}

func findMDNS(ctx context.Context, h host.Host, cfg Config) (Announcement, error) {
	n := &notifee{peers: make(chan peer.AddrInfo, 16)}
	svc := mdns.NewMdnsService(h, cfg.Rendezvous, n)
	if err := svc.Start(); err != nil {
		return Announcement{}, fmt.Errorf("start mdns: %w", err)
	}
	defer svc.Close()

	for {
		select {
		case <-ctx.Done():
			return Announcement{}, ErrNotFound
		case info := <-n.peers:
			if a, ok := queryPeer(ctx, h, info, cfg); ok {
				return a, nil
			}
		}
	}
}

func findDHT(ctx context.Context, h host.Host, cfg Config) (Announcement, error) {
	kademliaDHT, err := dht.New(ctx, h, dht.BootstrapPeers(bootstrapPeers(cfg.BootstrapPeers)...))
	if err != nil {
		return Announcement{}, err
	}
	defer kademliaDHT.Close()
	if err := kademliaDHT.Bootstrap(ctx); err != nil {
		return Announcement{}, err
	}
	routingDiscovery := drouting.NewRoutingDiscovery(kademliaDHT)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		log.Info().Int("rt_size", kademliaDHT.RoutingTable().Size()).Msg("Searching for signaling servers...")
		peerChan, err := routingDiscovery.FindPeers(ctx, cfg.Rendezvous)
		if err != nil {
			return Announcement{}, err
		}
		for info := range peerChan {
			if a, ok := queryPeer(ctx, h, info, cfg); ok {
				return a, nil
			}
		}
		select {
		case <-ctx.Done():
			return Announcement{}, ErrNotFound
		case <-ticker.C:
		}
	}
}

func queryPeer(ctx context.Context, h host.Host, info peer.AddrInfo, cfg Config) (Announcement, bool) {
	if info.ID == h.ID() || len(info.Addrs) == 0 {
		return Announcement{}, false
	}
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a, err := Query(qctx, h, info, cfg.ProtocolID)
	if err != nil {
		log.Debug().Err(err).Str("peer", info.ID.String()).Msg("Discovery query failed")
		return Announcement{}, false
	}
	log.Info().Str("peer", info.ID.String()).Str("url", a.SignalingURL).Msg("Found signaling server")
	return a, true
}
