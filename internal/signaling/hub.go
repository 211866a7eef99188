package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"voice-relay/pkg/errreport"

	"github.com/rs/zerolog/log"
)

var ErrSpeechUnavailable = errors.New("speech service unavailable")

// SpeechBridge owns one upstream speech session per host connection.
// Send and Disconnect must not call back into the hub synchronously.
type SpeechBridge interface {
	Connect(ctx context.Context, hostID string) error
	Send(hostID string, event json.RawMessage) error
	Disconnect(hostID string) bool
}

// Sender queues a value for delivery to one connection.
type Sender interface {
	Send(v any) bool
}

// Peer is one connected signaling client. Its context ends when the hub
// unregisters it.
type Peer struct {
	ID     string
	sender Sender

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPeer(id string, sender Sender) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{ID: id, sender: sender, ctx: ctx, cancel: cancel}
}

func (p *Peer) send(msg *Message) bool {
	return p.sender.Send(msg)
}

type inbound struct {
	peer *Peer
	msg  *Message
}

type delivery struct {
	to  string
	msg *Message
}

// Hub relays signaling between peers and owns all peer state.
// Registry mutations happen only on the Run goroutine.
type Hub struct {
	rooms    *Registry
	bridge   SpeechBridge
	reporter *errreport.Reporter

	peers     map[string]*Peer
	connected atomic.Int64

	register   chan *Peer
	unregister chan *Peer
	inbound    chan inbound
	outbox     chan delivery
	done       chan struct{}
}

type HubOption func(*Hub)

func WithReporter(r *errreport.Reporter) HubOption {
	return func(h *Hub) { h.reporter = r }
}

func NewHub(rooms *Registry, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      rooms,
		peers:      make(map[string]*Peer),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		inbound:    make(chan inbound, 64),
		outbox:     make(chan delivery, 256),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	rooms.OnChange(h.broadcastRooms)
	return h
}

// AttachSpeech sets the bridge used for speech commands. Call before Run.
func (h *Hub) AttachSpeech(b SpeechBridge) {
	h.bridge = b
}

func (h *Hub) Rooms() []RoomInfo {
	return h.rooms.List()
}

// Connected returns the number of registered peers.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.done:
	}
}

func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

// Dispatch hands a message read from p to the hub.
func (h *Hub) Dispatch(p *Peer, msg *Message) {
	select {
	case h.inbound <- inbound{peer: p, msg: msg}:
	case <-h.done:
	}
}

// Deliver queues msg for connection to. Unknown connections are skipped.
func (h *Hub) Deliver(to string, msg *Message) {
	select {
	case h.outbox <- delivery{to: to, msg: msg}:
	case <-h.done:
	}
}

// Run is the single goroutine that manages peers and rooms.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case p := <-h.register:
			p.cancel()
			p.ctx, p.cancel = context.WithCancel(ctx)
			h.peers[p.ID] = p
			h.connected.Store(int64(len(h.peers)))
			log.Debug().Str("conn", p.ID).Msg("Client registered")

		case p := <-h.unregister:
			h.remove(p)

		case in := <-h.inbound:
			h.handle(in.peer, in.msg)

		case d := <-h.outbox:
			if p, ok := h.peers[d.to]; ok {
				p.send(d.msg)
			}
		}
	}
}

func (h *Hub) remove(p *Peer) {
	if _, ok := h.peers[p.ID]; !ok {
		return
	}
	delete(h.peers, p.ID)
	p.cancel()
	h.connected.Store(int64(len(h.peers)))
	log.Debug().Str("conn", p.ID).Msg("Client unregistered")

	if h.bridge != nil {
		go h.bridge.Disconnect(p.ID)
	}

	roomID, role, ok := h.rooms.RoomOf(p.ID)
	if !ok {
		return
	}
	left, _ := NewMessage(TypeUserLeft, PeerPayload{ConnID: p.ID})
	for _, id := range h.rooms.Members(roomID) {
		if id == p.ID {
			continue
		}
		if other, ok := h.peers[id]; ok {
			other.send(left)
		}
	}

	if role == RoleHost {
		h.rooms.Delete(roomID)
		return
	}
	h.rooms.Leave(roomID, p.ID)
	h.rooms.UpdateGuestCount(roomID)
}

func (h *Hub) handle(p *Peer, msg *Message) {
	req, err := DecodeRequest(msg)
	if err != nil {
		h.malformed(p, err)
		if msg.ID != "" {
			h.ack(p, msg.ID, AckPayload{Error: err.Error()})
		}
		return
	}

	switch r := req.(type) {
	case CreateRoom:
		prev, prevMembers := h.membership(p.ID)
		code := h.rooms.Create(p.ID, r.HostName)
		h.notifyLeft(p.ID, prev, code, prevMembers)
		h.ack(p, msg.ID, AckPayload{Success: true, RoomID: code})

	case JoinRoom:
		prev, prevMembers := h.membership(p.ID)
		if err := h.rooms.Join(r.RoomID, p.ID); err != nil {
			log.Info().Str("room", r.RoomID).Str("conn", p.ID).Err(err).Msg("Room join failed")
			h.ack(p, msg.ID, AckPayload{Error: err.Error()})
			return
		}
		h.notifyLeft(p.ID, prev, r.RoomID, prevMembers)
		joined, _ := NewMessage(TypeUserJoined, PeerPayload{ConnID: p.ID})
		for _, id := range h.rooms.Members(r.RoomID) {
			if other, ok := h.peers[id]; ok && id != p.ID {
				other.send(joined)
			}
		}
		h.ack(p, msg.ID, AckPayload{Success: true, RoomID: r.RoomID})

	case GetRoomList:
		h.ack(p, msg.ID, AckPayload{Success: true, Rooms: h.rooms.List()})

	case Relay:
		h.relay(p, r)

	case ConnectSpeech:
		if h.bridge == nil {
			h.ack(p, msg.ID, AckPayload{Error: ErrSpeechUnavailable.Error()})
			return
		}
		go func(peerCtx context.Context, id, reqID string) {
			ack := AckPayload{Success: true}
			if err := h.bridge.Connect(peerCtx, id); err != nil {
				ack = AckPayload{Error: err.Error()}
			}
			if m, err := ackMessage(reqID, ack); err == nil {
				h.Deliver(id, m)
			}
		}(p.ctx, p.ID, msg.ID)

	case DisconnectSpeech:
		if h.bridge != nil {
			go h.bridge.Disconnect(p.ID)
		}

	case SendSpeech:
		if h.bridge == nil {
			h.speechError(p, ErrSpeechUnavailable.Error())
			return
		}
		if err := h.bridge.Send(p.ID, r.Event); err != nil {
			h.speechError(p, err.Error())
		}
	}
}

// membership returns the room connID is in and that room's members.
func (h *Hub) membership(connID string) (string, []string) {
	roomID, _, ok := h.rooms.RoomOf(connID)
	if !ok {
		return "", nil
	}
	return roomID, h.rooms.Members(roomID)
}

// notifyLeft tells the members of prev that connID moved to next.
func (h *Hub) notifyLeft(connID, prev, next string, members []string) {
	if prev == "" || prev == next {
		return
	}
	left, _ := NewMessage(TypeUserLeft, PeerPayload{ConnID: connID})
	for _, id := range members {
		if other, ok := h.peers[id]; ok && id != connID {
			other.send(left)
		}
	}
}

// relay forwards an offer, answer or candidate to its target, stamped with the sender.
// Sender and target are not required to share a room.
func (h *Hub) relay(p *Peer, r Relay) {
	target, ok := h.peers[r.Target]
	if !ok {
		log.Debug().Str("type", string(r.Type)).Str("conn", p.ID).Str("target", r.Target).Msg("Relay target not connected")
		return
	}
	fromRoom, _, _ := h.rooms.RoomOf(p.ID)
	toRoom, _, _ := h.rooms.RoomOf(r.Target)
	if fromRoom != toRoom {
		log.Warn().Str("type", string(r.Type)).Str("conn", p.ID).Str("target", r.Target).Msg("Relaying between connections in different rooms")
	}
	target.send(&Message{Type: r.Type, From: p.ID, Payload: r.Payload})
	log.Debug().Str("type", string(r.Type)).Str("conn", p.ID).Str("target", r.Target).Msg("Signal relayed")
}

func (h *Hub) broadcastRooms(rooms []RoomInfo) {
	msg, err := NewMessage(TypeRoomListUpdated, RoomListPayload{Rooms: rooms})
	if err != nil {
		return
	}
	for _, p := range h.peers {
		p.send(msg)
	}
}

func (h *Hub) ack(p *Peer, id string, payload AckPayload) {
	if id == "" {
		return
	}
	msg, err := ackMessage(id, payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build ack")
		return
	}
	p.send(msg)
}

func ackMessage(id string, payload AckPayload) (*Message, error) {
	msg, err := NewMessage(TypeAck, payload)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

func (h *Hub) speechError(p *Peer, text string) {
	msg, _ := NewMessage(TypeSpeechError, SpeechErrorPayload{Error: text})
	p.send(msg)
}

func (h *Hub) malformed(p *Peer, err error) {
	log.Warn().Err(err).Str("conn", p.ID).Msg("Dropping malformed signaling message")
	if h.reporter != nil {
		h.reporter.Report(errreport.KindMalformed, "signaling", err)
	}
}

// SpeechConnected, SpeechDisconnected, SpeechError and SpeechMessage
// deliver bridge notifications to the owning host.

func (h *Hub) SpeechConnected(hostID string) {
	msg, _ := NewMessage(TypeSpeechConnected, nil)
	h.Deliver(hostID, msg)
}

func (h *Hub) SpeechDisconnected(hostID string) {
	msg, _ := NewMessage(TypeSpeechDisconnected, nil)
	h.Deliver(hostID, msg)
}

func (h *Hub) SpeechError(hostID, text string) {
	msg, _ := NewMessage(TypeSpeechError, SpeechErrorPayload{Error: text})
	h.Deliver(hostID, msg)
}

func (h *Hub) SpeechMessage(hostID string, event json.RawMessage) {
	h.Deliver(hostID, &Message{Type: TypeSpeechMessage, Payload: event})
}
