package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"voice-relay/pkg/connection"
	"voice-relay/pkg/errreport"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RequestTimeout bounds create, join and list requests. A late ack is ignored.
const RequestTimeout = 5 * time.Second

var (
	ErrTimeout = errors.New("signaling request timed out")
	ErrClosed  = errors.New("signaling connection closed")
)

// Client is the peer side of the signaling connection.
type Client struct {
	sock    *connection.Socket
	timeout time.Duration
	events  chan Event

	mu      sync.Mutex
	pending map[string]chan AckPayload
}

type ClientOption func(*Client)

func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to the signaling server at url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	sock, err := connection.Dial(ctx, url, nil)
	if err != nil {
		return nil, errreport.Wrap(errreport.KindSignaling, "dial signaling", err)
	}
	c := &Client{
		sock:    sock,
		timeout: RequestTimeout,
		events:  make(chan Event, 64),
		pending: make(map[string]chan AckPayload),
	}
	for _, opt := range opts {
		opt(c)
	}
	go sock.WritePump()
	go c.readLoop()
	log.Info().Str("url", url).Msg("Connected to signaling server")
	return c, nil
}

// Events delivers server pushes and relayed signals. It is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.sock.Done()
}

func (c *Client) Close() {
	c.sock.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)
	c.sock.ReadPump(c.handle)
}

func (c *Client) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed signaling message")
		return
	}
	if msg.Type == TypeAck {
		c.resolve(&msg)
		return
	}
	ev, err := DecodeEvent(&msg)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed signaling message")
		return
	}
	select {
	case c.events <- ev:
	case <-c.sock.Done():
	}
}

func (c *Client) resolve(msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("id", msg.ID).Msg("Ignoring ack for expired request")
		return
	}
	var ack AckPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			ack = AckPayload{Error: err.Error()}
		}
	}
	ch <- ack
}

// request sends a message and waits for its ack, at most c.timeout.
func (c *Client) request(ctx context.Context, t MessageType, payload any) (AckPayload, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return AckPayload{}, err
	}
	msg.ID = uuid.NewString()
	ch := make(chan AckPayload, 1)

	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if !c.sock.Send(msg) {
		return AckPayload{}, ErrClosed
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		return ack, ackError(ack)
	case <-timer.C:
		return AckPayload{}, ErrTimeout
	case <-ctx.Done():
		return AckPayload{}, ctx.Err()
	case <-c.sock.Done():
		return AckPayload{}, ErrClosed
	}
}

func ackError(ack AckPayload) error {
	switch ack.Error {
	case "":
		return nil
	case ErrRoomNotFound.Error():
		return ErrRoomNotFound
	case ErrRoomFull.Error():
		return ErrRoomFull
	case ErrSpeechUnavailable.Error():
		return ErrSpeechUnavailable
	default:
		return errors.New(ack.Error)
	}
}

func (c *Client) CreateRoom(ctx context.Context, hostName string) (string, error) {
	ack, err := c.request(ctx, TypeCreateRoom, CreateRoomPayload{HostName: hostName})
	if err != nil {
		return "", errreport.Wrap(errreport.KindSignaling, "create room", err)
	}
	return ack.RoomID, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.request(ctx, TypeJoinRoom, JoinRoomPayload{RoomID: roomID})
	return errreport.Wrap(errreport.KindSignaling, "join room", err)
}

func (c *Client) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	ack, err := c.request(ctx, TypeGetRoomList, nil)
	if err != nil {
		return nil, errreport.Wrap(errreport.KindSignaling, "list rooms", err)
	}
	return ack.Rooms, nil
}

// ConnectSpeech asks the server to open this host's upstream speech session.
func (c *Client) ConnectSpeech(ctx context.Context) error {
	_, err := c.request(ctx, TypeConnectSpeech, nil)
	return errreport.Wrap(errreport.KindUpstream, "connect speech service", err)
}

func (c *Client) DisconnectSpeech() error {
	return c.send(&Message{Type: TypeDisconnectSpeech})
}

// SendSpeechMessage passes an upstream-shaped event through the server.
func (c *Client) SendSpeechMessage(event any) error {
	msg, err := NewMessage(TypeSendSpeech, event)
	if err != nil {
		return err
	}
	return c.send(msg)
}

func (c *Client) SendOffer(target string, offer webrtc.SessionDescription, sessionID string) error {
	return c.relay(TypeOffer, target, OfferPayload{Offer: offer, SessionID: sessionID})
}

func (c *Client) SendAnswer(target string, answer webrtc.SessionDescription) error {
	return c.relay(TypeAnswer, target, AnswerPayload{Answer: answer})
}

func (c *Client) SendCandidate(target string, candidate webrtc.ICECandidateInit, sessionID string) error {
	return c.relay(TypeICECandidate, target, CandidatePayload{Candidate: candidate, SessionID: sessionID})
}

func (c *Client) relay(t MessageType, target string, payload any) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	msg.Target = target
	return c.send(msg)
}

func (c *Client) send(msg *Message) error {
	if !c.sock.Send(msg) {
		return errreport.Wrap(errreport.KindSignaling, string(msg.Type), ErrClosed)
	}
	return nil
}
