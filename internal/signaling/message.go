package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// MessageType names a signaling message on the wire.
type MessageType string

// Client to server.
const (
	TypeCreateRoom       MessageType = "create-room"
	TypeJoinRoom         MessageType = "join-room"
	TypeGetRoomList      MessageType = "get-room-list"
	TypeConnectSpeech    MessageType = "connect-speech-service"
	TypeDisconnectSpeech MessageType = "disconnect-speech-service"
	TypeSendSpeech       MessageType = "send-speech-service-message"
)

// Peer to peer, relayed by the server.
const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
)

// Server to client.
const (
	TypeAck                MessageType = "ack"
	TypeRoomListUpdated    MessageType = "room-list-updated"
	TypeUserJoined         MessageType = "user-joined"
	TypeUserLeft           MessageType = "user-left"
	TypeSpeechConnected    MessageType = "speech-connected"
	TypeSpeechDisconnected MessageType = "speech-disconnected"
	TypeSpeechError        MessageType = "speech-error"
	TypeSpeechMessage      MessageType = "speech-message"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is the envelope of every signaling frame.
// ID correlates a request with its ack. Target names the receiving
// connection of a relayed message and From is stamped by the server.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of type t. A nil payload is omitted.
func NewMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

func (m *Message) decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// RoomInfo is one entry of the room list.
type RoomInfo struct {
	RoomID     string    `json:"roomId"`
	HostName   string    `json:"hostName"`
	GuestCount int       `json:"guestCount"`
	MaxGuests  int       `json:"maxGuests"`
	CreatedAt  time.Time `json:"createdAt"`
}

type CreateRoomPayload struct {
	HostName string `json:"hostName"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type OfferPayload struct {
	Offer     webrtc.SessionDescription `json:"offer"`
	SessionID string                    `json:"sessionId,omitempty"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	SessionID string                  `json:"sessionId,omitempty"`
}

// AckPayload answers a request. Only the fields relevant to the request are set.
type AckPayload struct {
	Success bool       `json:"success,omitempty"`
	Error   string     `json:"error,omitempty"`
	RoomID  string     `json:"roomId,omitempty"`
	Rooms   []RoomInfo `json:"rooms,omitempty"`
}

type RoomListPayload struct {
	Rooms []RoomInfo `json:"rooms"`
}

type PeerPayload struct {
	ConnID string `json:"connId"`
}

type SpeechErrorPayload struct {
	Error string `json:"error"`
}

// Request is a client to server message. The set of implementations is closed.
type Request interface {
	request()
}

type CreateRoom struct{ HostName string }
type JoinRoom struct{ RoomID string }
type GetRoomList struct{}
type ConnectSpeech struct{}
type DisconnectSpeech struct{}

// SendSpeech carries an upstream-shaped speech service event.
type SendSpeech struct{ Event json.RawMessage }

// Relay is an offer, answer or candidate addressed to another connection.
// Its payload is forwarded without inspection.
type Relay struct {
	Type    MessageType
	Target  string
	Payload json.RawMessage
}

func (CreateRoom) request()       {}
func (JoinRoom) request()         {}
func (GetRoomList) request()      {}
func (ConnectSpeech) request()    {}
func (DisconnectSpeech) request() {}
func (SendSpeech) request()       {}
func (Relay) request()            {}

// DecodeRequest maps an envelope received by the server onto its Request.
func DecodeRequest(m *Message) (Request, error) {
	switch m.Type {
	case TypeCreateRoom:
		var p CreateRoomPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return CreateRoom{HostName: p.HostName}, nil
	case TypeJoinRoom:
		var p JoinRoomPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return JoinRoom{RoomID: p.RoomID}, nil
	case TypeGetRoomList:
		return GetRoomList{}, nil
	case TypeConnectSpeech:
		return ConnectSpeech{}, nil
	case TypeDisconnectSpeech:
		return DisconnectSpeech{}, nil
	case TypeSendSpeech:
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("%s: empty payload", m.Type)
		}
		return SendSpeech{Event: m.Payload}, nil
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if m.Target == "" {
			return nil, fmt.Errorf("%s: missing target", m.Type)
		}
		return Relay{Type: m.Type, Target: m.Target, Payload: m.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// Event is a server to client message, other than acks. The set of implementations is closed.
type Event interface {
	event()
}

type RoomListUpdated struct{ Rooms []RoomInfo }
type UserJoined struct{ ConnID string }
type UserLeft struct{ ConnID string }

type OfferReceived struct {
	From string
	OfferPayload
}

type AnswerReceived struct {
	From string
	AnswerPayload
}

type CandidateReceived struct {
	From string
	CandidatePayload
}

type SpeechConnected struct{}
type SpeechDisconnected struct{}
type SpeechError struct{ Message string }

// SpeechMessage is an upstream event forwarded verbatim.
type SpeechMessage struct{ Event json.RawMessage }

func (RoomListUpdated) event()    {}
func (UserJoined) event()         {}
func (UserLeft) event()           {}
func (OfferReceived) event()      {}
func (AnswerReceived) event()     {}
func (CandidateReceived) event()  {}
func (SpeechConnected) event()    {}
func (SpeechDisconnected) event() {}
func (SpeechError) event()        {}
func (SpeechMessage) event()      {}

// DecodeEvent maps an envelope received by a client onto its Event.
func DecodeEvent(m *Message) (Event, error) {
	switch m.Type {
	case TypeRoomListUpdated:
		var p RoomListPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return RoomListUpdated{Rooms: p.Rooms}, nil
	case TypeUserJoined, TypeUserLeft:
		var p PeerPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		if m.Type == TypeUserJoined {
			return UserJoined{ConnID: p.ConnID}, nil
		}
		return UserLeft{ConnID: p.ConnID}, nil
	case TypeOffer:
		var p OfferPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return OfferReceived{From: m.From, OfferPayload: p}, nil
	case TypeAnswer:
		var p AnswerPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return AnswerReceived{From: m.From, AnswerPayload: p}, nil
	case TypeICECandidate:
		var p CandidatePayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return CandidateReceived{From: m.From, CandidatePayload: p}, nil
	case TypeSpeechConnected:
		return SpeechConnected{}, nil
	case TypeSpeechDisconnected:
		return SpeechDisconnected{}, nil
	case TypeSpeechError:
		var p SpeechErrorPayload
		if err := m.decode(&p); err != nil {
			return nil, err
		}
		return SpeechError{Message: p.Error}, nil
	case TypeSpeechMessage:
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("%s: empty payload", m.Type)
		}
		return SpeechMessage{Event: m.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}
