package speech

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"voice-relay/pkg/config"

	"github.com/google/uuid"
)

// Client events.
const (
	EventSessionUpdate  = "session.update"
	EventAudioAppend    = "input_audio_buffer.append"
	EventAudioCommit    = "input_audio_buffer.commit"
	EventResponseCreate = "response.create"
)

// Server events.
const (
	EventError           = "error"
	EventSessionCreated  = "session.created"
	EventSessionUpdated  = "session.updated"
	EventSpeechStarted   = "input_audio_buffer.speech_started"
	EventResponseCreated = "response.created"
	EventAudioDelta      = "response.audio.delta"
	EventAudioDone       = "response.audio.done"
	EventResponseDone    = "response.done"
)

var ErrMalformedEvent = errors.New("malformed speech event")

func newEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// SessionUpdate configures voice, instructions, pcm16 audio in both
// directions and server-side speech detection.
func SessionUpdate(cfg config.Speech) map[string]any {
	return map[string]any{
		"event_id": newEventID(),
		"type":     EventSessionUpdate,
		"session": map[string]any{
			"instructions":        cfg.Instructions,
			"voice":               cfg.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           cfg.VADThreshold,
				"prefix_padding_ms":   cfg.PrefixPadMs,
				"silence_duration_ms": cfg.SilenceMs,
			},
		},
	}
}

// AppendAudio wraps one PCM16 frame.
func AppendAudio(pcm []byte) map[string]any {
	return map[string]any{
		"event_id": newEventID(),
		"type":     EventAudioAppend,
		"audio":    base64.StdEncoding.EncodeToString(pcm),
	}
}

func CommitAudio() map[string]any {
	return map[string]any{
		"event_id": newEventID(),
		"type":     EventAudioCommit,
	}
}

func CreateResponse() map[string]any {
	return map[string]any{
		"event_id": newEventID(),
		"type":     EventResponseCreate,
	}
}

// ServerEvent holds the fields of an upstream event the relay acts on.
// The raw bytes are forwarded untouched.
type ServerEvent struct {
	Type    string       `json:"type"`
	EventID string       `json:"event_id,omitempty"`
	Delta   string       `json:"delta,omitempty"`
	Error   *ServerError `json:"error,omitempty"`
}

type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ParseEvent reads the header of any realtime event, client or server.
func ParseEvent(raw []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return ServerEvent{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// Completes reports whether the event ends the response in flight.
func (e ServerEvent) Completes() bool {
	return e.Type == EventResponseDone || e.Type == EventError
}
