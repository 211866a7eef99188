package signaling

import (
	"encoding/json"
	"html/template"
	"net/http"

	"voice-relay/pkg/connection"
	"voice-relay/tmplt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var statusPage = template.Must(template.New("status").Parse(tmplt.StatusPage))

// StatusData feeds the status page.
type StatusData struct {
	SignalingURL  string
	Connected     int
	SpeechEnabled bool
	Rooms         []RoomInfo
}

// ServeWs upgrades a request and attaches the connection to the hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := connection.Upgrade(w, r)
		if err != nil {
			log.Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}

		peer := NewPeer(uuid.NewString(), sock)
		hub.Register(peer)
		log.Info().Str("conn", peer.ID).Str("remote", sock.RemoteAddr()).Msg("Client connected")

		go sock.WritePump()
		go func() {
			defer hub.Unregister(peer)
			sock.ReadPump(func(data []byte) {
				var msg Message
				if err := json.Unmarshal(data, &msg); err != nil {
					hub.malformed(peer, err)
					return
				}
				hub.Dispatch(peer, &msg)
			})
			log.Info().Str("conn", peer.ID).Msg("Client disconnected")
		}()
	}
}

// NewHandler routes the websocket endpoint, health check and status page.
func NewHandler(hub *Hub, signalingURL string, speechEnabled bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data := StatusData{
			SignalingURL:  signalingURL,
			Connected:     hub.Connected(),
			SpeechEnabled: speechEnabled,
			Rooms:         hub.Rooms(),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statusPage.Execute(w, data); err != nil {
			log.Error().Err(err).Msg("Failed to render status page")
		}
	})
	return mux
}
