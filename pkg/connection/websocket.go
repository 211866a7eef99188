package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Speech events carry base64 audio.
	maxMessageSize = 1024 * 1024

	sendBuffer = 256
)

var ErrClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	ReadBufferSize:    1024 * 16,
	WriteBufferSize:   1024 * 16,
	EnableCompression: false,
}

// Socket wraps a websocket connection with one reader and one writer goroutine.
// All writes go through Send so WritePump is the only writer.
type Socket struct {
	conn      *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *Socket {
	return &Socket{
		conn: conn,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
}

// Upgrade turns an HTTP request into a Socket.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade to websocket: %w", err)
	}
	return newSocket(conn), nil
}

// Dial opens a client Socket to url.
func Dial(ctx context.Context, url string, header http.Header) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return newSocket(conn), nil
}

func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// ReadPump delivers every text or binary message to onMessage until the
// connection fails or is closed. It must be the only reader.
func (s *Socket) ReadPump(onMessage func(data []byte)) error {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("remote", s.RemoteAddr()).Msg("Websocket read failed")
				return err
			}
			return nil
		}
		onMessage(data)
	}
}

// WritePump writes queued values as JSON and keeps the connection alive with pings.
func (s *Socket) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case v := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(v); err != nil {
				log.Debug().Err(err).Str("remote", s.RemoteAddr()).Msg("Websocket write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues v for writing. It reports false if the socket is closed or
// the peer is too slow to keep up.
func (s *Socket) Send(v any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- v:
		return true
	case <-s.done:
		return false
	default:
		log.Warn().Str("remote", s.RemoteAddr()).Msg("Send buffer full, dropping message")
		return false
	}
}

// Done is closed once the socket has been closed.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close stops the pumps. The close frame is written by WritePump.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// unblock ReadPump
		s.conn.SetReadDeadline(time.Now().Add(writeWait))
	})
}
