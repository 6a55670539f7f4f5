package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// session is one websocket client. The pumps own conn and the receiving end
// of send; everything else belongs to the hub goroutine.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sid    string
	remote string

	id        identity.ID
	challenge string
	status    string
	rooms     map[string]struct{}
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		sid:    uuid.NewString(),
		remote: conn.RemoteAddr().String(),
		rooms:  make(map[string]struct{}),
	}
}

// queue hands a pre-encoded frame to the write pump without ever blocking
// the hub.
func (s *session) queue(data []byte, log *slog.Logger) {
	select {
	case s.send <- data:
	default:
		log.Warn("send buffer full, dropping frame", "session", s.sid)
	}
}

// readPump decodes inbound frames and feeds them to the hub. It owns all
// reads on the connection.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("read failed", "session", s.sid, "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msgs, err := protocol.DecodeFrame(data)
		if err != nil {
			s.hub.log.Warn("bad frame", "session", s.sid, "error", err)
			continue
		}
		for _, m := range msgs {
			s.hub.inbound <- envelope{s: s, m: m}
		}
	}
}

// writePump writes queued frames and keeps the socket alive with pings. It
// owns all writes on the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
