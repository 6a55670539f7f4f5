// Package signaling maintains the websocket link to the relay: lazy
// connection, batched frame delivery, protocol-level keepalive, and the
// tracker that pairs request messages with their replies.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerline-net/peerline/internal/dns"
	"github.com/peerline-net/peerline/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	// KeepAliveInterval is how often an idle transport pings the relay.
	KeepAliveInterval = 120 * time.Second

	// readIdleTimeout is how long the transport tolerates a silent socket.
	// Any inbound frame, including the relay's PONG, resets it.
	readIdleTimeout = 2*KeepAliveInterval + KeepAliveInterval/2

	outgoingBuffer = 16
	incomingBuffer = 64
)

var ErrTransportClosed = errors.New("signaling: transport closed")

// Transport is the client side of the relay link. It connects lazily on
// first send, restarts the connection on demand after a drop, and keeps the
// socket alive with periodic protocol pings. Messages from all connection
// generations are delivered on one Incoming channel.
type Transport struct {
	serverURL string
	log       *slog.Logger
	keepAlive time.Duration

	mu      sync.Mutex
	sess    *session
	dialing chan struct{}
	onDown  func()
	closed  bool

	incoming chan protocol.Message
	done     chan struct{}
	pumps    sync.WaitGroup
}

// session is one websocket connection generation.
type session struct {
	conn     *websocket.Conn
	outgoing chan []protocol.Message
	done     chan struct{}
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Option adjusts transport construction.
type Option func(*Transport)

// WithKeepAlive overrides the keepalive interval. Tests use short values.
func WithKeepAlive(d time.Duration) Option {
	return func(t *Transport) { t.keepAlive = d }
}

// NewTransport creates a transport for the relay at serverURL. No connection
// is made until Connect or the first Send.
func NewTransport(serverURL string, log *slog.Logger, opts ...Option) *Transport {
	t := &Transport{
		serverURL: serverURL,
		log:       log.With("component", "signaling"),
		keepAlive: KeepAliveInterval,
		incoming:  make(chan protocol.Message, incomingBuffer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnDisconnect registers fn to run whenever a connection generation ends.
// Relay-side session state does not survive a drop, so the owner uses this
// to reset whatever it negotiated on the old connection.
func (t *Transport) OnDisconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDown = fn
}

// Ready reports whether a connection is currently up.
func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil
}

// Connect ensures a live connection, dialing if necessary. Concurrent
// callers share one dial attempt.
func (t *Transport) Connect() error {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrTransportClosed
		}
		if t.sess != nil {
			t.mu.Unlock()
			return nil
		}
		if t.dialing != nil {
			wait := t.dialing
			t.mu.Unlock()
			<-wait
			continue
		}
		attempt := make(chan struct{})
		t.dialing = attempt
		t.mu.Unlock()

		sess, err := t.dial()

		t.mu.Lock()
		t.dialing = nil
		close(attempt)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("connecting to relay: %w", err)
		}
		if t.closed {
			t.mu.Unlock()
			sess.close()
			return ErrTransportClosed
		}
		t.sess = sess
		t.pumps.Add(2)
		t.mu.Unlock()

		go t.readPump(sess)
		go t.writePump(sess)
		t.log.Info("relay connected", "url", t.serverURL)
		return nil
	}
}

func (t *Transport) dial() (*session, error) {
	u, err := url.Parse(t.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolved, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolved, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxMessageSize)

	return &session{
		conn:     conn,
		outgoing: make(chan []protocol.Message, outgoingBuffer),
		done:     make(chan struct{}),
	}, nil
}

// Send transmits messages as one frame, connecting first if needed. Delivery
// is best effort: failures are logged and the messages dropped, so callers
// needing confirmation must wait for a reply message.
func (t *Transport) Send(msgs ...protocol.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := t.Connect(); err != nil {
		t.log.Warn("dropping outbound messages", "count", len(msgs), "error", err)
		return
	}

	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		t.log.Warn("dropping outbound messages, connection lost", "count", len(msgs))
		return
	}

	select {
	case sess.outgoing <- msgs:
	case <-sess.done:
		t.log.Warn("dropping outbound messages, connection lost", "count", len(msgs))
	}
}

// Incoming returns the channel of messages from the relay. It stays open
// across reconnects and closes only when the transport is closed.
func (t *Transport) Incoming() <-chan protocol.Message {
	return t.incoming
}

// readPump reads frames from the connection until it fails, answering pings
// and delivering everything else to the incoming channel.
func (t *Transport) readPump(sess *session) {
	defer t.pumps.Done()
	defer t.dropSession(sess)

	sess.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("relay connection lost", "error", err)
			}
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		msgs, err := protocol.DecodeFrame(data)
		if err != nil {
			t.log.Warn("discarding malformed frame", "error", err)
			continue
		}

		for _, msg := range msgs {
			switch msg.Type {
			case protocol.TypePing:
				select {
				case sess.outgoing <- []protocol.Message{protocol.Pong()}:
				default:
				}
			case protocol.TypePong:
				// Deadline already refreshed above.
			default:
				select {
				case t.incoming <- msg:
				case <-t.done:
					return
				}
			}
		}
	}
}

// writePump serializes outbound batches onto the connection and pings the
// relay when idle.
func (t *Transport) writePump(sess *session) {
	ticker := time.NewTicker(t.keepAlive)

	defer func() {
		ticker.Stop()
		t.dropSession(sess)
		t.pumps.Done()
	}()

	for {
		select {
		case batch := <-sess.outgoing:
			if err := t.writeFrame(sess, batch); err != nil {
				t.log.Warn("relay write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := t.writeFrame(sess, []protocol.Message{protocol.Ping()}); err != nil {
				t.log.Warn("relay keepalive failed", "error", err)
				return
			}

		case <-sess.done:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			sess.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (t *Transport) writeFrame(sess *session, msgs []protocol.Message) error {
	data, err := protocol.EncodeFrame(msgs...)
	if err != nil {
		return err
	}
	sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

// dropSession retires a connection generation. The next Connect or Send
// dials fresh.
func (t *Transport) dropSession(sess *session) {
	t.mu.Lock()
	current := t.sess == sess
	if current {
		t.sess = nil
	}
	closed := t.closed
	onDown := t.onDown
	t.mu.Unlock()

	sess.close()

	if current && !closed {
		t.log.Info("relay disconnected")
		if onDown != nil {
			onDown()
		}
	}
}

// Close shuts the transport down permanently and closes Incoming.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()

	close(t.done)
	if sess != nil {
		sess.close()
	}
	t.pumps.Wait()
	close(t.incoming)
	return nil
}
