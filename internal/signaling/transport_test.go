package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerline-net/peerline/internal/protocol"
)

// fakeRelay is a websocket server that records the frames clients send and
// lets tests push frames back.
type fakeRelay struct {
	t      *testing.T
	server *httptest.Server
	conns  chan *websocket.Conn
	frames chan []protocol.Message
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	relay := &fakeRelay{
		t:      t,
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan []protocol.Message, 16),
	}

	upgrader := websocket.Upgrader{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		relay.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs, err := protocol.DecodeFrame(data)
			if err != nil {
				t.Errorf("relay received malformed frame: %v", err)
				return
			}
			relay.frames <- msgs
		}
	}))
	t.Cleanup(relay.server.Close)

	return relay
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *fakeRelay) acceptConn() *websocket.Conn {
	r.t.Helper()
	select {
	case conn := <-r.conns:
		return conn
	case <-time.After(2 * time.Second):
		r.t.Fatal("no client connection arrived")
		return nil
	}
}

func (r *fakeRelay) nextFrame() []protocol.Message {
	r.t.Helper()
	select {
	case msgs := <-r.frames:
		return msgs
	case <-time.After(2 * time.Second):
		r.t.Fatal("no frame arrived")
		return nil
	}
}

func (r *fakeRelay) push(conn *websocket.Conn, msgs ...protocol.Message) {
	r.t.Helper()
	data, err := protocol.EncodeFrame(msgs...)
	if err != nil {
		r.t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.t.Fatalf("relay write: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, relay *fakeRelay, opts ...Option) *Transport {
	t.Helper()
	tr := NewTransport(relay.url(), testLogger(), opts...)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func recvMessage(t *testing.T, tr *Transport) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-tr.Incoming():
		if !ok {
			t.Fatal("incoming channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return protocol.Message{}
	}
}

func TestTransport_SendConnectsLazily(t *testing.T) {
	relay := newFakeRelay(t)
	tr := newTestTransport(t, relay)

	if tr.Ready() {
		t.Error("transport ready before first send")
	}

	tr.Send(protocol.JoinRoom("111-222"))

	conn := relay.acceptConn()
	defer conn.Close()

	msgs := relay.nextFrame()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeRoom || msgs[0].Room != "111-222" {
		t.Fatalf("relay received %+v", msgs)
	}
	if !tr.Ready() {
		t.Error("transport not ready after send")
	}
}

func TestTransport_DeliversInbound(t *testing.T) {
	relay := newFakeRelay(t)
	tr := newTestTransport(t, relay)

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := relay.acceptConn()
	defer conn.Close()

	relay.push(conn, protocol.Welcome("111-222", nil), protocol.Error("nope"))

	first := recvMessage(t, tr)
	if first.Type != protocol.TypeWelcome || first.Room != "111-222" {
		t.Errorf("first message = %+v", first)
	}
	second := recvMessage(t, tr)
	if second.Type != protocol.TypeError || second.Reason != "nope" {
		t.Errorf("second message = %+v", second)
	}
}

func TestTransport_AnswersPingWithoutDelivering(t *testing.T) {
	relay := newFakeRelay(t)
	tr := newTestTransport(t, relay)

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := relay.acceptConn()
	defer conn.Close()

	relay.push(conn, protocol.Ping(), protocol.Welcome("r", nil))

	msgs := relay.nextFrame()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePong {
		t.Errorf("expected PONG reply, relay received %+v", msgs)
	}

	// The PING itself must not surface; the next delivered message is the
	// WELCOME that followed it.
	m := recvMessage(t, tr)
	if m.Type != protocol.TypeWelcome {
		t.Errorf("delivered %+v, want WELCOME", m)
	}
}

func TestTransport_KeepAlivePings(t *testing.T) {
	relay := newFakeRelay(t)
	tr := newTestTransport(t, relay, WithKeepAlive(30*time.Millisecond))

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := relay.acceptConn()
	defer conn.Close()

	msgs := relay.nextFrame()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePing {
		t.Errorf("expected keepalive PING, relay received %+v", msgs)
	}
}

func TestTransport_ReconnectsAfterDrop(t *testing.T) {
	relay := newFakeRelay(t)
	tr := newTestTransport(t, relay)

	down := make(chan struct{}, 1)
	tr.OnDisconnect(func() { down <- struct{}{} })

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := relay.acceptConn()
	conn.Close()

	select {
	case <-down:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	// Next send dials a fresh connection and delivers on it.
	tr.Send(protocol.Ping())
	second := relay.acceptConn()
	defer second.Close()
	msgs := relay.nextFrame()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePing {
		t.Errorf("relay received %+v after reconnect", msgs)
	}
}

func TestTransport_CloseIsFinal(t *testing.T) {
	relay := newFakeRelay(t)
	tr := NewTransport(relay.url(), testLogger())

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := relay.acceptConn()
	defer conn.Close()

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := tr.Connect(); err == nil {
		t.Error("Connect succeeded on closed transport")
	}

	select {
	case _, ok := <-tr.Incoming():
		if ok {
			t.Error("unexpected message after close")
		}
	case <-time.After(2 * time.Second):
		t.Error("incoming channel not closed")
	}
}

func TestTransport_ConnectFailure(t *testing.T) {
	tr := NewTransport("ws://127.0.0.1:1/ws", testLogger())
	defer tr.Close()

	if err := tr.Connect(); err == nil {
		t.Error("Connect to dead address succeeded")
	}
	// Send on an unconnectable transport must not panic or block.
	tr.Send(protocol.Ping())
}
