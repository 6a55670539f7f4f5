package connector

import (
	"sync"
	"testing"
	"time"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
)

// fakeLink is an in-memory RelayLink. Tests script the relay side by reading
// what the connector sent and pushing what the relay would answer.
type fakeLink struct {
	incoming chan protocol.Message
	sent     chan protocol.Message

	mu     sync.Mutex
	onDown func()
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		incoming: make(chan protocol.Message, 64),
		sent:     make(chan protocol.Message, 256),
	}
}

func (l *fakeLink) Connect() error { return nil }

func (l *fakeLink) Send(msgs ...protocol.Message) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	for _, m := range msgs {
		l.sent <- m
	}
}

func (l *fakeLink) Incoming() <-chan protocol.Message { return l.incoming }

func (l *fakeLink) OnDisconnect(fn func()) {
	l.mu.Lock()
	l.onDown = fn
	l.mu.Unlock()
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.incoming)
	return nil
}

// push delivers a relay message to the connector.
func (l *fakeLink) push(m protocol.Message) {
	l.incoming <- m
}

// dropLink reports a lost websocket without closing the link.
func (l *fakeLink) dropLink() {
	l.mu.Lock()
	fn := l.onDown
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// expectSent reads sent messages until one of the wanted type shows up.
// Unrelated traffic, candidate trickle in particular, is skipped.
func expectSent(t *testing.T, l *fakeLink, want protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-l.sent:
			if m.Type == want {
				return m
			}
		case <-deadline:
			t.Fatalf("connector never sent %s", want)
		}
	}
}

// nextSent reads the next sent message, whatever it is.
func nextSent(t *testing.T, l *fakeLink) protocol.Message {
	t.Helper()
	select {
	case m := <-l.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("connector sent nothing")
		panic("unreachable")
	}
}

// expectNoneSent consumes traffic for d and fails if a message of the
// unwanted type shows up.
func expectNoneSent(t *testing.T, l *fakeLink, d time.Duration, unwanted protocol.Type) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case m := <-l.sent:
			if m.Type == unwanted {
				t.Fatalf("connector sent unexpected %s", unwanted)
			}
		case <-deadline:
			return
		}
	}
}

// drainNone fails on any sent message within d.
func drainNone(t *testing.T, l *fakeLink, d time.Duration) {
	t.Helper()
	select {
	case m := <-l.sent:
		t.Fatalf("connector sent unexpected %s", m.Type)
	case <-time.After(d):
	}
}

// miniRelay wires two fake links together the way the real relay would: it
// challenges and approves identity handshakes, tracks room membership, and
// forwards negotiation traffic with the sender stamped on.
type miniRelay struct {
	t    *testing.T
	done chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]map[string]bool
}

type relayEnd struct {
	link *fakeLink
	id   identity.ID
}

func runMiniRelay(t *testing.T, a, b relayEnd) (stop func()) {
	r := &miniRelay{t: t, done: make(chan struct{}), rooms: make(map[string]map[string]bool)}
	r.wg.Add(2)
	go r.serve(a, b)
	go r.serve(b, a)
	return func() {
		close(r.done)
		r.wg.Wait()
	}
}

func (r *miniRelay) serve(from, to relayEnd) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case m := <-from.link.sent:
			r.handle(m, from, to)
		}
	}
}

func (r *miniRelay) handle(m protocol.Message, from, to relayEnd) {
	switch m.Type {
	case protocol.TypeWantProveIdentity:
		from.link.push(protocol.ProveIdentity("nonce-" + from.id.Short()))
	case protocol.TypeProofIdentity:
		if !m.Proof().Verify() {
			r.t.Errorf("relay got unverifiable proof from %s", from.id.Short())
			return
		}
		from.link.push(protocol.ApprovedIdentity())
	case protocol.TypeRoom:
		r.mu.Lock()
		members := r.rooms[m.Room]
		if members == nil {
			members = make(map[string]bool)
			r.rooms[m.Room] = members
		}
		var present []identity.ID
		for id := range members {
			if id != string(from.id) {
				present = append(present, identity.ID(id))
			}
		}
		members[string(from.id)] = true
		r.mu.Unlock()
		from.link.push(protocol.Welcome(m.Room, present))
	case protocol.TypeCall:
		to.link.push(protocol.IncomingCall(from.id, m.Room))
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		fwd := m
		fwd.ToPeerID = ""
		fwd.FromPeer = string(from.id)
		to.link.push(fwd)
	case protocol.TypeGetOnlineStatus:
		from.link.push(protocol.OnlineStatus(identity.ID(m.PeerID), "online"))
	}
}
