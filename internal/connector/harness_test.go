package connector

import (
	"crypto/ed25519"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/protocol"
	"github.com/peerline-net/peerline/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeys(t *testing.T, b byte) *identity.KeyPair {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	kp, err := identity.FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return kp
}

func shortTiming() Timing {
	return Timing{
		EntryTimeout:     400 * time.Millisecond,
		RequestTimeout:   250 * time.Millisecond,
		ReconnectDelay:   80 * time.Millisecond,
		CallPollInterval: 25 * time.Millisecond,
		CallPollAttempts: 3,
	}
}

// harness is one connector on a scripted relay link. Passing a shared fabric
// lets two harnesses negotiate real channel pairs with each other.
type harness struct {
	t      *testing.T
	c      *Connector
	link   *fakeLink
	fabric *fakeFabric
	keys   *identity.KeyPair
	mem    *store.Memory
}

func newHarness(t *testing.T, seed byte, fabric *fakeFabric) *harness {
	t.Helper()
	if fabric == nil {
		fabric = newFakeFabric()
	}
	keys := testKeys(t, seed)
	link := newFakeLink()
	mem := store.NewMemory()
	c := New(Config{Timing: shortTiming()}, keys, link, fabric, mem, testLogger())
	t.Cleanup(func() { c.Close() })
	return &harness{t: t, c: c, link: link, fabric: fabric, keys: keys, mem: mem}
}

// approve plays the relay's side of the identity handshake after the
// connector has asked for it.
func (h *harness) approve() {
	h.t.Helper()
	expectSent(h.t, h.link, protocol.TypeWantProveIdentity)
	h.link.push(protocol.ProveIdentity("relay-nonce"))
	proof := expectSent(h.t, h.link, protocol.TypeProofIdentity)
	if !proof.Proof().Verify() {
		h.t.Fatal("connector sent an unverifiable identity proof")
	}
	if got := proof.PublicKey; got != string(h.keys.ID()) {
		h.t.Fatalf("proof claims identity %s, want %s", got, h.keys.ID())
	}
	h.link.push(protocol.ApprovedIdentity())
}

// recorder collects observer callbacks on buffered channels.
type recorder struct {
	opened   chan identity.ID
	gone     chan identity.ID
	failures chan error
	rejects  chan string
	messages chan ChatMessage
	unread   chan bool
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan identity.ID, 16),
		gone:     make(chan identity.ID, 16),
		failures: make(chan error, 16),
		rejects:  make(chan string, 16),
		messages: make(chan ChatMessage, 16),
		unread:   make(chan bool, 16),
	}
}

func (r *recorder) observer() Observer {
	return Observer{
		ChannelOpened: func(p identity.ID) { r.opened <- p },
		ChannelClosed: func(p identity.ID) { r.gone <- p },
		Failure:       func(p identity.ID, err error) { r.failures <- err },
		Rejected:      func(p identity.ID, reason string) { r.rejects <- reason },
		Message:       func(m ChatMessage) { r.messages <- m },
		UnreadChanged: func(u bool) { r.unread <- u },
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectQuiet[T any](t *testing.T, ch <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(d):
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
