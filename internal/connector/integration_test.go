package connector

import (
	"testing"
)

// Two real connectors on a shared fabric, talking through the scripted
// relay. Everything in between, entry, negotiation, and mutual verification,
// is the production code path on both sides.
func TestConnectorsEstablishMutualChannel(t *testing.T) {
	fabric := newFakeFabric()
	ha := newHarness(t, 1, fabric)
	hb := newHarness(t, 2, fabric)
	stop := runMiniRelay(t,
		relayEnd{link: ha.link, id: ha.keys.ID()},
		relayEnd{link: hb.link, id: hb.keys.ID()},
	)
	defer stop()

	roomA, err := ha.c.EnterRoom(hb.keys.ID())
	if err != nil {
		t.Fatalf("a EnterRoom: %v", err)
	}
	recA := newRecorder()
	roomA.Subscribe(recA.observer())
	waitUntil(t, func() bool { return roomA.State() == EntryEntered }, "a entering the room")

	roomB, err := hb.c.EnterRoom(ha.keys.ID())
	if err != nil {
		t.Fatalf("b EnterRoom: %v", err)
	}
	recB := newRecorder()
	roomB.Subscribe(recB.observer())

	if got := waitFor(t, recA.opened, "a seeing b"); got != hb.keys.ID() {
		t.Fatalf("a connected to %s, want %s", got.Short(), hb.keys.ID().Short())
	}
	if got := waitFor(t, recB.opened, "b seeing a"); got != ha.keys.ID() {
		t.Fatalf("b connected to %s, want %s", got.Short(), ha.keys.ID().Short())
	}
	if !ha.c.IsPeerConnected(hb.keys.ID()) || !hb.c.IsPeerConnected(ha.keys.ID()) {
		t.Fatal("peers not mutually connected")
	}

	if err := roomA.Send("ping from a"); err != nil {
		t.Fatalf("a Send: %v", err)
	}
	msg := waitFor(t, recB.messages, "b receiving the message")
	if msg.Text != "ping from a" || msg.From != ha.keys.ID() {
		t.Fatalf("b got %+v", msg)
	}

	if err := roomB.Send("pong from b"); err != nil {
		t.Fatalf("b Send: %v", err)
	}
	reply := waitFor(t, recA.messages, "a receiving the reply")
	if reply.Text != "pong from b" || reply.From != hb.keys.ID() {
		t.Fatalf("a got %+v", reply)
	}

	roomB.Close()
	if got := waitFor(t, recA.gone, "a seeing b leave"); got != hb.keys.ID() {
		t.Fatalf("a lost %s, want %s", got.Short(), hb.keys.ID().Short())
	}
}
