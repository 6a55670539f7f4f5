package connector

import (
	"time"

	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/rtc"
)

// Role is the side a peer connection was negotiated from.
type Role int

const (
	RoleNone Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	}
	return "none"
}

// Peer is one remote identity inside a room, together with whatever
// connection state negotiation has reached. All mutable fields are guarded
// by the connector lock; the exported accessors take it.
type Peer struct {
	id   identity.ID
	room *Room

	role    Role
	conn    rtc.Connection
	channel rtc.Channel

	channelOpen bool
	verified    bool

	// sentChallenge is the nonce this side asked the peer to sign; cleared
	// once the proof is verified.
	sentChallenge string

	// pendingCheck is the value of an outstanding liveness probe.
	pendingCheck string

	// reconnectTimer re-offers from the answerer side when the inbound
	// direction stalls. reconnectTried makes that a one-shot.
	reconnectTimer *time.Timer
	reconnectTried bool
}

func newPeer(room *Room, id identity.ID) *Peer {
	return &Peer{id: id, room: room}
}

// ID returns the peer's identity.
func (p *Peer) ID() identity.ID { return p.id }

// Account returns the peer's derived account identifier.
func (p *Peer) Account() string { return p.id.Account() }

// Role reports which side of the negotiation this peer connection is on.
func (p *Peer) Role() Role {
	c := p.room.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.role
}

// Connected reports whether the peer is usable: its data channel is open and
// its identity proof has been verified. Either condition alone is not
// enough.
func (p *Peer) Connected() bool {
	c := p.room.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.connectedLocked()
}

func (p *Peer) connectedLocked() bool {
	return p.channelOpen && p.verified
}

// negotiatingLocked reports whether a connection attempt is in flight or
// established.
func (p *Peer) negotiatingLocked() bool {
	return p.conn != nil
}

func (p *Peer) stopReconnectLocked() {
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
}
