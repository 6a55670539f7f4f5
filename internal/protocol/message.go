// Package protocol defines the wire formats spoken over the relay websocket
// and over peer data channels. Relay traffic is JSON arrays of tagged
// messages, channel traffic is msgpack frames.
package protocol

import "github.com/peerline-net/peerline/internal/identity"

// Type discriminates relay messages. The set is closed: dispatchers switch
// over every constant and log anything else.
type Type string

const (
	// Identity handshake between a client and the relay.
	TypeWantProveIdentity Type = "WANT_PROVE_IDENTITY"
	TypeProveIdentity     Type = "PROVE_IDENTITY"
	TypeProofIdentity     Type = "PROOF_IDENTITY"
	TypeApprovedIdentity  Type = "APPROVED_IDENTITY"

	// Presence.
	TypeSetOnlineStatus Type = "SET_ONLINE_STATUS"
	TypeGetOnlineStatus Type = "GET_ONLINE_STATUS"
	TypeOnlineStatus    Type = "ONLINE_STATUS"

	// Room membership and call setup.
	TypeCall      Type = "CALL"
	TypeRoom      Type = "ROOM"
	TypeWelcome   Type = "WELCOME"
	TypeWrongRoom Type = "WRONGROOM"
	TypeError     Type = "ERROR"

	// Connection negotiation, forwarded between peers by the relay.
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"

	// Transport keepalive.
	TypePing Type = "PING"
	TypePong Type = "PONG"
)

// Message is the superset of all relay message shapes. Which fields are
// meaningful depends on Type; the constructors below produce well-formed
// instances for each.
type Message struct {
	Type Type `json:"type"`

	// Identity handshake fields.
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`

	// Presence fields.
	Status string `json:"status,omitempty"`
	PeerID string `json:"peerId,omitempty"`

	// Room and call fields.
	Room          string   `json:"room,omitempty"`
	Caller        string   `json:"caller,omitempty"`
	RemotePeerIDs []string `json:"remotePeerIds,omitempty"`
	Reason        string   `json:"reason,omitempty"`

	// Negotiation fields. ToPeerID addresses the recipient on the way in,
	// FromPeer is stamped by the relay on the way out.
	ToPeerID      string  `json:"toPeerId,omitempty"`
	FromPeer      string  `json:"fromPeer,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// WantProveIdentity asks the relay for a challenge.
func WantProveIdentity() Message {
	return Message{Type: TypeWantProveIdentity}
}

// ProveIdentity carries the relay's challenge to a client.
func ProveIdentity(challenge string) Message {
	return Message{Type: TypeProveIdentity, Data: challenge}
}

// ProofIdentity answers a relay challenge with a signed proof.
func ProofIdentity(p identity.Proof) Message {
	return Message{
		Type:      TypeProofIdentity,
		Signature: p.Signature,
		Data:      p.Data,
		PublicKey: p.PublicKey,
	}
}

// Proof extracts the identity proof embedded in a PROOF_IDENTITY message.
func (m Message) Proof() identity.Proof {
	return identity.Proof{Signature: m.Signature, Data: m.Data, PublicKey: m.PublicKey}
}

// ApprovedIdentity acknowledges a successful proof.
func ApprovedIdentity() Message {
	return Message{Type: TypeApprovedIdentity}
}

// SetOnlineStatus publishes the sender's presence status.
func SetOnlineStatus(status string) Message {
	return Message{Type: TypeSetOnlineStatus, Status: status}
}

// GetOnlineStatus asks the relay for a peer's presence status.
func GetOnlineStatus(peer identity.ID) Message {
	return Message{Type: TypeGetOnlineStatus, PeerID: string(peer)}
}

// OnlineStatus reports a peer's presence status.
func OnlineStatus(peer identity.ID, status string) Message {
	return Message{Type: TypeOnlineStatus, PeerID: string(peer), Status: status}
}

// Call rings a peer, inviting it into a room.
func Call(to identity.ID, room string) Message {
	return Message{Type: TypeCall, ToPeerID: string(to), Room: room}
}

// IncomingCall is the relay-stamped form of Call delivered to the callee.
func IncomingCall(caller identity.ID, room string) Message {
	return Message{Type: TypeCall, Caller: string(caller), Room: room}
}

// JoinRoom asks the relay to add the sender to a room.
func JoinRoom(room string) Message {
	return Message{Type: TypeRoom, Room: room}
}

// Welcome confirms room entry and lists the identities already present.
func Welcome(room string, present []identity.ID) Message {
	ids := make([]string, len(present))
	for i, p := range present {
		ids[i] = string(p)
	}
	return Message{Type: TypeWelcome, Room: room, RemotePeerIDs: ids}
}

// WrongRoom rejects a join request.
func WrongRoom(room, reason string) Message {
	return Message{Type: TypeWrongRoom, Room: room, Reason: reason}
}

// Error reports a request-level failure from the relay.
func Error(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}

// Offer addresses a session description offer to a peer in a room.
func Offer(room string, to identity.ID, sdp string) Message {
	return Message{Type: TypeOffer, Room: room, ToPeerID: string(to), SDP: sdp}
}

// Answer addresses a session description answer to a peer in a room.
func Answer(room string, to identity.ID, sdp string) Message {
	return Message{Type: TypeAnswer, Room: room, ToPeerID: string(to), SDP: sdp}
}

// NewCandidate addresses a trickled ICE candidate to a peer in a room.
func NewCandidate(room string, to identity.ID, candidate string, mid *string, mlineIndex *uint16) Message {
	return Message{
		Type:          TypeCandidate,
		Room:          room,
		ToPeerID:      string(to),
		Candidate:     candidate,
		SDPMid:        mid,
		SDPMLineIndex: mlineIndex,
	}
}

// Ping and Pong are transport keepalives; the relay answers Ping with Pong.
func Ping() Message { return Message{Type: TypePing} }
func Pong() Message { return Message{Type: TypePong} }

// Negotiation reports whether the message is part of connection negotiation
// and must be routed to a room rather than handled by the connector itself.
func (m Message) Negotiation() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// From returns the relay-stamped sender identity.
func (m Message) From() identity.ID { return identity.ID(m.FromPeer) }
