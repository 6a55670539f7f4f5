package connector

import (
	"time"

	"github.com/peerline-net/peerline/internal/identity"
)

// ChatMessage is a decoded application message received from a verified
// peer.
type ChatMessage struct {
	From      identity.ID
	Timestamp time.Time
	Text      string
}

// Observer receives room events. Fields are optional; nil callbacks are
// skipped. Callbacks run on a single dispatch goroutine, never under
// connector locks, so they may call back into the room.
type Observer struct {
	// ChannelOpened fires when a peer's data channel is open and its
	// identity proof has been accepted. The peer is usable from then on.
	ChannelOpened func(peer identity.ID)

	// ChannelClosed fires when a previously usable peer goes away.
	ChannelClosed func(peer identity.ID)

	// Failure reports negotiation problems: entry timeouts, relay
	// rejections, offers that could not be built. The peer is zero for
	// room-level failures.
	Failure func(peer identity.ID, err error)

	// Rejected fires when a peer refused our identity proof, or when a
	// peer's proof failed verification locally.
	Rejected func(peer identity.ID, reason string)

	// Message delivers an application message from a verified peer.
	Message func(msg ChatMessage)

	// UnreadChanged fires when the room's unread flag flips.
	UnreadChanged func(unread bool)
}
