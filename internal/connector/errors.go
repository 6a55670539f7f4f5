package connector

import (
	"errors"
	"fmt"

	"github.com/peerline-net/peerline/internal/identity"
)

var (
	ErrClosed           = errors.New("connector closed")
	ErrRoomClosed       = errors.New("room closed")
	ErrSelfCall         = errors.New("cannot call own identity")
	ErrEntryTimeout     = errors.New("room entry timed out")
	ErrCallUnanswered   = errors.New("call not answered")
	ErrNoConnectedPeers = errors.New("no connected peers")
	ErrProofRejected    = errors.New("identity proof rejected")
)

// PeerError describes a failure while negotiating or talking to one peer.
type PeerError struct {
	Room string
	Peer identity.ID
	Op   string
	Err  error
}

func (e *PeerError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s with %s in %s: %v", e.Op, e.Peer.Short(), e.Room, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Op, e.Room, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

func newPeerError(room string, peer identity.ID, op string, err error) *PeerError {
	return &PeerError{Room: room, Peer: peer, Op: op, Err: err}
}
