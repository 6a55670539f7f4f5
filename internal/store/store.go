// Package store persists the small amount of local state the connector and
// CLI need across runs: the contact list and per-room read state.
package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Contact is a known peer: its derived account, full public key, and a
// local display name.
type Contact struct {
	Account   string
	PublicKey string
	Name      string
	AddedAt   time.Time
}

// Activity is the read state of one room. A room is unread when a message
// arrived after it was last viewed.
type Activity struct {
	LastSeen     time.Time
	LastIncoming time.Time
}

// Unread reports whether the room has messages newer than the last view.
func (a Activity) Unread() bool {
	return a.LastIncoming.After(a.LastSeen)
}

// Store is the persistence boundary. Implementations must be safe for
// concurrent use.
type Store interface {
	UpsertContact(c Contact) error
	Contacts() ([]Contact, error)
	ContactByAccount(account string) (Contact, error)
	RemoveContact(account string) error

	SetLastSeen(room string, t time.Time) error
	SetLastIncoming(room string, t time.Time) error
	RoomActivity(room string) (Activity, error)

	Close() error
}
