package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/peerline-net/peerline/internal/config"
	"github.com/peerline-net/peerline/internal/connector"
	"github.com/peerline-net/peerline/internal/identity"
	"github.com/peerline-net/peerline/internal/rtc"
	"github.com/peerline-net/peerline/internal/signaling"
	"github.com/peerline-net/peerline/internal/store"
)

// Session bundles everything a connected command needs: configuration, the
// local identity, the contacts store, and a connector on a fresh relay
// transport. The relay is dialed lazily on first use.
type Session struct {
	Config    *config.Config
	Keys      *identity.KeyPair
	Store     *store.SQLite
	Connector *connector.Connector
}

func NewSession() (*Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	keys, err := identity.Load(cfg.KeyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no identity at %s, run 'peerline keygen' first", cfg.KeyFile)
		}
		return nil, err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	log := slog.Default()
	link := signaling.NewTransport(cfg.RelayURL, log)
	conn := connector.New(connector.Config{RTC: cfg.ICE()}, keys, link, rtc.Pion{}, st, log)

	return &Session{Config: cfg, Keys: keys, Store: st, Connector: conn}, nil
}

func (s *Session) Close() {
	if s.Connector != nil {
		s.Connector.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// resolvePeer accepts a contact name, an account number, or a full hex
// identity, and returns the identity plus a display label.
func resolvePeer(st store.Store, arg string) (identity.ID, string, error) {
	if id := identity.ID(arg); id.Valid() {
		label := id.Account()
		if c, err := st.ContactByAccount(id.Account()); err == nil && c.Name != "" {
			label = c.Name
		}
		return id, label, nil
	}

	c, err := findContact(st, arg)
	if err != nil {
		return "", "", fmt.Errorf("unknown peer %q, add it with 'peerline contacts add'", arg)
	}
	return identity.ID(c.PublicKey), displayName(c), nil
}

// findContact looks a contact up by account number or display name.
func findContact(st store.Store, arg string) (store.Contact, error) {
	if c, err := st.ContactByAccount(arg); err == nil {
		return c, nil
	}
	contacts, err := st.Contacts()
	if err != nil {
		return store.Contact{}, err
	}
	for _, c := range contacts {
		if c.Name == arg {
			return c, nil
		}
	}
	return store.Contact{}, fmt.Errorf("no contact %q", arg)
}

func displayName(c store.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Account
}

// peerLabel names a peer for display, preferring the contact name.
func peerLabel(st store.Store, peer identity.ID) string {
	if c, err := st.ContactByAccount(peer.Account()); err == nil && c.Name != "" {
		return c.Name
	}
	return peer.Account()
}
