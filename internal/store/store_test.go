package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// Both implementations must satisfy the same behavior, so every test runs
// against each.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	t.Run("contact round trip", func(t *testing.T) {
		s := open(t)
		contact := Contact{
			Account:   "10472078485835324947",
			PublicKey: "3b6a27bc",
			Name:      "alice",
		}
		if err := s.UpsertContact(contact); err != nil {
			t.Fatalf("UpsertContact: %v", err)
		}

		got, err := s.ContactByAccount(contact.Account)
		if err != nil {
			t.Fatalf("ContactByAccount: %v", err)
		}
		if got.PublicKey != contact.PublicKey || got.Name != "alice" {
			t.Errorf("contact = %+v", got)
		}
		if got.AddedAt.IsZero() {
			t.Error("AddedAt not defaulted")
		}
	})

	t.Run("upsert replaces name", func(t *testing.T) {
		s := open(t)
		if err := s.UpsertContact(Contact{Account: "1", PublicKey: "aa", Name: "old"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertContact(Contact{Account: "1", PublicKey: "aa", Name: "new"}); err != nil {
			t.Fatal(err)
		}
		contacts, err := s.Contacts()
		if err != nil {
			t.Fatalf("Contacts: %v", err)
		}
		if len(contacts) != 1 || contacts[0].Name != "new" {
			t.Errorf("contacts = %+v", contacts)
		}
	})

	t.Run("contacts sorted by name", func(t *testing.T) {
		s := open(t)
		for _, c := range []Contact{
			{Account: "3", PublicKey: "cc", Name: "carol"},
			{Account: "1", PublicKey: "aa", Name: "alice"},
			{Account: "2", PublicKey: "bb", Name: "bob"},
		} {
			if err := s.UpsertContact(c); err != nil {
				t.Fatal(err)
			}
		}
		contacts, err := s.Contacts()
		if err != nil {
			t.Fatalf("Contacts: %v", err)
		}
		var names []string
		for _, c := range contacts {
			names = append(names, c.Name)
		}
		want := []string{"alice", "bob", "carol"}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("names = %v, want %v", names, want)
			}
		}
	})

	t.Run("missing contact", func(t *testing.T) {
		s := open(t)
		if _, err := s.ContactByAccount("absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if err := s.RemoveContact("absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("remove err = %v, want ErrNotFound", err)
		}
	})

	t.Run("remove contact", func(t *testing.T) {
		s := open(t)
		if err := s.UpsertContact(Contact{Account: "1", PublicKey: "aa"}); err != nil {
			t.Fatal(err)
		}
		if err := s.RemoveContact("1"); err != nil {
			t.Fatalf("RemoveContact: %v", err)
		}
		if _, err := s.ContactByAccount("1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err after remove = %v, want ErrNotFound", err)
		}
	})

	t.Run("room activity and unread", func(t *testing.T) {
		s := open(t)
		room := "111-222"

		a, err := s.RoomActivity(room)
		if err != nil {
			t.Fatalf("RoomActivity: %v", err)
		}
		if a.Unread() {
			t.Error("empty activity reported unread")
		}

		seen := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
		incoming := time.Now().Truncate(time.Millisecond)
		if err := s.SetLastSeen(room, seen); err != nil {
			t.Fatalf("SetLastSeen: %v", err)
		}
		if err := s.SetLastIncoming(room, incoming); err != nil {
			t.Fatalf("SetLastIncoming: %v", err)
		}

		a, err = s.RoomActivity(room)
		if err != nil {
			t.Fatalf("RoomActivity: %v", err)
		}
		if !a.LastSeen.Equal(seen) || !a.LastIncoming.Equal(incoming) {
			t.Errorf("activity = %+v", a)
		}
		if !a.Unread() {
			t.Error("newer incoming not reported unread")
		}

		if err := s.SetLastSeen(room, incoming.Add(time.Second)); err != nil {
			t.Fatalf("SetLastSeen: %v", err)
		}
		a, _ = s.RoomActivity(room)
		if a.Unread() {
			t.Error("caught-up room reported unread")
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := Open(filepath.Join(t.TempDir(), "data", "peerline.sqlite"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerline.sqlite")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.UpsertContact(Contact{Account: "1", PublicKey: "aa", Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.ContactByAccount("1")
	if err != nil {
		t.Fatalf("ContactByAccount after reopen: %v", err)
	}
	if got.Name != "alice" {
		t.Errorf("contact = %+v", got)
	}
}
