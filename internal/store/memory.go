package store

import (
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and ephemeral identities.
type Memory struct {
	mu       sync.Mutex
	contacts map[string]Contact
	activity map[string]Activity
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[string]Contact),
		activity: make(map[string]Activity),
	}
}

func (m *Memory) UpsertContact(c Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.contacts[c.Account]; ok && c.AddedAt.IsZero() {
		c.AddedAt = existing.AddedAt
	} else if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	m.contacts[c.Account] = c
	return nil
}

func (m *Memory) Contacts() ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contacts := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Name != contacts[j].Name {
			return contacts[i].Name < contacts[j].Name
		}
		return contacts[i].Account < contacts[j].Account
	})
	return contacts, nil
}

func (m *Memory) ContactByAccount(account string) (Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[account]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) RemoveContact(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[account]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, account)
	return nil
}

func (m *Memory) SetLastSeen(room string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.activity[room]
	a.LastSeen = t
	m.activity[room] = a
	return nil
}

func (m *Memory) SetLastIncoming(room string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.activity[room]
	a.LastIncoming = t
	m.activity[room] = a
	return nil
}

func (m *Memory) RoomActivity(room string) (Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activity[room], nil
}

func (m *Memory) Close() error { return nil }
