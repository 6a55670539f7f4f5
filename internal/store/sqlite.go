package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqlFiles embed.FS

// SQLite is the file-backed Store.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens the database at path, creating the file and schema if needed.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	schema, _ := sqlFiles.ReadFile("schema.sql")
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) UpsertContact(c Contact) error {
	added := c.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (account, public_key, name, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET public_key = excluded.public_key, name = excluded.name`,
		c.Account, c.PublicKey, c.Name, added.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting contact: %w", err)
	}
	return nil
}

func (s *SQLite) Contacts() ([]Contact, error) {
	rows, err := s.db.Query(`SELECT account, public_key, name, added_at FROM contacts ORDER BY name, account`)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var added int64
		if err := rows.Scan(&c.Account, &c.PublicKey, &c.Name, &added); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		c.AddedAt = time.UnixMilli(added)
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *SQLite) ContactByAccount(account string) (Contact, error) {
	var c Contact
	var added int64
	err := s.db.QueryRow(`SELECT account, public_key, name, added_at FROM contacts WHERE account = ?`, account).
		Scan(&c.Account, &c.PublicKey, &c.Name, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("reading contact: %w", err)
	}
	c.AddedAt = time.UnixMilli(added)
	return c, nil
}

func (s *SQLite) RemoveContact(account string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("removing contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) SetLastSeen(room string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO room_activity (room, last_seen) VALUES (?, ?)
		ON CONFLICT (room) DO UPDATE SET last_seen = excluded.last_seen`,
		room, t.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording last seen: %w", err)
	}
	return nil
}

func (s *SQLite) SetLastIncoming(room string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO room_activity (room, last_incoming) VALUES (?, ?)
		ON CONFLICT (room) DO UPDATE SET last_incoming = excluded.last_incoming`,
		room, t.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording last incoming: %w", err)
	}
	return nil
}

func (s *SQLite) RoomActivity(room string) (Activity, error) {
	var seen, incoming int64
	err := s.db.QueryRow(`SELECT last_seen, last_incoming FROM room_activity WHERE room = ?`, room).
		Scan(&seen, &incoming)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, nil
	}
	if err != nil {
		return Activity{}, fmt.Errorf("reading room activity: %w", err)
	}
	return Activity{LastSeen: unixMilli(seen), LastIncoming: unixMilli(incoming)}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// unixMilli keeps unset columns as zero times instead of the epoch.
func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
