package slotstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/record"
	"github.com/starford/dagaz/internal/wire"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS slots (
	slot_id    TEXT PRIMARY KEY,
	kind       TEXT NOT NULL DEFAULT '',
	record     BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLite implements Store on a single SQLite database file.
type SQLite struct {
	conn *sql.DB
}

// Open opens (or creates) the database and applies the schema.
func Open(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("slotstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("slotstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("slotstore: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Put inserts or replaces the record stored for a slot.
func (s *SQLite) Put(slotID string, rec record.Record) error {
	blob, err := wire.Marshal(rec)
	if err != nil {
		return fmt.Errorf("slotstore: encode %s: %w", slotID, err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO slots (slot_id, kind, record, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slot_id) DO UPDATE SET
			kind       = excluded.kind,
			record     = excluded.record,
			updated_at = excluded.updated_at
	`, slotID, rec.Kind.String(), blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("slotstore: upsert %s: %w", slotID, err)
	}
	return nil
}

// Get returns the stored record for a slot, or apperr.ErrNotFound.
func (s *SQLite) Get(slotID string) (record.Record, error) {
	var blob []byte
	err := s.conn.QueryRow(`SELECT record FROM slots WHERE slot_id = ?`, slotID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("slotstore: slot %s: %w", slotID, apperr.ErrNotFound)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("slotstore: get %s: %w", slotID, err)
	}
	rec, err := wire.Unmarshal(blob)
	if err != nil {
		return record.Record{}, fmt.Errorf("slotstore: decode %s: %w", slotID, err)
	}
	return rec, nil
}

// Delete removes a slot. Deleting an absent slot is a no-op.
func (s *SQLite) Delete(slotID string) error {
	if _, err := s.conn.Exec(`DELETE FROM slots WHERE slot_id = ?`, slotID); err != nil {
		return fmt.Errorf("slotstore: delete %s: %w", slotID, err)
	}
	return nil
}

// List returns every stored slot ordered by slot id.
func (s *SQLite) List() ([]Entry, error) {
	rows, err := s.conn.Query(`SELECT slot_id, kind, updated_at FROM slots ORDER BY slot_id`)
	if err != nil {
		return nil, fmt.Errorf("slotstore: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.SlotID, &kind, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if k, err := record.ParseKind(kind); err == nil {
			e.Kind = k
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
