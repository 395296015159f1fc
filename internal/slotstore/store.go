// Package slotstore persists complication records per slot in SQLite.
// Records are stored as wire-format blobs, so anything the codec can
// carry survives a restart.
package slotstore

import (
	"time"

	"github.com/starford/dagaz/internal/record"
)

// Entry is the listing row for one stored slot.
type Entry struct {
	SlotID    string
	Kind      record.Kind
	UpdatedAt time.Time
}

// Store defines the persistence operations the manager depends on.
type Store interface {
	Put(slotID string, rec record.Record) error
	Get(slotID string) (record.Record, error)
	Delete(slotID string) error
	List() ([]Entry, error)
	Close() error
}

var _ Store = (*SQLite)(nil)
