package session

import "errors"

// ErrNotFound is returned by Load when no record exists for the id.
var ErrNotFound = errors.New("session not found")

// Store is the session persistence contract. Implementations must serialize
// read-modify-write per session id; last writer wins across turns.
type Store interface {
	// Create makes and persists a brand-new empty session.
	Create() (*Memory, error)

	// Load returns the stored record, or ErrNotFound.
	Load(sessionID string) (*Memory, error)

	// Save persists the record, stamping UpdatedAt.
	Save(memory *Memory) error

	// Delete removes the record. It reports whether a record existed.
	Delete(sessionID string) (bool, error)

	// Exists reports whether a record is stored for the id.
	Exists(sessionID string) bool
}
