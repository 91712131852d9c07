// Package bodystore persists the raw bytes of message bodies fetched
// from the server, and serializes the concurrent writes a folder's
// download and playback paths make against it.
//
// It deliberately stores opaque bytes rather than parsed MIME parts:
// parsing and rendering belong to a mail reader built on top of this
// core, not to the sync core itself.
package bodystore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mailcore/autosync/internal/database"
)

// Store persists raw message bodies keyed by folder and UID.
type Store struct {
	db *database.DB

	mu   sync.Mutex
	sems map[string]*sync.Mutex // folderID -> per-folder write semaphore
}

// NewStore creates a body store backed by db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, sems: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the calling goroutine holds the write semaphore
// for folderID. The core acquires this before writing a downloaded
// body and releases it before returning, even on a failure path.
func (s *Store) Acquire(folderID string) func() {
	s.mu.Lock()
	sem, ok := s.sems[folderID]
	if !ok {
		sem = &sync.Mutex{}
		s.sems[folderID] = sem
	}
	s.mu.Unlock()

	sem.Lock()
	return sem.Unlock
}

// Put writes a message's raw body, replacing any prior copy.
func (s *Store) Put(folderID string, uid uint32, raw []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO message_bodies (folder_id, uid, raw_body) VALUES (?, ?, ?)
		ON CONFLICT (folder_id, uid) DO UPDATE SET raw_body = excluded.raw_body
	`, folderID, uid, raw)
	if err != nil {
		return fmt.Errorf("put body %s/%d: %w", folderID, uid, err)
	}
	return nil
}

// Get returns a message's raw body, or (nil, nil) if none is stored.
func (s *Store) Get(folderID string, uid uint32) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT raw_body FROM message_bodies WHERE folder_id = ? AND uid = ?`, folderID, uid).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get body %s/%d: %w", folderID, uid, err)
	}
	return raw, nil
}

// Delete removes a message's stored body, e.g. once it has been
// expunged locally or superseded by a rename.
func (s *Store) Delete(folderID string, uid uint32) error {
	if _, err := s.db.Exec(`DELETE FROM message_bodies WHERE folder_id = ? AND uid = ?`, folderID, uid); err != nil {
		return fmt.Errorf("delete body %s/%d: %w", folderID, uid, err)
	}
	return nil
}

// DeleteFolder removes every stored body for a folder, used when a
// folder's UIDVALIDITY changes and its whole local cache is discarded.
func (s *Store) DeleteFolder(folderID string) error {
	if _, err := s.db.Exec(`DELETE FROM message_bodies WHERE folder_id = ?`, folderID); err != nil {
		return fmt.Errorf("delete folder bodies %s: %w", folderID, err)
	}
	return nil
}
