package folder

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/rs/zerolog"
)

// Store persists folder records and serves as the arena described in
// folder.go's package doc: callers hold a Folder.ID, not a Folder
// pointer, across any suspension boundary.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a new folder store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("folder-store")}
}

const folderColumns = `id, account_id, uri, online_name, hier_delim, parent_id, flags,
	uid_validity, uid_next, server_total, server_recent, server_unseen,
	last_sync_time_sec, last_update_time_sec`

func scanFolder(row interface{ Scan(dest ...any) error }) (*Folder, error) {
	var f Folder
	var parentID sql.NullString
	var lastSync, lastUpdate int64
	if err := row.Scan(&f.ID, &f.AccountID, &f.URI, &f.OnlineName, &f.HierDelim, &parentID, &f.Flags,
		&f.UIDValidity, &f.UIDNext, &f.ServerTotal, &f.ServerRecent, &f.ServerUnseen,
		&lastSync, &lastUpdate); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = parentID.String
	}
	if lastSync > 0 {
		f.LastSyncTime = time.Unix(lastSync, 0)
	}
	if lastUpdate > 0 {
		f.LastUpdateTime = time.Unix(lastUpdate, 0)
	}
	return &f, nil
}

// Get retrieves a folder by ID.
func (s *Store) Get(id string) (*Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	f, err := scanFolder(row)
	if err != nil {
		return nil, fmt.Errorf("get folder %s: %w", id, err)
	}
	return f, nil
}

// ListByAccount returns every folder belonging to an account.
func (s *Store) ListByAccount(accountID string) ([]*Folder, error) {
	rows, err := s.db.Query(`SELECT `+folderColumns+` FROM folders WHERE account_id = ? ORDER BY uri`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list folders for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListOfflineEnabled returns every offline-enabled, selectable folder
// across all accounts, the set periodic folder updates walk.
func (s *Store) ListOfflineEnabled() ([]*Folder, error) {
	return s.queryFlagged(int(FlagOfflineEnabled), int(FlagNoSelect))
}

func (s *Store) queryFlagged(mustHave, mustNotHave int) ([]*Folder, error) {
	rows, err := s.db.Query(`SELECT `+folderColumns+` FROM folders WHERE (flags & ?) != 0 AND (flags & ?) = 0 ORDER BY uri`, mustHave, mustNotHave)
	if err != nil {
		return nil, fmt.Errorf("query folders by flag: %w", err)
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetByType returns the first folder on an account carrying the given
// role flag (e.g. FlagInbox).
func (s *Store) GetByType(accountID string, flag Flag) (*Folder, error) {
	row := s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE account_id = ? AND (flags & ?) != 0 LIMIT 1`, accountID, int(flag))
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no folder with flag %d on account %s: %w", flag, accountID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get folder by type: %w", err)
	}
	return f, nil
}

// Create inserts a new folder.
func (s *Store) Create(f *Folder) error {
	var parentID any
	if f.ParentID != "" {
		parentID = f.ParentID
	}
	_, err := s.db.Exec(`
		INSERT INTO folders (id, account_id, uri, online_name, hier_delim, parent_id, flags,
			uid_validity, uid_next, server_total, server_recent, server_unseen,
			last_sync_time_sec, last_update_time_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.AccountID, f.URI, f.OnlineName, f.HierDelim, parentID, int(f.Flags),
		f.UIDValidity, f.UIDNext, f.ServerTotal, f.ServerRecent, f.ServerUnseen,
		unixOrZero(f.LastSyncTime), unixOrZero(f.LastUpdateTime))
	if err != nil {
		return fmt.Errorf("create folder %s: %w", f.URI, err)
	}
	return nil
}

// Update persists changes to an existing folder.
func (s *Store) Update(f *Folder) error {
	var parentID any
	if f.ParentID != "" {
		parentID = f.ParentID
	}
	_, err := s.db.Exec(`
		UPDATE folders SET online_name = ?, hier_delim = ?, parent_id = ?, flags = ?,
			uid_validity = ?, uid_next = ?, server_total = ?, server_recent = ?, server_unseen = ?,
			last_sync_time_sec = ?, last_update_time_sec = ?
		WHERE id = ?
	`, f.OnlineName, f.HierDelim, parentID, int(f.Flags),
		f.UIDValidity, f.UIDNext, f.ServerTotal, f.ServerRecent, f.ServerUnseen,
		unixOrZero(f.LastSyncTime), unixOrZero(f.LastUpdateTime), f.ID)
	if err != nil {
		return fmt.Errorf("update folder %s: %w", f.ID, err)
	}
	return nil
}

// Delete removes a folder and (via foreign keys) its headers,
// offline operations, and pending renames.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete folder %s: %w", id, err)
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
