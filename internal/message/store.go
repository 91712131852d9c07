package message

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/mailcore/autosync/internal/offlineop"
	"github.com/rs/zerolog"
	"github.com/google/uuid"
)

// Store persists message headers and the offline operations queued
// against them.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a new message store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("message-store")}
}

const headerColumns = `folder_id, uid, message_id, size, date_unix, flags, keywords, is_offline, pending_removal, is_pseudo`

func scanHeader(row interface{ Scan(dest ...any) error }) (*Header, error) {
	var h Header
	var dateUnix int64
	var keywords string
	var isOffline, pendingRemoval, isPseudo int
	if err := row.Scan(&h.FolderID, &h.UID, &h.MessageID, &h.Size, &dateUnix, &h.Flags,
		&keywords, &isOffline, &pendingRemoval, &isPseudo); err != nil {
		return nil, err
	}
	if dateUnix > 0 {
		h.Date = time.Unix(dateUnix, 0)
	}
	if keywords != "" {
		h.Keywords = strings.Fields(keywords)
	}
	h.IsOffline = isOffline != 0
	h.PendingRemoval = pendingRemoval != 0
	h.IsPseudo = isPseudo != 0
	return &h, nil
}

// ListAllKeys returns every UID in a folder, ascending, the snapshot
// the existing-headers scan walks one batch at a time.
func (s *Store) ListAllKeys(folderID string) ([]uint32, error) {
	rows, err := s.db.Query(`SELECT uid FROM message_headers WHERE folder_id = ? ORDER BY uid ASC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list keys for folder %s: %w", folderID, err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// GetHeader retrieves a single header by folder and UID.
func (s *Store) GetHeader(folderID string, uid uint32) (*Header, error) {
	row := s.db.QueryRow(`SELECT `+headerColumns+` FROM message_headers WHERE folder_id = ? AND uid = ?`, folderID, uid)
	h, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("header %s/%d: %w", folderID, uid, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get header %s/%d: %w", folderID, uid, err)
	}
	return h, nil
}

// ListPseudoHeaders returns every header in a folder still carrying a
// fake UID, awaiting rename once its real server UID arrives.
func (s *Store) ListPseudoHeaders(folderID string) ([]*Header, error) {
	rows, err := s.db.Query(`SELECT `+headerColumns+` FROM message_headers WHERE folder_id = ? AND is_pseudo = 1`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list pseudo headers for %s: %w", folderID, err)
	}
	defer rows.Close()

	var out []*Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pseudo header: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ContainsKey reports whether a header already exists for folder/uid.
func (s *Store) ContainsKey(folderID string, uid uint32) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM message_headers WHERE folder_id = ? AND uid = ?`, folderID, uid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("contains key %s/%d: %w", folderID, uid, err)
	}
	return n > 0, nil
}

// CreateHeader inserts a new header record.
func (s *Store) CreateHeader(h *Header) error {
	_, err := s.db.Exec(`
		INSERT INTO message_headers (`+headerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.FolderID, h.UID, h.MessageID, h.Size, unixOrZero(h.Date), h.Flags,
		strings.Join(h.Keywords, " "), boolToInt(h.IsOffline), boolToInt(h.PendingRemoval), boolToInt(h.IsPseudo))
	if err != nil {
		return fmt.Errorf("create header %s/%d: %w", h.FolderID, h.UID, err)
	}
	return nil
}

// DeleteHeader removes a header record.
func (s *Store) DeleteHeader(folderID string, uid uint32) error {
	if _, err := s.db.Exec(`DELETE FROM message_headers WHERE folder_id = ? AND uid = ?`, folderID, uid); err != nil {
		return fmt.Errorf("delete header %s/%d: %w", folderID, uid, err)
	}
	return nil
}

// SetOffline marks a header's body as present or absent locally.
func (s *Store) SetOffline(folderID string, uid uint32, offline bool) error {
	_, err := s.db.Exec(`UPDATE message_headers SET is_offline = ? WHERE folder_id = ? AND uid = ?`,
		boolToInt(offline), folderID, uid)
	if err != nil {
		return fmt.Errorf("set offline %s/%d: %w", folderID, uid, err)
	}
	return nil
}

// UpdateFlags overwrites a header's flag bitset.
func (s *Store) UpdateFlags(folderID string, uid uint32, flags Flag) error {
	_, err := s.db.Exec(`UPDATE message_headers SET flags = ? WHERE folder_id = ? AND uid = ?`,
		uint32(flags), folderID, uid)
	if err != nil {
		return fmt.Errorf("update flags %s/%d: %w", folderID, uid, err)
	}
	return nil
}

// RenameKey moves a header from a fake UID to its server-assigned UID
// once the append or copy it stood in for has completed, and retargets
// any offline operations recorded against the old key.
func (s *Store) RenameKey(folderID string, oldUID, newUID uint32) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("rename key %s/%d->%d: %w", folderID, oldUID, newUID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE message_headers SET uid = ?, is_pseudo = 0 WHERE folder_id = ? AND uid = ?`,
		newUID, folderID, oldUID); err != nil {
		return fmt.Errorf("rename header %s/%d->%d: %w", folderID, oldUID, newUID, err)
	}
	if _, err := tx.Exec(`UPDATE offline_operations SET uid = ? WHERE folder_id = ? AND uid = ?`,
		newUID, folderID, oldUID); err != nil {
		return fmt.Errorf("retarget ops %s/%d->%d: %w", folderID, oldUID, newUID, err)
	}
	if _, err := tx.Exec(`DELETE FROM pseudo_header_renames WHERE folder_id = ? AND fake_uid = ?`,
		folderID, oldUID); err != nil {
		return fmt.Errorf("clear pending rename %s/%d: %w", folderID, oldUID, err)
	}
	return tx.Commit()
}

// GetNextFakeUID allocates the next fake UID in a folder's reserved
// range: one past the highest fake UID currently in use there, so no
// separate global counter is needed.
func (s *Store) GetNextFakeUID(folderID string) (uint32, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(uid) FROM message_headers WHERE folder_id = ? AND is_pseudo = 1`, folderID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next fake uid for %s: %w", folderID, err)
	}
	if !max.Valid || uint32(max.Int64) < FakeUIDBase {
		return FakeUIDBase, nil
	}
	return uint32(max.Int64) + 1, nil
}

const opColumns = `id, folder_id, uid, op_types, dest_folder_id, flag_bits, flag_mask, keywords_add, keywords_remove, message_size, created_at_unix`

func scanOp(row interface{ Scan(dest ...any) error }) (*offlineop.Operation, error) {
	var o offlineop.Operation
	var destFolderID sql.NullString
	var createdAt int64
	if err := row.Scan(&o.ID, &o.FolderID, &o.UID, &o.Types, &destFolderID,
		&o.FlagBits, &o.FlagMask, &o.KeywordsAdd, &o.KeywordsRemove, &o.MessageSize, &createdAt); err != nil {
		return nil, err
	}
	if destFolderID.Valid {
		o.DestFolderID = destFolderID.String
	}
	if createdAt > 0 {
		o.CreatedAt = time.Unix(createdAt, 0)
	}
	return &o, nil
}

// GetOfflineOpForKey retrieves the offline operation recorded for a
// message, creating an empty one first if createIfMissing is set and
// none exists yet.
func (s *Store) GetOfflineOpForKey(folderID string, uid uint32, createIfMissing bool) (*offlineop.Operation, error) {
	row := s.db.QueryRow(`SELECT `+opColumns+` FROM offline_operations WHERE folder_id = ? AND uid = ?`, folderID, uid)
	op, err := scanOp(row)
	if err == sql.ErrNoRows {
		if !createIfMissing {
			return nil, nil
		}
		op = &offlineop.Operation{ID: uuid.NewString(), FolderID: folderID, UID: uid, CreatedAt: time.Unix(0, 0)}
		if _, err := s.db.Exec(`
			INSERT INTO offline_operations (id, folder_id, uid, op_types, flag_bits, flag_mask, keywords_add, keywords_remove, message_size, created_at_unix)
			VALUES (?, ?, ?, 0, 0, 0, '', '', 0, 0)
		`, op.ID, op.FolderID, op.UID); err != nil {
			return nil, fmt.Errorf("create offline op %s/%d: %w", folderID, uid, err)
		}
		return op, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offline op %s/%d: %w", folderID, uid, err)
	}
	return op, nil
}

// SaveOfflineOp persists changes to an existing offline operation.
func (s *Store) SaveOfflineOp(o *offlineop.Operation) error {
	var destFolderID any
	if o.DestFolderID != "" {
		destFolderID = o.DestFolderID
	}
	_, err := s.db.Exec(`
		UPDATE offline_operations SET op_types = ?, dest_folder_id = ?, flag_bits = ?, flag_mask = ?,
			keywords_add = ?, keywords_remove = ?, message_size = ?
		WHERE id = ?
	`, uint32(o.Types), destFolderID, o.FlagBits, o.FlagMask, o.KeywordsAdd, o.KeywordsRemove, o.MessageSize, o.ID)
	if err != nil {
		return fmt.Errorf("save offline op %s: %w", o.ID, err)
	}
	return nil
}

// RemoveOfflineOp deletes an offline operation once it has been
// played back successfully.
func (s *Store) RemoveOfflineOp(id string) error {
	if _, err := s.db.Exec(`DELETE FROM offline_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove offline op %s: %w", id, err)
	}
	return nil
}

// ListAllOfflineOpIDs returns every pending offline operation ID in a
// folder, in creation order.
func (s *Store) ListAllOfflineOpIDs(folderID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM offline_operations WHERE folder_id = ? ORDER BY created_at_unix ASC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list offline op ids for %s: %w", folderID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offline op id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListOfflineOps returns every pending offline operation in a folder,
// sorted the way playback groups them: by operation type's fixed
// playback order, then by creation order within a type.
func (s *Store) ListOfflineOps(folderID string) ([]*offlineop.Operation, error) {
	rows, err := s.db.Query(`SELECT `+opColumns+` FROM offline_operations WHERE folder_id = ? ORDER BY created_at_unix ASC`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list offline ops for %s: %w", folderID, err)
	}
	defer rows.Close()

	var out []*offlineop.Operation
	for rows.Next() {
		o, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offline op: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	order := offlineop.PlaybackOrder()
	rank := make(map[offlineop.Type]int, len(order))
	for i, t := range order {
		rank[t] = i
	}
	firstSetType := func(o *offlineop.Operation) offlineop.Type {
		for _, t := range order {
			if o.Types.Has(t) {
				return t
			}
		}
		return 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank[firstSetType(out[i])] < rank[firstSetType(out[j])]
	})
	return out, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
