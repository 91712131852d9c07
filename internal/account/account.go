// Package account models the IMAP accounts the auto-sync core serves.
//
// Account-scoped sync knobs (offline age limit, download model, biff
// interval) live as ordinary columns on this row rather than as
// entries in the global config store, since they vary per account.
package account

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/rs/zerolog"
)

// Account is one IMAP server the core keeps synchronized. Transport
// credentials (host, port, auth) are out of this core's scope; only
// the fields the auto-sync core itself reads or writes are modeled.
type Account struct {
	ID      string
	Name    string
	Email   string
	Enabled bool

	// BiffInterval overrides the global default update interval for
	// this account. Zero means "use default".
	BiffInterval time.Duration

	// OfflineAgeDaysMax excludes messages older than this many days
	// from the download queue. Zero or negative disables the filter.
	OfflineAgeDaysMax int

	// ShowDeletedMessages keeps IMAP-deleted messages visible locally.
	ShowDeletedMessages bool

	// DownloadModel is stored with the account, but the sync manager
	// does not read it: every account's folders use the global download
	// model from the config store.
	DownloadModel string

	// LargeMessageThresholdBytes overrides strategy.DefaultLargeMessageThreshold
	// for this account's download ordering. Zero or negative means "use
	// the default".
	LargeMessageThresholdBytes int64
}

// Store provides account persistence.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a new account store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("account-store")}
}

func scanAccount(row interface {
	Scan(dest ...any) error
}) (*Account, error) {
	var a Account
	var enabled int
	var biffMin, offlineAgeDaysMax int
	var showDeleted int
	var downloadModel sql.NullString
	var largeMessageThreshold int64
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &enabled, &biffMin, &offlineAgeDaysMax, &showDeleted, &downloadModel, &largeMessageThreshold); err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.BiffInterval = time.Duration(biffMin) * time.Minute
	a.OfflineAgeDaysMax = offlineAgeDaysMax
	a.ShowDeletedMessages = showDeleted != 0
	if downloadModel.Valid {
		a.DownloadModel = downloadModel.String
	}
	a.LargeMessageThresholdBytes = largeMessageThreshold
	return &a, nil
}

const accountColumns = `id, name, email, enabled, biff_interval_minutes, offline_age_days_max, show_deleted_messages, download_model, large_message_threshold_bytes`

// Get retrieves an account by ID.
func (s *Store) Get(id string) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// List returns every account, enabled or not.
func (s *Store) List() ([]*Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new account.
func (s *Store) Create(a *Account) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, name, email, enabled, biff_interval_minutes, offline_age_days_max, show_deleted_messages, download_model, large_message_threshold_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Email, boolToInt(a.Enabled), int(a.BiffInterval/time.Minute), a.OfflineAgeDaysMax, boolToInt(a.ShowDeletedMessages), a.DownloadModel, a.LargeMessageThresholdBytes)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, err)
	}
	s.log.Debug().Str("account_id", a.ID).Msg("account created")
	return nil
}

// Update persists changes to an existing account.
func (s *Store) Update(a *Account) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET name = ?, email = ?, enabled = ?, biff_interval_minutes = ?,
			offline_age_days_max = ?, show_deleted_messages = ?, download_model = ?,
			large_message_threshold_bytes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, a.Name, a.Email, boolToInt(a.Enabled), int(a.BiffInterval/time.Minute), a.OfflineAgeDaysMax, boolToInt(a.ShowDeletedMessages), a.DownloadModel, a.LargeMessageThresholdBytes, a.ID)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
