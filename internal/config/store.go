// Package config stores the auto-sync core's global configuration knobs.
package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/rs/zerolog"
)

// Known setting keys.
const (
	KeyGroupSize             = "group_size"
	KeyGroupRetryCount       = "group_retry_count"
	KeyIdleTimeSec           = "idle_time_sec"
	KeyTimerIntervalMs       = "timer_interval_ms"
	KeyAutoSyncFrequencySec  = "auto_sync_frequency_sec"
	KeyDefaultUpdateInterval = "default_update_interval_sec"
	KeyDownloadModel         = "download_model"
	KeyCheckAllFoldersForNew = "check_all_folders_for_new"
	KeyDeleteModel           = "delete_model"
)

// DownloadModel selects whether sibling folders on one server may
// download concurrently.
type DownloadModel string

const (
	DownloadModelChained  DownloadModel = "chained"
	DownloadModelParallel DownloadModel = "parallel"
)

// DeleteModel controls what happens to a message deleted locally.
type DeleteModel string

const (
	DeleteModelMoveToTrash  DeleteModel = "move_to_trash"
	DeleteModelImapDelete   DeleteModel = "imap_delete"
	DeleteModelNoTrash      DeleteModel = "delete_no_trash"
)

// Defaults used when a key is unset.
const (
	DefaultGroupSizeBytes        = 50 * 1024
	DefaultGroupRetryCount       = 3
	DefaultIdleTimeSec           = 30
	DefaultTimerIntervalMs       = 1000
	DefaultAutoSyncFrequency     = time.Hour
	DefaultUpdateInterval        = 10 * time.Minute
	DefaultDownloadModel         = DownloadModelChained
	DefaultCheckAllFoldersForNew = false
	DefaultDeleteModel           = DeleteModelMoveToTrash
)

// Store provides configuration persistence: a flat key/value table with
// typed getters that fall back to sensible defaults when a key is unset.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a new configuration store.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:  db,
		log: logging.WithComponent("config-store"),
	}
}

// Get retrieves a setting value by key, returning ("", false) if unset.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set sets a setting value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Str("value", value).Msg("setting updated")
	return nil
}

func (s *Store) getInt(key string, def int) int {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) getBool(key string, def bool) bool {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	return v == "true"
}

// GroupSize returns the target byte budget per download batch.
func (s *Store) GroupSize() int { return s.getInt(KeyGroupSize, DefaultGroupSizeBytes) }

// SetGroupSize sets the target byte budget per download batch.
func (s *Store) SetGroupSize(bytes int) error { return s.Set(KeyGroupSize, strconv.Itoa(bytes)) }

// GroupRetryCount returns the max retries per download batch.
func (s *Store) GroupRetryCount() int {
	return s.getInt(KeyGroupRetryCount, DefaultGroupRetryCount)
}

// IdleTimeSec returns the OS idle threshold in seconds.
func (s *Store) IdleTimeSec() int { return s.getInt(KeyIdleTimeSec, DefaultIdleTimeSec) }

// TimerInterval returns the periodic timer period.
func (s *Store) TimerInterval() time.Duration {
	return time.Duration(s.getInt(KeyTimerIntervalMs, DefaultTimerIntervalMs)) * time.Millisecond
}

// AutoSyncFrequency returns the discovery-queue scan interval.
func (s *Store) AutoSyncFrequency() time.Duration {
	secs := s.getInt(KeyAutoSyncFrequencySec, int(DefaultAutoSyncFrequency.Seconds()))
	return time.Duration(secs) * time.Second
}

// DefaultUpdateIntervalFor returns the update-queue biff interval used
// when an account does not specify its own.
func (s *Store) DefaultUpdateIntervalFor() time.Duration {
	secs := s.getInt(KeyDefaultUpdateInterval, int(DefaultUpdateInterval.Seconds()))
	return time.Duration(secs) * time.Second
}

// DownloadModel returns the configured download model.
func (s *Store) DownloadModel() DownloadModel {
	v, ok, err := s.Get(KeyDownloadModel)
	if err != nil || !ok || (v != string(DownloadModelChained) && v != string(DownloadModelParallel)) {
		return DefaultDownloadModel
	}
	return DownloadModel(v)
}

// SetDownloadModel sets the configured download model.
func (s *Store) SetDownloadModel(m DownloadModel) error {
	return s.Set(KeyDownloadModel, string(m))
}

// CheckAllFoldersForNew reports whether biff should scan every folder,
// not just Inbox and folders marked check-new.
func (s *Store) CheckAllFoldersForNew() bool {
	return s.getBool(KeyCheckAllFoldersForNew, DefaultCheckAllFoldersForNew)
}

// DeleteModel returns the configured delete behavior.
func (s *Store) DeleteModel() DeleteModel {
	v, ok, err := s.Get(KeyDeleteModel)
	if err != nil || !ok {
		return DefaultDeleteModel
	}
	return DeleteModel(v)
}
