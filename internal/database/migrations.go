package database

// Migration represents a database migration
type Migration struct {
	Version int
	SQL     string
}

// migrations is the list of all database migrations
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- Accounts table. Only the fields the auto-sync core itself
			-- reads or writes; transport credentials live outside this core.
			CREATE TABLE accounts (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				enabled INTEGER NOT NULL DEFAULT 1,

				-- Scheduling knobs; zero means "use the global default".
				biff_interval_minutes INTEGER NOT NULL DEFAULT 0,
				offline_age_days_max INTEGER NOT NULL DEFAULT 0,
				show_deleted_messages INTEGER NOT NULL DEFAULT 0,
				download_model TEXT NOT NULL DEFAULT '',
				large_message_threshold_bytes INTEGER NOT NULL DEFAULT 0,

				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			-- Folders. uid_validity/uid_next/last_sync_time_sec are the
			-- persisted folder cache element fields the auto-sync core keeps.
			CREATE TABLE folders (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				uri TEXT NOT NULL,
				online_name TEXT NOT NULL,
				hier_delim TEXT NOT NULL DEFAULT '/',
				parent_id TEXT REFERENCES folders(id) ON DELETE SET NULL,
				flags INTEGER NOT NULL DEFAULT 0,

				uid_validity INTEGER NOT NULL DEFAULT 0,
				uid_next INTEGER NOT NULL DEFAULT 0,
				server_total INTEGER NOT NULL DEFAULT 0,
				server_recent INTEGER NOT NULL DEFAULT 0,
				server_unseen INTEGER NOT NULL DEFAULT 0,

				last_sync_time_sec INTEGER NOT NULL DEFAULT 0,
				last_update_time_sec INTEGER NOT NULL DEFAULT 0,

				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(account_id, uri)
			);

			CREATE INDEX idx_folders_account ON folders(account_id);

			-- Message headers: one row per known UID (or fake UID for a
			-- pseudo header). is_offline marks "body present locally".
			CREATE TABLE message_headers (
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				uid INTEGER NOT NULL,
				message_id TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				date_unix INTEGER NOT NULL DEFAULT 0,
				flags INTEGER NOT NULL DEFAULT 0,
				keywords TEXT NOT NULL DEFAULT '',
				is_offline INTEGER NOT NULL DEFAULT 0,
				pending_removal INTEGER NOT NULL DEFAULT 0,
				is_pseudo INTEGER NOT NULL DEFAULT 0,

				PRIMARY KEY (folder_id, uid)
			);

			CREATE INDEX idx_headers_message_id ON message_headers(folder_id, message_id);

			-- Offline operation records: queued while a folder has no connectivity,
			-- replayed once it does.
			CREATE TABLE offline_operations (
				id TEXT PRIMARY KEY,
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				uid INTEGER NOT NULL,
				op_types INTEGER NOT NULL DEFAULT 0,
				dest_folder_id TEXT REFERENCES folders(id) ON DELETE SET NULL,
				flag_bits INTEGER NOT NULL DEFAULT 0,
				flag_mask INTEGER NOT NULL DEFAULT 0,
				keywords_add TEXT NOT NULL DEFAULT '',
				keywords_remove TEXT NOT NULL DEFAULT '',
				message_size INTEGER NOT NULL DEFAULT 0,
				created_at_unix INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_offline_ops_folder ON offline_operations(folder_id);
			CREATE INDEX idx_offline_ops_uid ON offline_operations(folder_id, uid);

			-- Pending pseudo-header rename table: ties a fake UID's
			-- message-id to the destination folder awaiting the real UID.
			CREATE TABLE pseudo_header_renames (
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				fake_uid INTEGER NOT NULL,
				message_id TEXT NOT NULL,
				source_folder_id TEXT REFERENCES folders(id) ON DELETE SET NULL,

				PRIMARY KEY (folder_id, fake_uid)
			);

			-- Key/value configuration store for the tunable sync knobs.
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			-- Raw body bytes for messages with a local copy (is_offline on
			-- message_headers). Kept apart from message_headers so header
			-- scans never drag body payloads along.
			CREATE TABLE message_bodies (
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				uid INTEGER NOT NULL,
				raw_body BLOB NOT NULL,

				PRIMARY KEY (folder_id, uid)
			);
		`,
	},
}
