// Package message stores the per-message header records the auto-sync
// core operates over, narrowed to exactly the fields the core reads or
// writes: UID, message-id, size, date, flags, keywords, and the
// offline/pending-removal/pseudo bits
// that drive the download and playback queues.
package message

import "time"

// Flag is a bit in a header's flag bitset.
type Flag uint32

const (
	FlagSeen Flag = 1 << iota
	FlagAnswered
	FlagFlagged
	FlagForwarded
	FlagDeleted
	FlagDraft
	FlagMDNSent
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Header is one message's header record.
type Header struct {
	FolderID  string
	UID       uint32
	MessageID string
	Size      int64
	Date      time.Time
	Flags     Flag
	Keywords  []string

	// IsOffline reports whether the message body is present locally.
	IsOffline bool
	// PendingRemoval marks a header staged for local deletion.
	PendingRemoval bool
	// IsPseudo marks a header created locally with a fake UID, not yet
	// renamed to its server-assigned UID.
	IsPseudo bool
}

// FakeUIDBase is the first value in the reserved fake-UID range: large
// enough that no real IMAP server will ever assign it within a folder's
// lifetime.
const FakeUIDBase uint32 = 0xF0000000
