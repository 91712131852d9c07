// Package offlineop models operations queued while a folder is offline:
// flag changes, keyword edits, copies, moves, and appended drafts or
// templates, each replayed against the server once connectivity returns.
package offlineop

import "time"

// Type is a bit in an operation's type bitset. One record may
// accumulate several bits (e.g. a flag change followed by a move).
type Type uint32

const (
	FlagsChanged Type = 1 << iota
	AddKeywords
	RemoveKeywords
	MsgCopy
	MsgMoved
	AppendDraft
	AppendTemplate
	DeleteAllMsgs
	// MoveResult marks a pseudo header at a move/copy destination,
	// awaiting the server UID to arrive so it can be renamed.
	MoveResult
	// AddedHeader and DeletedMsg let undo reverse a local-only change.
	AddedHeader
	DeletedMsg
	MsgMarkedDeleted
)

func (t Type) Has(bit Type) bool { return t&bit != 0 }

// playbackOrder is the fixed order offline playback processes operation
// types in, so that e.g. a flag change always replays before a move.
var playbackOrder = []Type{
	FlagsChanged, AddKeywords, RemoveKeywords, MsgCopy, MsgMoved,
	AppendDraft, AppendTemplate, DeleteAllMsgs,
}

// PlaybackOrder returns the operation types in the order OfflinePlayback
// must process them.
func PlaybackOrder() []Type { return playbackOrder }

// Operation is one persisted offline-operation record.
type Operation struct {
	ID       string
	FolderID string
	UID      uint32
	Types    Type

	// DestFolderID is set for MsgCopy/MsgMoved/MoveResult.
	DestFolderID string

	// FlagBits/FlagMask describe a FlagsChanged record: each flag in
	// FlagMask is set if its bit is in FlagBits and cleared otherwise;
	// flags outside the mask are left untouched.
	FlagBits uint32
	FlagMask uint32

	// KeywordsAdd/KeywordsRemove are space-separated keyword tokens for
	// AddKeywords/RemoveKeywords records.
	KeywordsAdd    string
	KeywordsRemove string

	MessageSize int64
	CreatedAt   time.Time
}

// CoalesceKey returns the value two operations of the same Type must
// share to be coalesced into a single server round trip: same flag
// mask, same keyword set, or same destination folder.
func (o *Operation) CoalesceKey(t Type) any {
	switch t {
	case FlagsChanged:
		return o.FlagMask
	case AddKeywords:
		return o.KeywordsAdd
	case RemoveKeywords:
		return o.KeywordsRemove
	case MsgCopy, MsgMoved:
		return o.DestFolderID
	default:
		return nil
	}
}
