// Package protocol defines the boundary between the auto-sync core and
// the IMAP wire protocol. The core never speaks IMAP directly: it hands
// a URL-shaped operation and a listener to a ProtocolEngine and returns
// immediately; completion arrives later via OnStopRunningUrl on the
// core's own executor.
package protocol

import "context"

// ExitCode reports how a URL finished.
type ExitCode int

const (
	// OK means the URL completed successfully.
	OK ExitCode = iota
	// TransientNetwork covers timeouts and connection resets: retry up
	// to groupRetryCount before giving up on the batch.
	TransientNetwork
	// ProtocolFailure covers a server NO/BAD response: never retried.
	ProtocolFailure
	// UidValidityChanged means the folder's UIDVALIDITY no longer
	// matches the cached value: the local cache for that folder must
	// be reset and a full resync scheduled.
	UidValidityChanged
	// UserCancelled means a user-initiated stop aborted the URL.
	UserCancelled
	// Fatal covers local I/O failures unrelated to the network (e.g.
	// the offline body store).
	Fatal
)

func (c ExitCode) String() string {
	switch c {
	case OK:
		return "ok"
	case TransientNetwork:
		return "transient-network"
	case ProtocolFailure:
		return "protocol-failure"
	case UidValidityChanged:
		return "uid-validity-changed"
	case UserCancelled:
		return "user-cancelled"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StoreAction selects whether a STORE adds or removes the given bits.
type StoreAction int

const (
	Add StoreAction = iota
	Subtract
)

// URL is the handle returned by every ProtocolEngine call. It carries
// no behavior; it exists so a Listener can be told which dispatch a
// completion belongs to.
type URL struct {
	ID   uint64
	Kind string
}

// StatusResult carries the server counters a SELECT, STATUS or NOOP
// reported, consumed by the folder state machine's snapshot comparison.
// For AppendMessage it instead carries the UIDPLUS destination UID the
// server assigned, consumed by offline playback's pseudo-header rename.
// CopyMessages returns no StatusResult: the destination UIDs of a COPY
// are not unpacked, so a same-server copy or move renames no pseudo
// header.
type StatusResult struct {
	UIDValidity uint32
	UIDNext     uint32
	Total       int
	Recent      int
	Unseen      int

	// AssignedUID is the server-assigned UID of an APPENDed message,
	// when the server supports UIDPLUS. Zero if unknown.
	AssignedUID uint32
}

// Listener receives the asynchronous completion of a URL dispatched
// against a ProtocolEngine. OnStartRunningUrl and OnStopRunningUrl are
// each invoked exactly once per URL. ClientEngine calls
// OnStartRunningUrl on the dispatching goroutine and OnStopRunningUrl
// from its own goroutine; the autosync manager's listener re-posts each
// completion onto the manager's executor.
//
// OnMessageBody is different: FetchMessageBodies invokes it zero or
// more times, once per fetched message, on the engine's own goroutine,
// and the manager's listener handles it there without re-posting, so a
// listener implementing it must not touch state that isn't safe for
// concurrent access.
type Listener interface {
	OnStartRunningUrl(u URL)
	OnStopRunningUrl(u URL, code ExitCode, status *StatusResult)

	// OnMessageBody delivers one fetched message body as it arrives
	// during a FetchMessageBodies call, before that call's
	// OnStopRunningUrl.
	OnMessageBody(u URL, uid uint32, raw []byte)
}

// Engine is the IMAP wire-protocol boundary. Every method dispatches
// one operation and returns a URL handle immediately; the result
// arrives through the supplied Listener.
type Engine interface {
	// SelectFolder issues SELECT; the folder's UIDVALIDITY, UIDNEXT and
	// message count reach the listener as a StatusResult. It fetches no
	// headers.
	SelectFolder(ctx context.Context, accountID, folderURI string, l Listener) URL

	// UpdateFolderStatus issues STATUS (folder not selected) or NOOP
	// (folder currently selected); the result reaches the listener as
	// a StatusResult.
	UpdateFolderStatus(ctx context.Context, accountID, folderURI string, l Listener) URL

	// FetchMessageBodies fetches the bodies of the given UIDs as one
	// batch, passing each to the listener's OnMessageBody as it arrives.
	FetchMessageBodies(ctx context.Context, accountID, folderURI string, uids []uint32, l Listener) URL

	// StoreFlags issues STORE for a system flag mask.
	StoreFlags(ctx context.Context, accountID, folderURI string, uids []uint32, action StoreAction, flagMask uint32, l Listener) URL

	// StoreKeywords issues STORE for a set of user-defined keywords.
	StoreKeywords(ctx context.Context, accountID, folderURI string, uids []uint32, action StoreAction, keywords []string, l Listener) URL

	// CopyMessages issues COPY within one account's server; when isMove
	// is set it then marks the copied UIDs Deleted on the source and
	// removes them with UID EXPUNGE.
	CopyMessages(ctx context.Context, accountID, sourceURI string, uids []uint32, destURI string, isMove bool, l Listener) URL

	// AppendMessage issues APPEND of a locally-composed message.
	AppendMessage(ctx context.Context, accountID, destURI string, raw []byte, l Listener) URL

	// CreateFolder issues CREATE under parentURI.
	CreateFolder(ctx context.Context, accountID, parentURI, name string, l Listener) URL

	// DeleteAllMessages marks every message Deleted and EXPUNGEs; it has
	// no server-side DELETE ALL path.
	DeleteAllMessages(ctx context.Context, accountID, folderURI string, l Listener) URL
}
