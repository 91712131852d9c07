package autosync

import (
	"errors"
	"fmt"

	"github.com/mailcore/autosync/internal/protocol"
)

// Sentinel errors for the taxonomy every URL completion and local
// bookkeeping failure reduces to. Use errors.Is against these, not
// string matching — string matching is reserved for classifying raw
// protocol errors at the engine boundary, before they reach the core.
var (
	// ErrTransientNetwork covers timeouts and connection resets.
	// Retried up to groupRetryCount before the batch is deferred.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrProtocolFailure covers a server NO/BAD response. Never
	// retried; the offline operation behind it is dropped.
	ErrProtocolFailure = errors.New("protocol failure")

	// ErrUidValidityChanged means SELECT reported a UIDVALIDITY that
	// no longer matches the cached value.
	ErrUidValidityChanged = errors.New("uid validity changed")

	// ErrFolderBusy means the folder's offline-store semaphore is
	// already held; the caller must postpone, not fail.
	ErrFolderBusy = errors.New("folder busy")

	// ErrNoMessagesToDownload is a sentinel, not a failure: the
	// folder's download queue became empty before dispatch.
	ErrNoMessagesToDownload = errors.New("no messages to download")

	// ErrUserCancelled means a user-initiated stop aborted the
	// current chain.
	ErrUserCancelled = errors.New("user cancelled")

	// ErrFatal covers local I/O failures unrelated to the network.
	ErrFatal = errors.New("fatal local error")
)

// opError wraps a sentinel with the URL kind and folder it occurred on.
type opError struct {
	sentinel error
	folderID string
	kind     string
}

func (e *opError) Error() string {
	return fmt.Sprintf("%s: %s on folder %s", e.sentinel, e.kind, e.folderID)
}

func (e *opError) Unwrap() error { return e.sentinel }

func wrapExitCode(code protocol.ExitCode, folderID, kind string) error {
	var sentinel error
	switch code {
	case protocol.OK:
		return nil
	case protocol.TransientNetwork:
		sentinel = ErrTransientNetwork
	case protocol.ProtocolFailure:
		sentinel = ErrProtocolFailure
	case protocol.UidValidityChanged:
		sentinel = ErrUidValidityChanged
	case protocol.UserCancelled:
		sentinel = ErrUserCancelled
	case protocol.Fatal:
		sentinel = ErrFatal
	default:
		sentinel = ErrProtocolFailure
	}
	return &opError{sentinel: sentinel, folderID: folderID, kind: kind}
}
