package autosync

import (
	"sort"
	"time"

	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/strategy"
)

// State is a FolderSyncState's position in its state machine.
type State int

const (
	CompletedIdle State = iota
	StatusIssued
	UpdateNeeded
	UpdateIssued
	ReadyToDownload
	DownloadInProgress
)

func (s State) String() string {
	switch s {
	case CompletedIdle:
		return "completed-idle"
	case StatusIssued:
		return "status-issued"
	case UpdateNeeded:
		return "update-needed"
	case UpdateIssued:
		return "update-issued"
	case ReadyToDownload:
		return "ready-to-download"
	case DownloadInProgress:
		return "download-in-progress"
	default:
		return "unknown"
	}
}


// serverSnapshot is the counters taken after the most recent
// STATUS/SELECT, compared on the next one to decide whether an update
// is actually needed.
type serverSnapshot struct {
	total, recent, unseen int
	uidNext               uint32
	taken                 bool
}

// folderSyncState is the per-folder download and discovery state
// machine. Every method here is called only from the manager's single
// executor goroutine; none of it is safe to call concurrently on its
// own.
type folderSyncState struct {
	folderID string

	state State

	downloadQueue        []uint32
	downloadSet          map[uint32]struct{}
	downloadQueueChanged bool
	offset, lastOffset   int

	existingHeadersQueue []uint32
	processPointer       int
	existingHeadersLoaded bool

	lastSyncTime   time.Time
	lastUpdateTime time.Time
	snapshot       serverSnapshot

	retryCounter int
}

func newFolderSyncState(folderID string) *folderSyncState {
	return &folderSyncState{
		folderID:    folderID,
		state:       CompletedIdle,
		downloadSet: make(map[uint32]struct{}),
	}
}

// insertCandidate adds uid to the download queue if it passes every
// filter: present locally, not already queued, not excluded by the
// message strategy, has a local body missing, and nonzero size.
func (s *folderSyncState) insertCandidate(h *message.Header, strat strategy.Message) bool {
	if h == nil || h.IsOffline {
		return false
	}
	if _, queued := s.downloadSet[h.UID]; queued {
		return false
	}
	if strat.Excluded(h) {
		return false
	}
	s.downloadQueue = append(s.downloadQueue, h.UID)
	s.downloadSet[h.UID] = struct{}{}
	s.downloadQueueChanged = true
	return true
}

// sortPending re-sorts only the pending sub-range (offset onward),
// leaving already-downloaded entries' relative order untouched — the
// queue can't be range-sorted in place without disturbing that prefix,
// so the prefix is copied out, the remainder sorted, then reattached.
func (s *folderSyncState) sortPending(strat strategy.Message, headers map[uint32]*message.Header) {
	if !s.downloadQueueChanged {
		return
	}
	pending := append([]uint32(nil), s.downloadQueue[s.offset:]...)
	sort.SliceStable(pending, func(i, j int) bool {
		hi, hj := headers[pending[i]], headers[pending[j]]
		if hi == nil || hj == nil {
			return false
		}
		return strat.Compare(hi, hj) == strategy.Lower
	})
	s.downloadQueue = append(s.downloadQueue[:s.offset:s.offset], pending...)
	s.downloadQueueChanged = false
}

// getNextGroup returns the next contiguous prefix of pending UIDs
// whose cumulative size fits sizeLimit, skipping stale entries (no
// longer present in headers) by removing them from the queue and set
// in the same pass. A lone oversized message is still returned alone.
func (s *folderSyncState) getNextGroup(sizeLimit int64, strat strategy.Message, headers map[uint32]*message.Header) []uint32 {
	s.sortPending(strat, headers)

	var group []uint32
	var total int64
	idx := s.offset
	for idx < len(s.downloadQueue) {
		uid := s.downloadQueue[idx]
		h, ok := headers[uid]
		if !ok {
			s.removeAt(idx)
			continue
		}
		if h.IsOffline || strat.Excluded(h) {
			s.removeAt(idx)
			continue
		}
		if len(group) > 0 && total+h.Size > sizeLimit {
			break
		}
		group = append(group, uid)
		total += h.Size
		idx++
		if total > sizeLimit {
			break
		}
	}

	s.lastOffset = s.offset
	s.offset = idx
	return group
}

// removeAt deletes the queue entry at idx without shifting Offset,
// since idx >= Offset by construction at every call site.
func (s *folderSyncState) removeAt(idx int) {
	uid := s.downloadQueue[idx]
	delete(s.downloadSet, uid)
	s.downloadQueue = append(s.downloadQueue[:idx], s.downloadQueue[idx+1:]...)
}

// rollback restores Offset to the start of the last-dispatched batch
// so it will be retried, incrementing RetryCounter. Returns false, and
// resets the counter, on the failure that takes the count past limit
// (the limit+1-th consecutive one), so a batch is retried limit times.
// limit is the configured groupRetryCount knob (§6), read fresh by the
// caller on every attempt rather than cached here, since it's a knob
// re-read on change.
func (s *folderSyncState) rollback(limit int) bool {
	s.retryCounter++
	if s.retryCounter > limit {
		s.retryCounter = 0
		return false
	}
	s.offset = s.lastOffset
	return true
}

func (s *folderSyncState) resetRetryCounter() { s.retryCounter = 0 }

// resetDownloadQ clears both queue and offsets. Its only caller is the
// UIDVALIDITY reset (resetFolderForUidValidityChange); the transitions
// into CompletedIdle after a drained queue leave the queue contents and
// offsets in place.
func (s *folderSyncState) resetDownloadQ() {
	s.downloadQueue = nil
	s.downloadSet = make(map[uint32]struct{})
	s.downloadQueueChanged = false
	s.offset = 0
	s.lastOffset = 0
}

func (s *folderSyncState) isDownloadQEmpty() bool { return s.offset >= len(s.downloadQueue) }

func (s *folderSyncState) pendingMessageCount() int { return len(s.downloadQueue) - s.offset }
func (s *folderSyncState) totalMessageCount() int   { return len(s.downloadQueue) }

// beginExistingHeadersScan lazily snapshots every UID currently in the
// folder, sorted ascending, the first time Discovery runs.
func (s *folderSyncState) beginExistingHeadersScan(keys []uint32) {
	if s.existingHeadersLoaded {
		return
	}
	sorted := append([]uint32(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s.existingHeadersQueue = sorted
	s.processPointer = 0
	s.existingHeadersLoaded = true
}

// nextDiscoveryBatch returns up to n UIDs starting at ProcessPointer
// and advances the cursor; the second result is the count left after
// advancing.
func (s *folderSyncState) nextDiscoveryBatch(n int) ([]uint32, int) {
	if s.processPointer >= len(s.existingHeadersQueue) {
		return nil, 0
	}
	end := s.processPointer + n
	if end > len(s.existingHeadersQueue) {
		end = len(s.existingHeadersQueue)
	}
	batch := s.existingHeadersQueue[s.processPointer:end]
	s.processPointer = end
	left := len(s.existingHeadersQueue) - s.processPointer
	if left == 0 {
		s.existingHeadersQueue = nil
		s.existingHeadersLoaded = false
	}
	return batch, left
}
