package autosync

import (
	"testing"
	"time"

	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/strategy"
)

func hdr(uid uint32, size int64) *message.Header {
	return &message.Header{FolderID: "f1", UID: uid, Size: size, Date: time.Unix(int64(uid), 0)}
}

func TestInsertCandidate_DedupAndExclude(t *testing.T) {
	s := newFolderSyncState("f1")
	strat := &strategy.DefaultMessage{}

	if !s.insertCandidate(hdr(1, 100), strat) {
		t.Fatal("first insert should succeed")
	}
	if s.insertCandidate(hdr(1, 100), strat) {
		t.Fatal("duplicate uid should not be inserted twice")
	}
	if s.insertCandidate(hdr(2, 0), strat) {
		t.Fatal("zero-size message should be excluded")
	}
	offline := hdr(3, 100)
	offline.IsOffline = true
	if s.insertCandidate(offline, strat) {
		t.Fatal("already-offline message should not be queued")
	}
	if s.insertCandidate(nil, strat) {
		t.Fatal("nil header should not be queued")
	}
}

func TestGetNextGroup_BatchesBySize(t *testing.T) {
	s := newFolderSyncState("f1")
	strat := &strategy.DefaultMessage{}
	headers := map[uint32]*message.Header{}
	for _, uid := range []uint32{1, 2, 3} {
		h := hdr(uid, 40)
		headers[uid] = h
		s.insertCandidate(h, strat)
	}

	group := s.getNextGroup(100, strat, headers)
	if len(group) != 2 {
		t.Fatalf("want 2 messages in first group (40+40<=100, +40 would exceed), got %v", group)
	}

	group2 := s.getNextGroup(100, strat, headers)
	if len(group2) != 1 {
		t.Fatalf("want 1 message left in second group, got %v", group2)
	}

	if !s.isDownloadQEmpty() {
		t.Fatal("queue should be drained")
	}
}

func TestGetNextGroup_LoneOversizedMessage(t *testing.T) {
	s := newFolderSyncState("f1")
	strat := &strategy.DefaultMessage{}
	big := hdr(1, 10_000_000)
	headers := map[uint32]*message.Header{1: big}
	s.insertCandidate(big, strat)

	group := s.getNextGroup(1024, strat, headers)
	if len(group) != 1 || group[0] != 1 {
		t.Fatalf("a lone oversized message must still be returned alone, got %v", group)
	}
}

func TestGetNextGroup_SkipsStaleEntries(t *testing.T) {
	s := newFolderSyncState("f1")
	strat := &strategy.DefaultMessage{}
	headers := map[uint32]*message.Header{}
	for _, uid := range []uint32{1, 2} {
		h := hdr(uid, 10)
		headers[uid] = h
		s.insertCandidate(h, strat)
	}
	delete(headers, 1) // 1 vanished locally between enqueue and dispatch

	group := s.getNextGroup(1024, strat, headers)
	if len(group) != 1 || group[0] != 2 {
		t.Fatalf("stale entry should be dropped, got %v", group)
	}
	if _, queued := s.downloadSet[1]; queued {
		t.Fatal("stale uid should be removed from downloadSet too")
	}
}

func TestRollback_BoundedRetries(t *testing.T) {
	s := newFolderSyncState("f1")
	s.offset = 5
	s.lastOffset = 2

	const limit = 3
	for i := 0; i < limit; i++ {
		if !s.rollback(limit) {
			t.Fatalf("rollback %d should still be within budget", i+1)
		}
		if s.offset != 2 {
			t.Fatalf("rollback should restore lastOffset, got offset=%d", s.offset)
		}
		s.offset = 5
	}
	if s.rollback(limit) {
		t.Fatal("rollback beyond the configured limit should give up")
	}
	if s.retryCounter != 0 {
		t.Fatal("giving up should reset the retry counter")
	}
}

func TestDiscoveryScan_PaginatesAndResets(t *testing.T) {
	s := newFolderSyncState("f1")
	keys := []uint32{5, 1, 3, 2, 4}
	s.beginExistingHeadersScan(keys)
	s.beginExistingHeadersScan(keys) // second call must be a no-op

	batch, left := s.nextDiscoveryBatch(2)
	if len(batch) != 2 || batch[0] != 1 || batch[1] != 2 {
		t.Fatalf("expected sorted first batch [1 2], got %v", batch)
	}
	if left != 3 {
		t.Fatalf("expected 3 remaining, got %d", left)
	}

	batch, left = s.nextDiscoveryBatch(10)
	if len(batch) != 3 || left != 0 {
		t.Fatalf("expected final batch to drain the queue, got %v left=%d", batch, left)
	}
	if s.existingHeadersLoaded {
		t.Fatal("scan should reset once exhausted so a new scan can begin later")
	}
}

func TestResetDownloadQ(t *testing.T) {
	s := newFolderSyncState("f1")
	strat := &strategy.DefaultMessage{}
	s.insertCandidate(hdr(1, 10), strat)
	s.offset = 1
	s.resetDownloadQ()
	if len(s.downloadQueue) != 0 || len(s.downloadSet) != 0 || s.offset != 0 {
		t.Fatal("resetDownloadQ should clear queue, set, and offsets")
	}
}
