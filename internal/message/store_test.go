package message

import (
	"path/filepath"
	"testing"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/folder"
	"github.com/mailcore/autosync/internal/offlineop"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accounts := account.NewStore(db)
	if err := accounts.Create(&account.Account{ID: "acc1", Name: "Test", Email: "t@example.com", Enabled: true}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	folders := folder.NewStore(db)
	if err := folders.Create(&folder.Folder{ID: "f1", AccountID: "acc1", URI: "INBOX", OnlineName: "Inbox", HierDelim: "/"}); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	return NewStore(db), "f1"
}

func TestCreateHeaderThenGetRoundTrips(t *testing.T) {
	s, folderID := newTestStore(t)
	h := &Header{FolderID: folderID, UID: 1, MessageID: "<a@b>", Size: 100, Flags: FlagSeen, Keywords: []string{"a", "b"}}
	if err := s.CreateHeader(h); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetHeader(folderID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != "<a@b>" || got.Size != 100 || !got.Flags.Has(FlagSeen) {
		t.Fatalf("got %+v, want matching fields", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "a" || got.Keywords[1] != "b" {
		t.Fatalf("got keywords %v, want [a b]", got.Keywords)
	}
}

func TestContainsKey(t *testing.T) {
	s, folderID := newTestStore(t)
	s.CreateHeader(&Header{FolderID: folderID, UID: 1})

	ok, err := s.ContainsKey(folderID, 1)
	if err != nil || !ok {
		t.Fatalf("want ContainsKey true for uid 1, got %v, %v", ok, err)
	}
	ok, err = s.ContainsKey(folderID, 2)
	if err != nil || ok {
		t.Fatalf("want ContainsKey false for uid 2, got %v, %v", ok, err)
	}
}

func TestListPseudoHeadersOnlyReturnsPseudoRows(t *testing.T) {
	s, folderID := newTestStore(t)
	s.CreateHeader(&Header{FolderID: folderID, UID: 1, IsPseudo: true, MessageID: "<pseudo@x>"})
	s.CreateHeader(&Header{FolderID: folderID, UID: 2, IsPseudo: false, MessageID: "<real@x>"})

	got, err := s.ListPseudoHeaders(folderID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].UID != 1 {
		t.Fatalf("want only the pseudo header, got %v", got)
	}
}

func TestSetOfflineAndUpdateFlags(t *testing.T) {
	s, folderID := newTestStore(t)
	s.CreateHeader(&Header{FolderID: folderID, UID: 1})

	if err := s.SetOffline(folderID, 1, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if err := s.UpdateFlags(folderID, 1, FlagSeen|FlagFlagged); err != nil {
		t.Fatalf("update flags: %v", err)
	}

	got, err := s.GetHeader(folderID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOffline || !got.Flags.Has(FlagSeen) || !got.Flags.Has(FlagFlagged) {
		t.Fatalf("got %+v, want offline + Seen + Flagged", got)
	}
}

func TestRenameKeyMovesHeaderAndOps(t *testing.T) {
	s, folderID := newTestStore(t)
	const fakeUID = FakeUIDBase
	s.CreateHeader(&Header{FolderID: folderID, UID: fakeUID, IsPseudo: true})
	op, err := s.GetOfflineOpForKey(folderID, fakeUID, true)
	if err != nil {
		t.Fatalf("get offline op: %v", err)
	}

	if err := s.RenameKey(folderID, fakeUID, 500); err != nil {
		t.Fatalf("rename: %v", err)
	}

	renamed, err := s.GetHeader(folderID, 500)
	if err != nil {
		t.Fatalf("get renamed header: %v", err)
	}
	if renamed.IsPseudo {
		t.Fatal("renamed header should no longer be pseudo")
	}
	if _, err := s.GetHeader(folderID, fakeUID); err == nil {
		t.Fatal("old fake-UID header should no longer exist")
	}

	movedOp, err := s.GetOfflineOpForKey(folderID, 500, false)
	if err != nil || movedOp == nil || movedOp.ID != op.ID {
		t.Fatalf("offline op should have moved to the new uid, got %+v, %v", movedOp, err)
	}
}

func TestGetNextFakeUIDStartsAtBaseThenIncrements(t *testing.T) {
	s, folderID := newTestStore(t)
	first, err := s.GetNextFakeUID(folderID)
	if err != nil {
		t.Fatalf("next fake uid: %v", err)
	}
	if first != FakeUIDBase {
		t.Fatalf("first fake uid = %d, want %d", first, FakeUIDBase)
	}

	s.CreateHeader(&Header{FolderID: folderID, UID: first, IsPseudo: true})
	second, err := s.GetNextFakeUID(folderID)
	if err != nil {
		t.Fatalf("next fake uid: %v", err)
	}
	if second != first+1 {
		t.Fatalf("second fake uid = %d, want %d", second, first+1)
	}
}

func TestListOfflineOpsSortsByPlaybackOrder(t *testing.T) {
	s, folderID := newTestStore(t)

	mustSave := func(uid uint32, ty offlineop.Type) {
		op, err := s.GetOfflineOpForKey(folderID, uid, true)
		if err != nil {
			t.Fatalf("get offline op: %v", err)
		}
		op.Types = ty
		if err := s.SaveOfflineOp(op); err != nil {
			t.Fatalf("save offline op: %v", err)
		}
	}

	// Saved out of playback order, deliberately.
	mustSave(3, offlineop.MsgCopy)
	mustSave(1, offlineop.DeleteAllMsgs)
	mustSave(2, offlineop.FlagsChanged)

	ops, err := s.ListOfflineOps(folderID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("want 3 ops, got %d", len(ops))
	}
	if ops[0].Types != offlineop.FlagsChanged || ops[1].Types != offlineop.MsgCopy || ops[2].Types != offlineop.DeleteAllMsgs {
		t.Fatalf("ops not sorted by playback order: %v, %v, %v", ops[0].Types, ops[1].Types, ops[2].Types)
	}
}

func TestRemoveOfflineOp(t *testing.T) {
	s, folderID := newTestStore(t)
	op, err := s.GetOfflineOpForKey(folderID, 1, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := s.RemoveOfflineOp(op.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err := s.ListAllOfflineOpIDs(folderID)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("want no offline ops after removal, got %v", ids)
	}
}
