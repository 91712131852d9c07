package bodystore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/folder"
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

func TestPutThenGetRoundTrips(t *testing.T) {
	s, folderID := newTestStore(t)
	want := []byte("From: a@b.com\r\n\r\nhello")
	if err := s.Put(folderID, 1, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(folderID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	s, folderID := newTestStore(t)
	got, err := s.Get(folderID, 404)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil for a missing body, got %v", got)
	}
}

func TestPutOverwritesPriorCopy(t *testing.T) {
	s, folderID := newTestStore(t)
	if err := s.Put(folderID, 1, []byte("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(folderID, 1, []byte("second")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(folderID, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want the overwritten body", got)
	}
}

func TestDeleteRemovesOneBody(t *testing.T) {
	s, folderID := newTestStore(t)
	s.Put(folderID, 1, []byte("a"))
	s.Put(folderID, 2, []byte("b"))
	if err := s.Delete(folderID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.Get(folderID, 1); got != nil {
		t.Fatal("deleted body should be gone")
	}
	if got, _ := s.Get(folderID, 2); got == nil {
		t.Fatal("untouched body should survive")
	}
}

func TestDeleteFolderRemovesEveryBody(t *testing.T) {
	s, folderID := newTestStore(t)
	s.Put(folderID, 1, []byte("a"))
	s.Put(folderID, 2, []byte("b"))
	if err := s.DeleteFolder(folderID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if got, _ := s.Get(folderID, 1); got != nil {
		t.Fatal("body 1 should be gone")
	}
	if got, _ := s.Get(folderID, 2); got != nil {
		t.Fatal("body 2 should be gone")
	}
}

func TestAcquireSerializesWritersPerFolder(t *testing.T) {
	s, folderID := newTestStore(t)
	release := s.Acquire(folderID)

	done := make(chan struct{})
	go func() {
		release2 := s.Acquire(folderID)
		release2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Acquire should block while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-done
}

func TestAcquireDoesNotSerializeAcrossFolders(t *testing.T) {
	s, _ := newTestStore(t)
	release := s.Acquire("f1")
	defer release()

	done := make(chan struct{})
	go func() {
		release2 := s.Acquire("f2")
		release2()
		close(done)
	}()
	<-done
}
