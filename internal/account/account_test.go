package account

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mailcore/autosync/internal/database"
)

func newTestStore(t *testing.T) *Store {
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
	return NewStore(db)
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	a := &Account{ID: "acc1", Name: "Work", Email: "w@example.com", Enabled: true,
		BiffInterval: 15 * time.Minute, OfflineAgeDaysMax: 30, ShowDeletedMessages: true, DownloadModel: "parallel",
		LargeMessageThresholdBytes: 512 * 1024}
	if err := s.Create(a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get("acc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Work" || got.Email != "w@example.com" || !got.Enabled {
		t.Fatalf("got %+v, want matching fields", got)
	}
	if got.BiffInterval != 15*time.Minute {
		t.Fatalf("BiffInterval = %v, want 15m", got.BiffInterval)
	}
	if got.OfflineAgeDaysMax != 30 || !got.ShowDeletedMessages || got.DownloadModel != "parallel" {
		t.Fatalf("got %+v, want matching per-account knobs", got)
	}
	if got.LargeMessageThresholdBytes != 512*1024 {
		t.Fatalf("LargeMessageThresholdBytes = %d, want 512KiB", got.LargeMessageThresholdBytes)
	}
}

func TestListOrdersByName(t *testing.T) {
	s := newTestStore(t)
	s.Create(&Account{ID: "acc1", Name: "Zebra", Email: "z@example.com"})
	s.Create(&Account{ID: "acc2", Name: "Alpha", Email: "a@example.com"})

	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].Name != "Zebra" {
		t.Fatalf("want alphabetical order, got %v, %v", got[0].Name, got[1].Name)
	}
}

func TestUpdatePersistsChanges(t *testing.T) {
	s := newTestStore(t)
	a := &Account{ID: "acc1", Name: "Work", Email: "w@example.com", Enabled: true}
	s.Create(a)

	a.Enabled = false
	a.OfflineAgeDaysMax = 7
	if err := s.Update(a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get("acc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled || got.OfflineAgeDaysMax != 7 {
		t.Fatalf("update did not persist, got %+v", got)
	}
}

func TestGetMissingAccountErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("no-such-account"); err == nil {
		t.Fatal("want an error for a missing account")
	}
}
