package autosync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/config"
	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/folder"
	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/protocol"
)

// fakeEngine answers every ProtocolEngine call synchronously (on the
// calling goroutine) with a canned exit code, mimicking an IMAP server
// that always succeeds or always fails in a specific way.
type fakeEngine struct {
	protocol.Engine
	code       protocol.ExitCode
	status     *protocol.StatusResult
	fetchCalls [][]uint32
}

func (e *fakeEngine) SelectFolder(ctx context.Context, accountID, uri string, l protocol.Listener) protocol.URL {
	u := protocol.URL{ID: 1, Kind: "select"}
	l.OnStopRunningUrl(u, e.code, e.status)
	return u
}

func (e *fakeEngine) UpdateFolderStatus(ctx context.Context, accountID, uri string, l protocol.Listener) protocol.URL {
	u := protocol.URL{ID: 2, Kind: "status"}
	l.OnStopRunningUrl(u, e.code, e.status)
	return u
}

func (e *fakeEngine) FetchMessageBodies(ctx context.Context, accountID, uri string, uids []uint32, l protocol.Listener) protocol.URL {
	e.fetchCalls = append(e.fetchCalls, uids)
	u := protocol.URL{ID: 3, Kind: "fetch"}
	l.OnStopRunningUrl(u, e.code, nil)
	return u
}

type testEnv struct {
	mgr      *Manager
	folders  *folder.Store
	msgs     *message.Store
	accounts *account.Store
	cfg      *config.Store
	engine   *fakeEngine
}

func newTestEnv(t *testing.T) *testEnv {
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
	folders := folder.NewStore(db)
	msgs := message.NewStore(db)
	cfg := config.NewStore(db)

	acc := &account.Account{ID: "acc1", Name: "Test", Email: "t@example.com", Enabled: true}
	if err := accounts.Create(acc); err != nil {
		t.Fatalf("create account: %v", err)
	}

	f := &folder.Folder{ID: "f1", AccountID: "acc1", URI: "INBOX", OnlineName: "Inbox", HierDelim: "/", Flags: folder.FlagInbox | folder.FlagOfflineEnabled}
	if err := folders.Create(f); err != nil {
		t.Fatalf("create folder: %v", err)
	}

	eng := &fakeEngine{code: protocol.OK}
	mgr := NewManager(Config{
		FolderStore:  folders,
		MessageStore: msgs,
		AccountStore: accounts,
		Engine:       eng,
		ConfigStore:  cfg,
	})
	return &testEnv{mgr: mgr, folders: folders, msgs: msgs, accounts: accounts, cfg: cfg, engine: eng}
}

func TestNotifyFolderHasPendingMessages_QueuesUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	env.mgr.NotifyFolderHasPendingMessages("f1")

	env.mgr.execSync(func() {
		if !contains(env.mgr.updateQ, "f1") {
			t.Fatal("folder should be queued for update")
		}
		if env.mgr.getOrCreateState("f1").state != UpdateNeeded {
			t.Fatal("folder state should be UpdateNeeded")
		}
	})
}

func TestNotifyFolderHasPendingMessages_SkipsTrash(t *testing.T) {
	env := newTestEnv(t)
	trash := &folder.Folder{ID: "trash1", AccountID: "acc1", URI: "Trash", OnlineName: "Trash", HierDelim: "/", Flags: folder.FlagTrash | folder.FlagOfflineEnabled}
	if err := env.folders.Create(trash); err != nil {
		t.Fatalf("create trash folder: %v", err)
	}

	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	env.mgr.NotifyFolderHasPendingMessages("trash1")

	env.mgr.execSync(func() {
		if contains(env.mgr.updateQ, "trash1") {
			t.Fatal("trash should never be queued for update")
		}
	})
}

func TestNotifyDownloadQueueChanged_DownloadsAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	h := &message.Header{FolderID: "f1", UID: 1, Size: 100}
	if err := env.msgs.CreateHeader(h); err != nil {
		t.Fatalf("create header: %v", err)
	}

	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	var downloadCompleted bool
	env.mgr.AddListener(&fnListener{
		onDownloadCompleted: func(folderID string) { downloadCompleted = true },
	})

	env.mgr.execSync(func() {
		st := env.mgr.getOrCreateState("f1")
		st.insertCandidate(h, env.mgr.strategyFor("f1"))
	})
	env.mgr.NotifyDownloadQueueChanged("f1")

	deadline := time.After(2 * time.Second)
	for {
		done := make(chan bool)
		env.mgr.execSync(func() { done <- downloadCompleted })
		if <-done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for download to complete")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if len(env.engine.fetchCalls) == 0 {
		t.Fatal("expected at least one FetchMessageBodies call")
	}
}

func TestNotifyDownloadQueueChanged_RespectsPause(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	env.mgr.Pause()
	env.mgr.NotifyDownloadQueueChanged("f1")

	env.mgr.execSync(func() {
		if contains(env.mgr.priorityQ, "f1") {
			t.Fatal("paused manager should not enqueue downloads")
		}
	})
}

func TestOnUpdateStopped_UidValidityChangedResetsState(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	env.mgr.execSync(func() {
		env.mgr.addToQueue(UpdateQueue, "f1", false)
		env.mgr.onUpdateStopped("f1", protocol.UidValidityChanged, nil)
		if contains(env.mgr.updateQ, "f1") {
			t.Fatal("folder should be removed from UpdateQueue after a uid-validity reset")
		}
		if env.mgr.getOrCreateState("f1").state != CompletedIdle {
			t.Fatal("folder should return to CompletedIdle after a uid-validity reset")
		}
	})
}

func TestOnUpdateStopped_ChangedCountsQueueDiscovery(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	status := &protocol.StatusResult{Total: 5, UIDNext: 10}
	env.mgr.execSync(func() {
		env.mgr.addToQueue(UpdateQueue, "f1", false)
		env.mgr.onUpdateStopped("f1", protocol.OK, status)
		if !contains(env.mgr.discoveryQ, "f1") {
			t.Fatal("a changed STATUS should queue the folder for discovery")
		}
	})
}

func TestOnUpdateStopped_DetectsUidValidityChangeFromSelect(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	f, err := env.folders.Get("f1")
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	f.UIDValidity = 7
	if err := env.folders.Update(f); err != nil {
		t.Fatalf("update folder: %v", err)
	}

	status := &protocol.StatusResult{UIDValidity: 8, Total: 5, UIDNext: 10}
	env.mgr.execSync(func() {
		env.mgr.addToQueue(UpdateQueue, "f1", false)
		env.mgr.onUpdateStopped("f1", protocol.OK, status)
		if contains(env.mgr.updateQ, "f1") {
			t.Fatal("folder should be removed from UpdateQueue after a detected uid-validity change")
		}
		if env.mgr.getOrCreateState("f1").state != CompletedIdle {
			t.Fatal("folder should return to CompletedIdle after a detected uid-validity change")
		}
	})

	got, err := env.folders.Get("f1")
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if got.UIDValidity != 8 {
		t.Fatalf("UIDValidity = %d, want the new server value 8", got.UIDValidity)
	}
}

func TestPauseResume_TimerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.Run(context.Background())
	defer env.mgr.Stop()

	env.mgr.execSync(func() { env.mgr.addToQueue(DiscoveryQueue, "f1", false) })
	env.mgr.Pause()
	env.mgr.execSync(func() {
		if !env.mgr.paused {
			t.Fatal("Pause should set paused")
		}
	})
	env.mgr.Resume()
	env.mgr.execSync(func() {
		if env.mgr.paused {
			t.Fatal("Resume should clear paused")
		}
	})
}

// fnListener implements Listener via optional callback fields, letting
// tests observe exactly one event without a full fake.
type fnListener struct {
	NopListener
	onDownloadCompleted func(folderID string)
}

func (l *fnListener) OnDownloadCompleted(folderID string) {
	if l.onDownloadCompleted != nil {
		l.onDownloadCompleted(folderID)
	}
}
