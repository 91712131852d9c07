// Package autosync implements the IMAP auto-sync core: the global
// download/discovery/update queues, the per-folder state machine, and
// the idle/timer glue that drives them.
package autosync

import (
	"context"
	"sync"
	"time"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/bodystore"
	"github.com/mailcore/autosync/internal/config"
	"github.com/mailcore/autosync/internal/folder"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/protocol"
	"github.com/mailcore/autosync/internal/strategy"
	"github.com/rs/zerolog"
)

// discoveryBatchSize is how many headers ProcessExistingHeaders scans
// per timer tick.
const discoveryBatchSize = 100

// Manager owns the three global queues, the idle/pause state, and the
// periodic timer, and dispatches work to each folder's state machine.
// Every exported method posts a closure onto a single command channel
// and returns immediately; the closures run strictly in order on one
// goroutine, so no two folder transitions are ever interleaved with
// each other or with a timer tick or a URL completion.
type Manager struct {
	folderStore  *folder.Store
	msgStore     *message.Store
	accountStore *account.Store
	bodyStore    *bodystore.Store
	engine       protocol.Engine
	cfg          *config.Store
	folderStrat  strategy.Folder
	messageStrat func(accountID string) strategy.Message
	log          zerolog.Logger

	cmdCh  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timer        *timer
	idleDetector *IdleDetector

	states     map[string]*folderSyncState
	priorityQ  []string
	discoveryQ []string
	updateQ    []string

	// bodySemRelease holds the release func for a folder's body-store
	// write semaphore between downloadNextGroup's acquire and
	// onDownloadStopped's release.
	bodySemRelease map[string]func()

	paused           bool
	updateInProgress bool
	idle             bool

	listeners []Listener
}

// Config bundles a Manager's collaborators.
type Config struct {
	FolderStore  *folder.Store
	MessageStore *message.Store
	AccountStore *account.Store
	BodyStore    *bodystore.Store
	Engine       protocol.Engine
	ConfigStore  *config.Store
	FolderStrat  strategy.Folder
	// MessageStrat resolves the message strategy for an account,
	// since the offline-age cutoff is a per-account knob.
	MessageStrat func(accountID string) strategy.Message
}

// NewManager creates a Manager. Call Run to start its executor.
func NewManager(c Config) *Manager {
	return &Manager{
		folderStore:    c.FolderStore,
		msgStore:       c.MessageStore,
		accountStore:   c.AccountStore,
		bodyStore:      c.BodyStore,
		engine:         c.Engine,
		cfg:            c.ConfigStore,
		folderStrat:    c.FolderStrat,
		messageStrat:   c.MessageStrat,
		log:            logging.WithComponent("autosync-manager"),
		cmdCh:          make(chan func(), 256),
		states:         make(map[string]*folderSyncState),
		bodySemRelease: make(map[string]func()),
	}
}

// Run starts the executor goroutine and the idle detector's poll.
func (m *Manager) Run(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.ctx = ctx
	m.idleDetector = NewIdleDetector()
	m.idleDetector.Subscribe(m.handleIdleEvent, m.cfg.IdleTimeSec())
	m.idleDetector.Start()
	m.timer = newTimer(m.cfg.TimerInterval(), func() { m.enqueue(m.tick) })

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the executor and the idle detector.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.idleDetector != nil {
		m.idleDetector.Stop()
	}
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.cmdCh:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// enqueue posts fn to run on the executor. Safe to call from any
// goroutine, including from a protocol.Listener completion callback.
func (m *Manager) enqueue(fn func()) {
	select {
	case m.cmdCh <- fn:
	default:
		// Buffer full: hand the send to a new goroutine rather than
		// block or drop the work. fn still runs on the executor, but
		// may run after work enqueued later; this trades the ordering
		// guarantee for liveness only under sustained overload.
		go func() { m.cmdCh <- fn }()
	}
}

// execSync runs fn on the executor and waits for it to finish. Used by
// tests and by callers that need a synchronous read.
func (m *Manager) execSync(fn func()) {
	done := make(chan struct{})
	m.enqueue(func() {
		fn()
		close(done)
	})
	<-done
}

func (m *Manager) getOrCreateState(folderID string) *folderSyncState {
	s, ok := m.states[folderID]
	if !ok {
		s = newFolderSyncState(folderID)
		m.states[folderID] = s
	}
	return s
}

// --- Listener registry ---

func (m *Manager) AddListener(l Listener) {
	m.enqueue(func() { m.listeners = append(m.listeners, l) })
}

func (m *Manager) RemoveListener(l Listener) {
	m.enqueue(func() {
		for i, existing := range m.listeners {
			if existing == l {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	})
}

func (m *Manager) notify(fn func(Listener)) {
	for _, l := range m.listeners {
		fn(l)
	}
}

// --- Pause / Resume ---

func (m *Manager) Pause() {
	m.enqueue(func() {
		m.timer.Stop()
		m.paused = true
	})
}

func (m *Manager) Resume() {
	m.enqueue(func() {
		m.paused = false
		m.updateInProgress = false
		if len(m.discoveryQ) > 0 || len(m.updateQ) > 0 {
			m.timer.Start()
		}
	})
}

// --- Queue membership helpers ---

func contains(q []string, id string) bool {
	for _, x := range q {
		if x == id {
			return true
		}
	}
	return false
}

func removeFrom(q []string, id string) []string {
	for i, x := range q {
		if x == id {
			return append(q[:i], q[i+1:]...)
		}
	}
	return q
}

// insertByFolderPriority inserts folderID into PriorityQueue at the
// position the folder strategy ranks it, ahead of any lower-ranked
// entry already queued.
func (m *Manager) insertByFolderPriority(folderID string) {
	f, err := m.folderStore.Get(folderID)
	if err != nil || m.folderStrat == nil {
		m.priorityQ = append(m.priorityQ, folderID)
		return
	}
	for i, existingID := range m.priorityQ {
		existing, err := m.folderStore.Get(existingID)
		if err != nil {
			continue
		}
		if m.folderStrat.Compare(f, existing) == strategy.Lower {
			m.priorityQ = append(m.priorityQ, "")
			copy(m.priorityQ[i+1:], m.priorityQ[i:])
			m.priorityQ[i] = folderID
			return
		}
	}
	m.priorityQ = append(m.priorityQ, folderID)
}

func (m *Manager) addToQueue(kind QueueKind, folderID string, atHead bool) {
	var q *[]string
	switch kind {
	case PriorityQueue:
		q = &m.priorityQ
	case DiscoveryQueue:
		q = &m.discoveryQ
	case UpdateQueue:
		q = &m.updateQ
	}
	if contains(*q, folderID) {
		return
	}
	if kind == PriorityQueue {
		m.insertByFolderPriority(folderID)
	} else if atHead {
		*q = append([]string{folderID}, *q...)
	} else {
		*q = append(*q, folderID)
	}
	m.log.Debug().Str("folder", folderID).Int("queue", int(kind)).Int("queue_len", len(*q)).Msg("folder added into queue")
	m.notify(func(l Listener) { l.OnFolderAddedIntoQ(kind, folderID) })
	if (kind == DiscoveryQueue || kind == UpdateQueue) && m.timer != nil {
		m.timer.Start()
	}
}

func (m *Manager) removeFromQueue(kind QueueKind, folderID string) {
	switch kind {
	case PriorityQueue:
		if !contains(m.priorityQ, folderID) {
			return
		}
		m.priorityQ = removeFrom(m.priorityQ, folderID)
	case DiscoveryQueue:
		if !contains(m.discoveryQ, folderID) {
			return
		}
		m.discoveryQ = removeFrom(m.discoveryQ, folderID)
	case UpdateQueue:
		if !contains(m.updateQ, folderID) {
			return
		}
		m.updateQ = removeFrom(m.updateQ, folderID)
	}
	m.notify(func(l Listener) { l.OnFolderRemovedFromQ(kind, folderID) })
}

// --- Public operations ---

// NotifyFolderHasPendingMessages enqueues folder onto UpdateQueue
// (head for Sent/Archive, tail otherwise) and marks it UpdateNeeded.
// A no-op for Trash.
func (m *Manager) NotifyFolderHasPendingMessages(folderID string) {
	m.enqueue(func() {
		f, err := m.folderStore.Get(folderID)
		if err != nil {
			m.log.Warn().Err(err).Str("folder", folderID).Msg("pending-messages notify: folder lookup failed")
			return
		}
		if f.Flags.Has(folder.FlagTrash) {
			return
		}
		atHead := f.Flags.Has(folder.FlagSent) || f.Flags.Has(folder.FlagArchive)
		m.addToQueue(UpdateQueue, folderID, atHead)
		m.getOrCreateState(folderID).state = UpdateNeeded
	})
}

// NotifyDownloadQueueChanged marks folder ReadyToDownload, inserts it
// into PriorityQueue per the folder strategy, and — unless Chained
// mode already has a sibling downloading — immediately attempts a
// bounded first group when not idle.
func (m *Manager) NotifyDownloadQueueChanged(folderID string) {
	m.enqueue(func() {
		if m.paused {
			return
		}
		st := m.getOrCreateState(folderID)
		st.state = ReadyToDownload
		m.addToQueue(PriorityQueue, folderID, false)

		if m.downloadModel() == config.DownloadModelParallel || !m.siblingDownloading(folderID) {
			if !m.idle {
				m.downloadNextGroup(folderID, int64(m.cfg.GroupSize()))
			}
		}
	})
}

func (m *Manager) downloadModel() config.DownloadModel { return m.cfg.DownloadModel() }

func (m *Manager) siblingDownloading(folderID string) bool {
	f, err := m.folderStore.Get(folderID)
	if err != nil {
		return false
	}
	for id, st := range m.states {
		if id == folderID || st.state != DownloadInProgress {
			continue
		}
		other, err := m.folderStore.Get(id)
		if err != nil || other.AccountID != f.AccountID {
			continue
		}
		return true
	}
	return false
}

// --- Timer tick ---

func (m *Manager) tick() {
	if !m.idle && len(m.discoveryQ) == 0 && len(m.updateQ) == 0 {
		m.timer.Stop()
		return
	}

	if len(m.discoveryQ) > 0 {
		folderID := m.discoveryQ[0]
		left := m.runDiscoveryStep(folderID, discoveryBatchSize)
		if left == 0 {
			m.removeFromQueue(DiscoveryQueue, folderID)
		}
	}

	if len(m.updateQ) > 0 && !m.updateInProgress {
		folderID := m.updateQ[0]
		st := m.getOrCreateState(folderID)
		if st.state == CompletedIdle || st.state == UpdateNeeded {
			if err := m.issueUpdate(folderID); err != nil {
				m.removeFromQueue(UpdateQueue, folderID)
			}
		}
	}
}

func (m *Manager) runDiscoveryStep(folderID string, n int) int {
	st := m.getOrCreateState(folderID)
	if !st.existingHeadersLoaded {
		keys, err := m.msgStore.ListAllKeys(folderID)
		if err != nil {
			m.log.Warn().Err(err).Str("folder", folderID).Msg("discovery: list keys failed")
			return 0
		}
		st.beginExistingHeadersScan(keys)
	}

	batch, left := st.nextDiscoveryBatch(n)
	var strat strategy.Message
	var inserted bool
	for _, uid := range batch {
		h, err := m.msgStore.GetHeader(folderID, uid)
		if err != nil || h.IsOffline {
			continue
		}
		if strat == nil {
			strat = m.strategyFor(folderID)
		}
		if st.insertCandidate(h, strat) {
			inserted = true
		}
	}
	if inserted {
		m.NotifyDownloadQueueChanged(folderID)
	}

	m.notify(func(l Listener) { l.OnDiscoveryQProcessed(folderID, len(batch), left) })

	if left == 0 {
		st.lastSyncTime = time.Now()
	}
	return left
}

func (m *Manager) strategyFor(folderID string) strategy.Message {
	f, err := m.folderStore.Get(folderID)
	if err == nil && m.messageStrat != nil {
		return m.messageStrat(f.AccountID)
	}
	return &strategy.DefaultMessage{}
}

// --- Update path ---

// issueUpdate drives §4.3's "Update — UpdateFolder": a SELECT (no
// header fetch), not a bare STATUS, because UID-validity reconciliation
// happens inside SELECT completion (onUpdateStopped below compares the
// returned UIDValidity against the folder's persisted one).
func (m *Manager) issueUpdate(folderID string) error {
	f, err := m.folderStore.Get(folderID)
	if err != nil {
		return err
	}
	st := m.getOrCreateState(folderID)
	st.state = UpdateIssued
	m.updateInProgress = true

	l := &engineListener{m: m, onDone: func(code protocol.ExitCode, status *protocol.StatusResult) {
		m.onUpdateStopped(folderID, code, status)
	}}
	m.engine.SelectFolder(context.Background(), f.AccountID, f.URI, l)
	return nil
}

func (m *Manager) onUpdateStopped(folderID string, code protocol.ExitCode, status *protocol.StatusResult) {
	m.updateInProgress = false
	st := m.getOrCreateState(folderID)

	f, ferr := m.folderStore.Get(folderID)

	// The engine itself has no notion of a folder's previously-seen
	// UIDVALIDITY (that's local state), so the comparison lives here:
	// a SELECT that otherwise succeeded but reports a different
	// UIDVALIDITY than the one persisted on the folder is promoted to
	// the UidValidityChanged case.
	if code == protocol.OK && status != nil && ferr == nil &&
		f.UIDValidity != 0 && status.UIDValidity != 0 && status.UIDValidity != f.UIDValidity {
		code = protocol.UidValidityChanged
	}

	if code == protocol.UidValidityChanged {
		m.resetFolderForUidValidityChange(folderID)
		if ferr == nil && status != nil {
			f.UIDValidity = status.UIDValidity
			_ = m.folderStore.Update(f)
		}
		m.removeFromQueue(UpdateQueue, folderID)
		st.state = CompletedIdle
		return
	}
	if code != protocol.OK {
		m.removeFromQueue(UpdateQueue, folderID)
		st.state = CompletedIdle
		return
	}

	changed := status != nil && (status.Total != st.snapshot.total ||
		status.Recent != st.snapshot.recent || status.UIDNext != st.snapshot.uidNext)
	forcedRecovery := status != nil && !st.snapshot.taken && status.Total > 0
	if forcedRecovery {
		if keys, err := m.msgStore.ListAllKeys(folderID); err != nil || len(keys) > 0 {
			forcedRecovery = false
		}
	}

	if status != nil {
		st.snapshot = serverSnapshot{total: status.Total, recent: status.Recent, unseen: status.Unseen, uidNext: status.UIDNext, taken: true}
		if ferr == nil && f.UIDValidity != status.UIDValidity {
			f.UIDValidity = status.UIDValidity
			_ = m.folderStore.Update(f)
		}
	}

	if changed || forcedRecovery {
		m.removeFromQueue(UpdateQueue, folderID)
		st.lastUpdateTime = time.Now()
		m.addToQueue(DiscoveryQueue, folderID, false)
		return
	}

	m.removeFromQueue(UpdateQueue, folderID)
	st.lastUpdateTime = time.Now()
	st.state = CompletedIdle
}

func (m *Manager) resetFolderForUidValidityChange(folderID string) {
	st := m.getOrCreateState(folderID)
	st.resetDownloadQ()
	st.snapshot = serverSnapshot{}
	if m.bodyStore != nil {
		_ = m.bodyStore.DeleteFolder(folderID)
	}
	ids, err := m.msgStore.ListAllOfflineOpIDs(folderID)
	if err != nil {
		return
	}
	for _, id := range ids {
		_ = m.msgStore.RemoveOfflineOp(id)
	}
}

// ScheduleResyncAfterUidValidityChange resets a folder's local download
// state and drops its pending offline operations, then queues it for a
// fresh discovery pass. Exported so OfflinePlayback can reuse the same
// reset path when a UID-validity change surfaces mid-playback.
func (m *Manager) ScheduleResyncAfterUidValidityChange(folderID string) {
	m.enqueue(func() {
		m.resetFolderForUidValidityChange(folderID)
		st := m.getOrCreateState(folderID)
		st.state = CompletedIdle
		m.removeFromQueue(UpdateQueue, folderID)
		m.addToQueue(DiscoveryQueue, folderID, false)
	})
}

// --- Download path ---

func (m *Manager) downloadNextGroup(folderID string, sizeLimit int64) {
	st := m.getOrCreateState(folderID)
	if st.state == DownloadInProgress {
		return
	}

	headers := m.loadHeaders(folderID, st.downloadQueue[minInt(st.offset, len(st.downloadQueue)):])
	group := st.getNextGroup(sizeLimit, m.strategyFor(folderID), headers)
	if len(group) == 0 {
		m.removeFromQueue(PriorityQueue, folderID)
		st.state = CompletedIdle
		m.notify(func(l Listener) { l.OnDownloadCompleted(folderID) })
		return
	}

	f, err := m.folderStore.Get(folderID)
	if err != nil {
		return
	}

	st.state = DownloadInProgress
	m.log.Debug().Str("folder", folderID).Int("group", len(group)).Int("queue_len", st.totalMessageCount()).Msg("download group starting")
	m.notify(func(l Listener) { l.OnDownloadStarted(folderID, len(group), st.totalMessageCount()) })

	if m.bodyStore != nil {
		if _, held := m.bodySemRelease[folderID]; !held {
			m.bodySemRelease[folderID] = m.bodyStore.Acquire(folderID)
		}
	}

	l := &engineListener{m: m, folderID: folderID, onDone: func(code protocol.ExitCode, status *protocol.StatusResult) {
		m.onDownloadStopped(folderID, code)
	}}
	m.engine.FetchMessageBodies(context.Background(), f.AccountID, f.URI, group, l)
}

// releaseBodySemaphore releases folderID's body-store write semaphore
// if downloadNextGroup acquired one, on both the success and failure
// paths through onDownloadStopped.
func (m *Manager) releaseBodySemaphore(folderID string) {
	if release, ok := m.bodySemRelease[folderID]; ok {
		release()
		delete(m.bodySemRelease, folderID)
	}
}

func (m *Manager) loadHeaders(folderID string, uids []uint32) map[uint32]*message.Header {
	out := make(map[uint32]*message.Header, len(uids))
	for _, uid := range uids {
		if h, err := m.msgStore.GetHeader(folderID, uid); err == nil {
			out[uid] = h
		}
	}
	return out
}

func (m *Manager) onDownloadStopped(folderID string, code protocol.ExitCode) {
	st := m.getOrCreateState(folderID)
	m.releaseBodySemaphore(folderID)

	if code != protocol.OK {
		m.notify(func(l Listener) { l.OnDownloadError(folderID) })
		if st.rollback(m.cfg.GroupRetryCount()) {
			st.state = ReadyToDownload
			if !m.idle {
				m.downloadNextGroup(folderID, int64(m.cfg.GroupSize()))
			}
			return
		}
		// Retry budget exhausted: give up on this folder for this
		// idle cycle and, in Chained mode, let the next sibling run.
		st.state = ReadyToDownload
		if m.downloadModel() == config.DownloadModelChained {
			m.advanceToNextSibling(folderID)
		}
		return
	}

	st.resetRetryCounter()
	if st.isDownloadQEmpty() {
		m.removeFromQueue(PriorityQueue, folderID)
		st.state = CompletedIdle
		m.notify(func(l Listener) { l.OnDownloadCompleted(folderID) })
		return
	}

	st.state = ReadyToDownload
	if m.downloadModel() == config.DownloadModelParallel {
		if !m.idle {
			m.downloadNextGroup(folderID, int64(m.cfg.GroupSize()))
		}
		return
	}
	m.advanceToNextSibling(folderID)
}

// advanceToNextSibling hands the download turn to the highest-priority
// folder remaining in PriorityQueue sharing folderID's server.
func (m *Manager) advanceToNextSibling(folderID string) {
	f, err := m.folderStore.Get(folderID)
	if err != nil {
		return
	}
	for _, id := range m.priorityQ {
		if id == folderID {
			continue
		}
		other, err := m.folderStore.Get(id)
		if err != nil || other.AccountID != f.AccountID {
			continue
		}
		if !m.idle {
			m.downloadNextGroup(id, int64(m.cfg.GroupSize()))
		}
		return
	}
}

// --- Idle entry ---

func (m *Manager) handleIdleEvent(e IdleEvent) {
	m.enqueue(func() {
		switch e {
		case OsIdle, AppIdle:
			if !m.idle {
				m.idle = true
				m.startIdleProcessing()
			}
		case OsActive, AppActive:
			m.idle = false
			m.notify(func(l Listener) { l.OnStateChanged(false) })
		case GoingOffline:
			m.timer.Stop()
			m.paused = true
		case BackOnline:
			m.paused = false
			m.updateInProgress = false
			if len(m.discoveryQ) > 0 || len(m.updateQ) > 0 {
				m.timer.Start()
			}
		case Shutdown:
			for _, id := range append([]string(nil), m.priorityQ...) {
				m.removeFromQueue(PriorityQueue, id)
			}
		}
	})
}

func (m *Manager) startIdleProcessing() {
	if m.paused {
		return
	}
	m.notify(func(l Listener) { l.OnStateChanged(true) })

	effective := m.effectivePriorityQueue()
	for _, folderID := range effective {
		st := m.getOrCreateState(folderID)
		if st.state == ReadyToDownload {
			m.notify(func(l Listener) { l.OnAutoSyncInitiated(folderID) })
			m.downloadNextGroup(folderID, 1<<62)
		}
	}

	m.autoUpdateFolders()
	if err := m.ManageStorageSpace(m.ctx); err != nil {
		m.log.Warn().Err(err).Msg("manage storage space")
	}
}

// ManageStorageSpace is a deliberate no-op extension point reached once
// per idle pass. Storage-eviction policy (trimming locally-cached
// bodies when disk usage exceeds a budget) is not implemented; this
// just gives a future policy a single, already-wired call site instead
// of inventing one from scratch.
func (m *Manager) ManageStorageSpace(ctx context.Context) error {
	return nil
}

// effectivePriorityQueue compresses PriorityQueue to one folder per
// server in Chained mode — the highest-priority sibling wins, unless
// a lower-priority sibling is already DownloadInProgress, which must
// not be preempted.
func (m *Manager) effectivePriorityQueue() []string {
	if m.downloadModel() != config.DownloadModelChained {
		return append([]string(nil), m.priorityQ...)
	}

	bestByServer := make(map[string]string)
	for _, id := range m.priorityQ {
		f, err := m.folderStore.Get(id)
		if err != nil {
			continue
		}
		if st := m.states[id]; st != nil && st.state == DownloadInProgress {
			bestByServer[f.AccountID] = id
			continue
		}
		if _, ok := bestByServer[f.AccountID]; !ok {
			bestByServer[f.AccountID] = id
		}
	}

	out := make([]string, 0, len(bestByServer))
	for _, id := range m.priorityQ {
		for _, chosen := range bestByServer {
			if chosen == id {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// autoUpdateFolders walks every offline-enabled folder and enqueues it
// for update/discovery when its respective interval has elapsed.
func (m *Manager) autoUpdateFolders() {
	folders, err := m.folderStore.ListOfflineEnabled()
	if err != nil {
		m.log.Warn().Err(err).Msg("auto-update: list folders failed")
		return
	}

	checkAll := m.cfg.CheckAllFoldersForNew()
	now := time.Now()
	for _, f := range folders {
		if !checkAll && !f.Flags.Has(folder.FlagInbox) && !f.Flags.Has(folder.FlagCheckNew) {
			continue
		}

		st := m.getOrCreateState(f.ID)
		if st.state != CompletedIdle && st.state != UpdateNeeded && st.state != UpdateIssued {
			continue
		}

		if st.state == UpdateIssued && st.isDownloadQEmpty() {
			st.state = CompletedIdle
		}

		biffInterval := m.biffIntervalFor(f.AccountID)
		if now.Sub(st.lastUpdateTime) >= biffInterval {
			m.addToQueue(UpdateQueue, f.ID, false)
		}
		if now.Sub(st.lastSyncTime) >= m.cfg.AutoSyncFrequency() {
			m.addToQueue(DiscoveryQueue, f.ID, false)
		}
	}
}

func (m *Manager) biffIntervalFor(accountID string) time.Duration {
	a, err := m.accountStore.Get(accountID)
	if err != nil || a.BiffInterval <= 0 {
		return m.cfg.DefaultUpdateIntervalFor()
	}
	return a.BiffInterval
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// engineListener adapts one ProtocolEngine call's completion back onto
// the manager's executor, so OnStopRunningUrl handlers never run
// concurrently with anything else the manager does.
type engineListener struct {
	m        *Manager
	folderID string
	onDone   func(code protocol.ExitCode, status *protocol.StatusResult)
}

func (l *engineListener) OnStartRunningUrl(protocol.URL) {}

func (l *engineListener) OnStopRunningUrl(_ protocol.URL, code protocol.ExitCode, status *protocol.StatusResult) {
	l.m.enqueue(func() { l.onDone(code, status) })
}

// OnMessageBody persists one fetched body as it arrives, under the
// write semaphore downloadNextGroup already holds for this folder. It
// runs on the engine's own goroutine, never on the manager's executor,
// since it only touches durable storage, not in-memory queue state.
func (l *engineListener) OnMessageBody(_ protocol.URL, uid uint32, raw []byte) {
	if l.m.bodyStore == nil {
		return
	}
	if err := l.m.bodyStore.Put(l.folderID, uid, raw); err != nil {
		l.m.log.Error().Err(err).Str("folder", l.folderID).Uint32("uid", uid).Msg("persist message body")
		return
	}
	if err := l.m.msgStore.SetOffline(l.folderID, uid, true); err != nil {
		l.m.log.Error().Err(err).Str("folder", l.folderID).Uint32("uid", uid).Msg("mark header offline")
	}
}

var _ protocol.Listener = (*engineListener)(nil)
