// Package playback replays offline operations recorded while an
// account had no connectivity: flag changes, keyword edits, copies,
// moves, appended drafts and templates, and DELETE ALL requests.
// Runs once the client transitions online, or as a synchronous
// "pseudo-offline" pass right after an optimistic local move or copy.
package playback

import (
	"context"
	"strings"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/autosync"
	"github.com/mailcore/autosync/internal/bodystore"
	"github.com/mailcore/autosync/internal/folder"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/offlineop"
	"github.com/mailcore/autosync/internal/protocol"
	"github.com/rs/zerolog"
)

// retryLimit bounds how many times a transient-network failure on a
// COPY/MOVE is retried before playback gives up on the rest of that
// server's folders for this pass.
const retryLimit = 3

// Playback replays the offline operation log against a ProtocolEngine,
// one server at a time, one folder at a time.
type Playback struct {
	folderStore  *folder.Store
	msgStore     *message.Store
	accountStore *account.Store
	bodyStore    *bodystore.Store
	engine       protocol.Engine
	resync       *autosync.Manager
	log          zerolog.Logger
}

// Config bundles a Playback's collaborators.
type Config struct {
	FolderStore  *folder.Store
	MessageStore *message.Store
	AccountStore *account.Store
	BodyStore    *bodystore.Store
	Engine       protocol.Engine
	// Resync is notified when a UID-validity change surfaces mid
	// playback, so the affected folder gets a fresh discovery pass.
	Resync *autosync.Manager
}

// New creates a Playback.
func New(c Config) *Playback {
	return &Playback{
		folderStore:  c.FolderStore,
		msgStore:     c.MessageStore,
		accountStore: c.AccountStore,
		bodyStore:    c.BodyStore,
		engine:       c.Engine,
		resync:       c.Resync,
		log:          logging.WithComponent("offline-playback"),
	}
}

// Run replays every pending offline operation across every account,
// blocking the calling goroutine until the whole pass finishes. A
// transient-network failure aborts the rest of that account's pass,
// leaving its remaining operations queued; other failures drop the
// failed operations and playback continues.
func (p *Playback) Run(ctx context.Context) error {
	accounts, err := p.accountStore.List()
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		p.runAccount(ctx, acc)
	}
	return nil
}

func (p *Playback) runAccount(ctx context.Context, acc *account.Account) {
	folders, err := p.folderStore.ListByAccount(acc.ID)
	if err != nil {
		p.log.Error().Err(err).Str("account", acc.ID).Msg("list folders for playback")
		return
	}

	// Offline-created folders must exist on the server before any
	// operation targeting a message inside them can run.
	for _, f := range folders {
		if f.Flags.Has(folder.FlagCreatedOffline) {
			p.createFolder(ctx, f)
		}
	}

	for _, f := range folders {
		if !f.Flags.Has(folder.FlagHasOfflineEvents) {
			continue
		}
		if aborted := p.playFolder(ctx, f); aborted {
			p.log.Warn().Str("account", acc.ID).Str("folder", f.ID).Msg("playback aborted for account, remaining operations persist")
			return
		}
		f.Flags &^= folder.FlagHasOfflineEvents
		_ = p.folderStore.Update(f)
	}
}

func (p *Playback) createFolder(ctx context.Context, f *folder.Folder) {
	parentURI := ""
	if f.ParentID != "" {
		if parent, err := p.folderStore.Get(f.ParentID); err == nil {
			parentURI = parent.URI
		}
	}
	code, _ := dispatch(func(l protocol.Listener) protocol.URL {
		return p.engine.CreateFolder(ctx, f.AccountID, parentURI, f.OnlineName, l)
	})
	if code == protocol.OK {
		f.Flags &^= folder.FlagCreatedOffline
		_ = p.folderStore.Update(f)
	}
}

// playFolder replays one folder's pending operations, grouped by type
// and coalesce key. Returns true if a group ended in a transient-network
// failure, which aborts the rest of this account's playback.
func (p *Playback) playFolder(ctx context.Context, f *folder.Folder) bool {
	ops, err := p.msgStore.ListOfflineOps(f.ID)
	if err != nil {
		p.log.Error().Err(err).Str("folder", f.ID).Msg("list offline operations")
		return false
	}

	for _, group := range groupOps(ops) {
		code := p.playGroup(ctx, f, group.primaryType, group.ops)
		switch code {
		case protocol.OK:
			for _, o := range group.ops {
				_ = p.msgStore.RemoveOfflineOp(o.ID)
			}
		case protocol.UidValidityChanged:
			for _, id := range mustListIDs(p.msgStore, f.ID) {
				_ = p.msgStore.RemoveOfflineOp(id)
			}
			if p.resync != nil {
				p.resync.ScheduleResyncAfterUidValidityChange(f.ID)
			}
			return false
		case protocol.TransientNetwork:
			return true
		default:
			// ProtocolFailure, Fatal, UserCancelled: lossy but safe —
			// drop the op and let the next SELECT reveal any drift.
			for _, o := range group.ops {
				_ = p.msgStore.RemoveOfflineOp(o.ID)
			}
		}
	}
	return false
}

func mustListIDs(s *message.Store, folderID string) []string {
	ids, err := s.ListAllOfflineOpIDs(folderID)
	if err != nil {
		return nil
	}
	return ids
}

// opGroup is a run of consecutive operations sharing a primary type
// and a coalesce key, destined for a single IMAP round trip.
type opGroup struct {
	primaryType offlineop.Type
	ops         []*offlineop.Operation
}

func primaryType(o *offlineop.Operation) offlineop.Type {
	for _, t := range offlineop.PlaybackOrder() {
		if o.Types.Has(t) {
			return t
		}
	}
	return 0
}

// groupOps splits operations (already sorted by playback order) into
// coalesced runs. ListOfflineOps's ordering guarantees same-type
// operations are contiguous; this only needs to split on a changed
// coalesce key within a run.
func groupOps(ops []*offlineop.Operation) []opGroup {
	var groups []opGroup
	for _, o := range ops {
		t := primaryType(o)
		key := o.CoalesceKey(t)
		if n := len(groups); n > 0 && groups[n-1].primaryType == t && groups[n-1].ops[0].CoalesceKey(t) == key {
			groups[n-1].ops = append(groups[n-1].ops, o)
			continue
		}
		groups = append(groups, opGroup{primaryType: t, ops: []*offlineop.Operation{o}})
	}
	return groups
}

func uids(ops []*offlineop.Operation) []uint32 {
	out := make([]uint32, len(ops))
	for i, o := range ops {
		out[i] = o.UID
	}
	return out
}

func (p *Playback) playGroup(ctx context.Context, f *folder.Folder, t offlineop.Type, ops []*offlineop.Operation) protocol.ExitCode {
	switch t {
	case offlineop.FlagsChanged:
		return p.playFlagsChanged(ctx, f, ops)
	case offlineop.AddKeywords:
		return p.playKeywords(ctx, f, ops, protocol.Add, func(o *offlineop.Operation) string { return o.KeywordsAdd })
	case offlineop.RemoveKeywords:
		return p.playKeywords(ctx, f, ops, protocol.Subtract, func(o *offlineop.Operation) string { return o.KeywordsRemove })
	case offlineop.MsgCopy:
		return p.playCopyOrMove(ctx, f, ops, false)
	case offlineop.MsgMoved:
		return p.playCopyOrMove(ctx, f, ops, true)
	case offlineop.AppendDraft, offlineop.AppendTemplate:
		return p.playAppend(ctx, f, ops)
	case offlineop.DeleteAllMsgs:
		return p.playDeleteAll(ctx, f)
	default:
		return protocol.OK
	}
}

// playFlagsChanged may need two STORE round trips per group, since a
// single record's FlagBits/FlagMask can both set and clear bits within
// one mask and ProtocolEngine's StoreFlags takes one StoreAction.
func (p *Playback) playFlagsChanged(ctx context.Context, f *folder.Folder, ops []*offlineop.Operation) protocol.ExitCode {
	var setBits, clearBits uint32
	for _, o := range ops {
		setBits |= o.FlagBits & o.FlagMask
		clearBits |= o.FlagMask &^ o.FlagBits
	}
	u := uids(ops)

	if setBits != 0 {
		if code, _ := p.storeFlagsRetrying(ctx, f, u, protocol.Add, setBits); code != protocol.OK {
			return code
		}
	}
	if clearBits != 0 {
		if code, _ := p.storeFlagsRetrying(ctx, f, u, protocol.Subtract, clearBits); code != protocol.OK {
			return code
		}
	}
	return protocol.OK
}

func (p *Playback) storeFlagsRetrying(ctx context.Context, f *folder.Folder, u []uint32, action protocol.StoreAction, mask uint32) (protocol.ExitCode, *protocol.StatusResult) {
	return dispatch(func(l protocol.Listener) protocol.URL {
		return p.engine.StoreFlags(ctx, f.AccountID, f.URI, u, action, mask, l)
	})
}

func (p *Playback) playKeywords(ctx context.Context, f *folder.Folder, ops []*offlineop.Operation, action protocol.StoreAction, field func(*offlineop.Operation) string) protocol.ExitCode {
	words := field(ops[0])
	if words == "" {
		return protocol.OK
	}
	code, _ := dispatch(func(l protocol.Listener) protocol.URL {
		return p.engine.StoreKeywords(ctx, f.AccountID, f.URI, uids(ops), action, strings.Fields(words), l)
	})
	return code
}

func (p *Playback) playCopyOrMove(ctx context.Context, f *folder.Folder, ops []*offlineop.Operation, isMove bool) protocol.ExitCode {
	destID := ops[0].DestFolderID
	dest, err := p.folderStore.Get(destID)
	if err != nil {
		return protocol.Fatal
	}

	if dest.AccountID == f.AccountID {
		return p.playSameServerCopyOrMove(ctx, f, dest, ops, isMove)
	}
	return p.playCrossServerCopyOrMove(ctx, f, dest, ops, isMove)
}

func (p *Playback) playSameServerCopyOrMove(ctx context.Context, f, dest *folder.Folder, ops []*offlineop.Operation, isMove bool) protocol.ExitCode {
	var code protocol.ExitCode
	var status *protocol.StatusResult
	for attempt := 0; attempt <= retryLimit; attempt++ {
		code, status = dispatch(func(l protocol.Listener) protocol.URL {
			return p.engine.CopyMessages(ctx, f.AccountID, f.URI, uids(ops), dest.URI, isMove, l)
		})
		if code != protocol.TransientNetwork {
			break
		}
	}
	if code != protocol.OK {
		return code
	}
	p.renamePseudoHeaders(dest.ID, ops, status)
	return protocol.OK
}

// playCrossServerCopyOrMove streams each message's locally-stored body
// to the destination account one at a time, since APPEND has no
// multi-message form. A move deletes from the source only once its
// append has succeeded.
func (p *Playback) playCrossServerCopyOrMove(ctx context.Context, f, dest *folder.Folder, ops []*offlineop.Operation, isMove bool) protocol.ExitCode {
	var movedUIDs []uint32
	for _, o := range ops {
		raw, err := p.bodyStore.Get(f.ID, o.UID)
		if err != nil || raw == nil {
			continue
		}
		code, status := dispatch(func(l protocol.Listener) protocol.URL {
			return p.engine.AppendMessage(ctx, dest.AccountID, dest.URI, raw, l)
		})
		if code == protocol.TransientNetwork {
			return code
		}
		if code != protocol.OK {
			continue
		}
		p.renamePseudoHeaders(dest.ID, []*offlineop.Operation{o}, status)
		if isMove {
			movedUIDs = append(movedUIDs, o.UID)
		}
	}
	if isMove && len(movedUIDs) > 0 {
		code, _ := dispatch(func(l protocol.Listener) protocol.URL {
			return p.engine.StoreFlags(ctx, f.AccountID, f.URI, movedUIDs, protocol.Add, uint32(message.FlagDeleted), l)
		})
		if code != protocol.OK {
			return code
		}
	}
	return protocol.OK
}

// renamePseudoHeaders matches the fake-UID header playback created
// optimistically at the destination to the real UID the server just
// assigned, by message-id (case-sensitive, angle brackets stripped).
// The operation record only ties the fake UID's folder, not its exact
// key, to the move/copy/append — so the match has to scan every
// pending pseudo header in that folder for the one whose message-id
// matches the message that was just sent to the server.
func (p *Playback) renamePseudoHeaders(destFolderID string, ops []*offlineop.Operation, status *protocol.StatusResult) {
	if status == nil || status.AssignedUID == 0 {
		return
	}
	pending, err := p.msgStore.ListPseudoHeaders(destFolderID)
	if err != nil || len(pending) == 0 {
		return
	}
	for _, o := range ops {
		h, err := p.msgStore.GetHeader(o.FolderID, o.UID)
		if err != nil || h == nil {
			continue
		}
		hid := trimMessageID(h.MessageID)
		if hid == "" {
			continue
		}
		for _, ph := range pending {
			phid := trimMessageID(ph.MessageID)
			if phid == "" || phid != hid {
				continue
			}
			_ = p.msgStore.RenameKey(destFolderID, ph.UID, status.AssignedUID)
			break
		}
	}
}

func trimMessageID(id string) string {
	return strings.Trim(id, "<>")
}

func (p *Playback) playAppend(ctx context.Context, f *folder.Folder, ops []*offlineop.Operation) protocol.ExitCode {
	for _, o := range ops {
		raw, err := p.bodyStore.Get(f.ID, o.UID)
		if err != nil || raw == nil {
			continue
		}
		code, status := dispatch(func(l protocol.Listener) protocol.URL {
			return p.engine.AppendMessage(ctx, f.AccountID, f.URI, raw, l)
		})
		if code == protocol.TransientNetwork {
			return code
		}
		if code != protocol.OK {
			continue
		}
		p.renamePseudoHeaders(f.ID, []*offlineop.Operation{o}, status)
	}
	return protocol.OK
}

func (p *Playback) playDeleteAll(ctx context.Context, f *folder.Folder) protocol.ExitCode {
	code, _ := dispatch(func(l protocol.Listener) protocol.URL {
		return p.engine.DeleteAllMessages(ctx, f.AccountID, f.URI, l)
	})
	return code
}

// syncListener bridges ProtocolEngine's async completion back onto the
// calling goroutine, since playback must run one operation group at a
// time per folder (no two URLs from one folder are ever in flight
// together).
type syncListener struct {
	done chan syncResult
}

type syncResult struct {
	code   protocol.ExitCode
	status *protocol.StatusResult
}

func (l *syncListener) OnStartRunningUrl(protocol.URL) {}

func (l *syncListener) OnStopRunningUrl(_ protocol.URL, code protocol.ExitCode, status *protocol.StatusResult) {
	l.done <- syncResult{code: code, status: status}
}

func (l *syncListener) OnMessageBody(protocol.URL, uint32, []byte) {}

var _ protocol.Listener = (*syncListener)(nil)

func dispatch(fn func(l protocol.Listener) protocol.URL) (protocol.ExitCode, *protocol.StatusResult) {
	l := &syncListener{done: make(chan syncResult, 1)}
	fn(l)
	r := <-l.done
	return r.code, r.status
}
