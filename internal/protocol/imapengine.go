package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/rs/zerolog"
)

// Credentials is everything ClientEngine needs to open one connection.
type Credentials struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

// CredentialsFunc resolves an account ID to its current connection
// credentials. The core never sees or stores a password itself.
type CredentialsFunc func(accountID string) (Credentials, error)

// ClientEngine is the go-imap/v2-backed Engine implementation. It keeps
// one pooled connection per account, reused across calls the way the
// connection pool it's grounded on does, and dispatches every call on
// its own goroutine so Engine methods never block the caller.
type ClientEngine struct {
	getCreds CredentialsFunc
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*imapclient.Client

	nextURLID atomic.Uint64
}

// NewClientEngine creates an Engine backed by real IMAP connections.
func NewClientEngine(getCreds CredentialsFunc) *ClientEngine {
	return &ClientEngine{
		getCreds: getCreds,
		log:      logging.WithComponent("protocol-imap"),
		conns:    make(map[string]*imapclient.Client),
	}
}

func (e *ClientEngine) newURL(kind string) URL {
	return URL{ID: e.nextURLID.Add(1), Kind: kind}
}

// connection returns the pooled client for an account, dialing and
// logging in if none exists yet.
func (e *ClientEngine) connection(accountID string) (*imapclient.Client, error) {
	e.mu.Lock()
	if c, ok := e.conns[accountID]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	creds, err := e.getCreds(accountID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", accountID, err)
	}

	addr := fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	var c *imapclient.Client
	if creds.UseTLS {
		c, err = imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: &tls.Config{ServerName: creds.Host}})
	} else {
		c, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	saslClient := sasl.NewPlainClient("", creds.Username, creds.Password)
	if err := c.Authenticate(saslClient); err != nil {
		c.Close()
		return nil, fmt.Errorf("authenticate %s: %w", accountID, err)
	}

	e.mu.Lock()
	e.conns[accountID] = c
	e.mu.Unlock()
	return c, nil
}

// discard drops a connection known to be dead so the next call to
// connection() dials fresh, matching the pool's Discard contract.
func (e *ClientEngine) discard(accountID string) {
	e.mu.Lock()
	c, ok := e.conns[accountID]
	delete(e.conns, accountID)
	e.mu.Unlock()
	if ok {
		c.Close()
	}
}

func classifyErr(err error) ExitCode {
	if err == nil {
		return OK
	}
	s := err.Error()
	for _, netErr := range []string{"use of closed network connection", "connection reset", "broken pipe", "EOF", "i/o timeout", "connection refused", "no such host", "network is unreachable"} {
		if strings.Contains(s, netErr) {
			return TransientNetwork
		}
	}
	return ProtocolFailure
}

func (e *ClientEngine) run(accountID, kind string, l Listener, fn func(c *imapclient.Client) (*StatusResult, error)) URL {
	u := e.newURL(kind)
	l.OnStartRunningUrl(u)

	go func() {
		c, err := e.connection(accountID)
		if err != nil {
			l.OnStopRunningUrl(u, TransientNetwork, nil)
			return
		}

		status, err := fn(c)
		code := classifyErr(err)
		if code == TransientNetwork {
			e.discard(accountID)
		}
		l.OnStopRunningUrl(u, code, status)
	}()

	return u
}

func (e *ClientEngine) SelectFolder(ctx context.Context, accountID, folderURI string, l Listener) URL {
	return e.run(accountID, "select", l, func(c *imapclient.Client) (*StatusResult, error) {
		sel, err := c.Select(folderURI, nil).Wait()
		if err != nil {
			return nil, err
		}
		return &StatusResult{
			UIDValidity: sel.UIDValidity,
			UIDNext:     uint32(sel.UIDNext),
			Total:       int(sel.NumMessages),
		}, nil
	})
}

func (e *ClientEngine) UpdateFolderStatus(ctx context.Context, accountID, folderURI string, l Listener) URL {
	return e.run(accountID, "status", l, func(c *imapclient.Client) (*StatusResult, error) {
		opts := &imapv2.StatusOptions{
			NumMessages: true,
			NumRecent:   true,
			NumUnseen:   true,
			UIDNext:     true,
			UIDValidity: true,
		}
		data, err := c.Status(folderURI, opts).Wait()
		if err != nil {
			return nil, err
		}
		sr := &StatusResult{}
		if data.UIDValidity != nil {
			sr.UIDValidity = *data.UIDValidity
		}
		if data.UIDNext != nil {
			sr.UIDNext = uint32(*data.UIDNext)
		}
		if data.NumMessages != nil {
			sr.Total = int(*data.NumMessages)
		}
		if data.NumRecent != nil {
			sr.Recent = int(*data.NumRecent)
		}
		if data.NumUnseen != nil {
			sr.Unseen = int(*data.NumUnseen)
		}
		return sr, nil
	})
}

// maxMessageSize bounds a single fetched body to guard against memory
// exhaustion from a server reporting a bogus literal size.
const maxMessageSize = 50 * 1024 * 1024

func (e *ClientEngine) FetchMessageBodies(ctx context.Context, accountID, folderURI string, uids []uint32, l Listener) URL {
	u := e.newURL("fetch-bodies")
	l.OnStartRunningUrl(u)

	go func() {
		c, err := e.connection(accountID)
		if err != nil {
			l.OnStopRunningUrl(u, TransientNetwork, nil)
			return
		}

		if _, err := c.Select(folderURI, nil).Wait(); err != nil {
			code := classifyErr(err)
			if code == TransientNetwork {
				e.discard(accountID)
			}
			l.OnStopRunningUrl(u, code, nil)
			return
		}

		fetchOpts := &imapv2.FetchOptions{BodySection: []*imapv2.FetchItemBodySection{{}}, UID: true}
		fc := c.Fetch(uidSet(uids), fetchOpts)
		for {
			if ctx.Err() != nil {
				fc.Close()
				l.OnStopRunningUrl(u, UserCancelled, nil)
				return
			}
			msg := fc.Next()
			if msg == nil {
				break
			}

			var fetchedUID imapv2.UID
			var rawBytes []byte
			for {
				item := msg.Next()
				if item == nil {
					break
				}
				switch data := item.(type) {
				case imapclient.FetchItemDataUID:
					fetchedUID = data.UID
				case imapclient.FetchItemDataBodySection:
					if data.Literal != nil {
						lr := io.LimitReader(data.Literal, maxMessageSize)
						rawBytes, _ = io.ReadAll(lr)
					}
				}
			}
			if fetchedUID != 0 && rawBytes != nil {
				l.OnMessageBody(u, uint32(fetchedUID), rawBytes)
			}
		}

		err = fc.Close()
		code := classifyErr(err)
		if code == TransientNetwork {
			e.discard(accountID)
		}
		l.OnStopRunningUrl(u, code, nil)
	}()

	return u
}

func (e *ClientEngine) StoreFlags(ctx context.Context, accountID, folderURI string, uids []uint32, action StoreAction, flagMask uint32, l Listener) URL {
	return e.run(accountID, "store-flags", l, func(c *imapclient.Client) (*StatusResult, error) {
		if _, err := c.Select(folderURI, nil).Wait(); err != nil {
			return nil, err
		}
		flags := flagsFromMask(flagMask)
		storeOp := imapv2.StoreFlagsSet
		if action == Subtract {
			storeOp = imapv2.StoreFlagsDel
		} else if action == Add {
			storeOp = imapv2.StoreFlagsAdd
		}
		sc := c.Store(uidSet(uids), &imapv2.StoreFlags{Op: storeOp, Flags: flags, Silent: true}, nil)
		for sc.Next() != nil {
		}
		return nil, sc.Close()
	})
}

func (e *ClientEngine) StoreKeywords(ctx context.Context, accountID, folderURI string, uids []uint32, action StoreAction, keywords []string, l Listener) URL {
	return e.run(accountID, "store-keywords", l, func(c *imapclient.Client) (*StatusResult, error) {
		if _, err := c.Select(folderURI, nil).Wait(); err != nil {
			return nil, err
		}
		flags := make([]imapv2.Flag, len(keywords))
		for i, k := range keywords {
			flags[i] = imapv2.Flag(k)
		}
		storeOp := imapv2.StoreFlagsAdd
		if action == Subtract {
			storeOp = imapv2.StoreFlagsDel
		}
		sc := c.Store(uidSet(uids), &imapv2.StoreFlags{Op: storeOp, Flags: flags, Silent: true}, nil)
		for sc.Next() != nil {
		}
		return nil, sc.Close()
	})
}

func (e *ClientEngine) CopyMessages(ctx context.Context, accountID, sourceURI string, uids []uint32, destURI string, isMove bool, l Listener) URL {
	kind := "copy"
	if isMove {
		kind = "move"
	}
	return e.run(accountID, kind, l, func(c *imapclient.Client) (*StatusResult, error) {
		if _, err := c.Select(sourceURI, nil).Wait(); err != nil {
			return nil, err
		}
		copyData, err := c.Copy(uidSet(uids), destURI).Wait()
		if err != nil {
			return nil, err
		}
		if copyData != nil && copyData.DestUIDs != nil {
			// UIDPLUS reports the destination UIDs as a UIDSet; same-server
			// copies/moves pick up the new UID from the next discovery scan
			// of the destination folder rather than unpacking it here.
		}
		if isMove {
			sc := c.Store(uidSet(uids), &imapv2.StoreFlags{Op: imapv2.StoreFlagsAdd, Flags: []imapv2.Flag{imapv2.FlagDeleted}, Silent: true}, nil)
			for sc.Next() != nil {
			}
			if err := sc.Close(); err != nil {
				return nil, err
			}
			return nil, c.UIDExpunge(uidSet(uids)).Close()
		}
		return nil, nil
	})
}

func (e *ClientEngine) AppendMessage(ctx context.Context, accountID, destURI string, raw []byte, l Listener) URL {
	return e.run(accountID, "append", l, func(c *imapclient.Client) (*StatusResult, error) {
		ac := c.Append(destURI, int64(len(raw)), nil)
		if _, err := ac.Write(raw); err != nil {
			ac.Close()
			return nil, err
		}
		if err := ac.Close(); err != nil {
			return nil, err
		}
		data, err := ac.Wait()
		if err != nil {
			return nil, err
		}
		if data == nil || data.UID == 0 {
			return nil, nil
		}
		return &StatusResult{AssignedUID: uint32(data.UID)}, nil
	})
}

func (e *ClientEngine) CreateFolder(ctx context.Context, accountID, parentURI, name string, l Listener) URL {
	return e.run(accountID, "create-folder", l, func(c *imapclient.Client) (*StatusResult, error) {
		full := name
		if parentURI != "" {
			full = parentURI + "/" + name
		}
		return nil, c.Create(full, nil).Wait()
	})
}

func (e *ClientEngine) DeleteAllMessages(ctx context.Context, accountID, folderURI string, l Listener) URL {
	return e.run(accountID, "delete-all", l, func(c *imapclient.Client) (*StatusResult, error) {
		if _, err := c.Select(folderURI, nil).Wait(); err != nil {
			return nil, err
		}
		// 1:* — a Stop of 0 stands for "*", the last message.
		sc := c.Store(imapv2.SeqSet{{Start: 1, Stop: 0}}, &imapv2.StoreFlags{Op: imapv2.StoreFlagsAdd, Flags: []imapv2.Flag{imapv2.FlagDeleted}, Silent: true}, nil)
		for sc.Next() != nil {
		}
		if err := sc.Close(); err != nil {
			return nil, err
		}
		return nil, c.Expunge(nil).Close()
	})
}

// CloseAll force-closes every pooled connection, for shutdown.
func (e *ClientEngine) CloseAll() {
	e.mu.Lock()
	conns := e.conns
	e.conns = make(map[string]*imapclient.Client)
	e.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func uidSet(uids []uint32) imapv2.UIDSet {
	set := imapv2.UIDSet{}
	for _, u := range uids {
		set.AddNum(imapv2.UID(u))
	}
	return set
}

// flagsFromMask maps a mask in message.Flag's bit layout to the IMAP
// system flags it contains.
func flagsFromMask(mask uint32) []imapv2.Flag {
	var flags []imapv2.Flag
	bits := []struct {
		bit  uint32
		flag imapv2.Flag
	}{
		{1 << 0, imapv2.FlagSeen},
		{1 << 1, imapv2.FlagAnswered},
		{1 << 2, imapv2.FlagFlagged},
		{1 << 4, imapv2.FlagDeleted},
		{1 << 5, imapv2.FlagDraft},
	}
	for _, b := range bits {
		if mask&b.bit != 0 {
			flags = append(flags, b.flag)
		}
	}
	return flags
}

var _ Engine = (*ClientEngine)(nil)
