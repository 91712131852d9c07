// Command mailsyncd is the headless auto-sync daemon: it opens the
// local store, wires the sync manager and offline-operation playback
// to a live IMAP engine, and runs until signaled to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mailcore/autosync/internal/account"
	"github.com/mailcore/autosync/internal/autosync"
	"github.com/mailcore/autosync/internal/bodystore"
	"github.com/mailcore/autosync/internal/config"
	"github.com/mailcore/autosync/internal/database"
	"github.com/mailcore/autosync/internal/folder"
	"github.com/mailcore/autosync/internal/logging"
	"github.com/mailcore/autosync/internal/message"
	"github.com/mailcore/autosync/internal/playback"
	"github.com/mailcore/autosync/internal/protocol"
	"github.com/mailcore/autosync/internal/strategy"
	"github.com/rs/zerolog"
)

var (
	debugMode   = flag.Bool("debug", false, "Enable debug logging")
	dbPath      = flag.String("db", "", "Path to the sqlite database (default: mailsyncd/sync.db under the user cache directory, e.g. $XDG_CACHE_HOME)")
	credsPath   = flag.String("creds", "", "Path to a JSON file of {accountID: {host,port,useTLS,username,password}} (default: $XDG_CONFIG_HOME/mailsyncd/credentials.json)")
	playbackSec = flag.Int("playback-interval", 30, "Seconds between offline-operation playback passes")
)

func debug() bool {
	return *debugMode || os.Getenv("MAILSYNCD_DEBUG") == "1"
}

// credentialFile is the on-disk shape of the credentials flag's target.
// Credential storage proper (keyring integration, OAuth2 token refresh)
// is out of this daemon's scope; this is just enough to hand the engine
// something to dial with.
type credentialFile map[string]protocol.Credentials

func loadCredentials(path string) (credentialFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials file: %w", err)
	}
	defer f.Close()

	var creds credentialFile
	if err := json.NewDecoder(f).Decode(&creds); err != nil {
		return nil, fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	return creds, nil
}

func defaultDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mailsyncd", "sync.db")
}

func defaultCredsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mailsyncd", "credentials.json")
}

func main() {
	flag.Parse()

	if debug() {
		logging.SetLevel(zerolog.DebugLevel)
	}
	log := logging.WithComponent("mailsyncd")

	dbFile := *dbPath
	if dbFile == "" {
		dbFile = defaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbFile), 0o700); err != nil {
		log.Fatal().Err(err).Str("path", dbFile).Msg("create database directory")
	}

	credsFile := *credsPath
	if credsFile == "" {
		credsFile = defaultCredsPath()
	}
	creds, err := loadCredentials(credsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}

	db, err := database.Open(dbFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbFile).Msg("open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	accounts := account.NewStore(db)
	folders := folder.NewStore(db)
	messages := message.NewStore(db)
	bodies := bodystore.NewStore(db)
	cfg := config.NewStore(db)

	engine := protocol.NewClientEngine(func(accountID string) (protocol.Credentials, error) {
		c, ok := creds[accountID]
		if !ok {
			return protocol.Credentials{}, fmt.Errorf("no credentials configured for account %s", accountID)
		}
		return c, nil
	})

	manager := autosync.NewManager(autosync.Config{
		FolderStore:  folders,
		MessageStore: messages,
		AccountStore: accounts,
		BodyStore:    bodies,
		Engine:       engine,
		ConfigStore:  cfg,
		FolderStrat:  &strategy.DefaultFolder{},
		MessageStrat: func(accountID string) strategy.Message {
			a, err := accounts.Get(accountID)
			if err != nil {
				return &strategy.DefaultMessage{}
			}
			return &strategy.DefaultMessage{
				OfflineAgeDaysMax:     a.OfflineAgeDaysMax,
				LargeMessageThreshold: a.LargeMessageThresholdBytes,
			}
		},
	})

	pb := playback.New(playback.Config{
		FolderStore:  folders,
		MessageStore: messages,
		AccountStore: accounts,
		BodyStore:    bodies,
		Engine:       engine,
		Resync:       manager,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Run(ctx)
	defer manager.Stop()
	defer engine.CloseAll()

	log.Info().Str("db", dbFile).Msg("mailsyncd running")
	runPlaybackLoop(ctx, pb, log, time.Duration(*playbackSec)*time.Second)
	log.Info().Msg("mailsyncd stopped")
}

// runPlaybackLoop replays queued offline operations on a fixed cadence
// until ctx is canceled. Playback runs on its own goroutine schedule,
// independent of the sync manager's executor, since it only touches
// durable storage and the protocol engine directly.
func runPlaybackLoop(ctx context.Context, pb *playback.Playback, log zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pb.Run(ctx); err != nil {
				log.Error().Err(err).Msg("offline operation playback")
			}
		}
	}
}
