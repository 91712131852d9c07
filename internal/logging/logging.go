// Package logging provides the component-scoped zerolog loggers used
// throughout the daemon.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	level  = zerolog.InfoLevel
	output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	base   = zerolog.New(output).With().Timestamp().Logger().Level(level)
)

// SetLevel adjusts the minimum level for every logger subsequently
// obtained from WithComponent. Existing loggers already handed out keep
// their level.
func SetLevel(l zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	base = zerolog.New(output).With().Timestamp().Logger().Level(level)
}

// WithComponent returns a logger tagged with the given component name,
// e.g. "autosync-manager", "offline-playback", "protocol-imap".
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", name).Logger()
}
