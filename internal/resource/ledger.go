// Package resource tracks playback URLs and device stream handles and
// guarantees each one is released exactly once.
package resource

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Token identifies a registered handle.
type Token string

type entry struct {
	label   string
	release func()
}

// Ledger is the sole owner of handle lifetimes. Release is idempotent;
// releasing an unknown or already-released token is a no-op.
type Ledger struct {
	mu     sync.Mutex
	held   map[Token]entry
	logger zerolog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		held:   make(map[Token]entry),
		logger: logger.With().Str("component", "resource").Logger(),
	}
}

// Register records a handle and its release function, returning the
// token that must be used to release it later.
func (l *Ledger) Register(label string, release func()) Token {
	tok := Token(uuid.NewString())
	l.mu.Lock()
	l.held[tok] = entry{label: label, release: release}
	l.mu.Unlock()
	l.logger.Debug().Str("label", label).Str("token", string(tok)).Msg("Handle registered")
	return tok
}

// Release frees the handle behind the token. Safe to call repeatedly;
// the underlying release function runs at most once.
func (l *Ledger) Release(tok Token) {
	l.mu.Lock()
	e, ok := l.held[tok]
	if ok {
		delete(l.held, tok)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if e.release != nil {
		e.release()
	}
	l.logger.Debug().Str("label", e.label).Msg("Handle released")
}

// ReleaseAll frees every outstanding handle. Used at teardown.
func (l *Ledger) ReleaseAll() {
	l.mu.Lock()
	held := l.held
	l.held = make(map[Token]entry)
	l.mu.Unlock()
	for _, e := range held {
		if e.release != nil {
			e.release()
		}
	}
	if len(held) > 0 {
		l.logger.Info().Int("count", len(held)).Msg("All handles released")
	}
}

// Count returns the number of outstanding handles.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
