package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxnode/pkg/kv"
)

const (
	// DraftKey is the store key holding the autosaved transcript.
	DraftKey = "transcript_draft"

	defaultAutosaveInterval = 30 * time.Second
)

// Autosaver periodically writes the committed transcript to a key-value store
// so a crash or restart does not lose an unsaved reading.
//
// All methods are safe for concurrent use.
type Autosaver struct {
	store    kv.Store
	session  *Session
	interval time.Duration

	mu        sync.Mutex
	lastSaved string
	done      chan struct{}
	stopOnce  sync.Once
}

// AutosaverConfig configures an [Autosaver].
type AutosaverConfig struct {
	// Store receives the draft under [DraftKey].
	Store kv.Store

	// Session is the session whose transcript is saved.
	Session *Session

	// Interval is how often to save. Defaults to 30 seconds if zero.
	Interval time.Duration
}

// NewAutosaver creates an [Autosaver].
func NewAutosaver(cfg AutosaverConfig) *Autosaver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultAutosaveInterval
	}
	return &Autosaver{
		store:    cfg.Store,
		session:  cfg.Session,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Restore loads a saved draft into the session if the session is empty. It
// reports whether a draft was applied.
func (a *Autosaver) Restore(ctx context.Context) (bool, error) {
	draft, ok, err := a.store.Get(ctx, DraftKey)
	if err != nil {
		return false, fmt.Errorf("autosave: load draft: %w", err)
	}
	if !ok || !a.session.Restore(draft) {
		return false, nil
	}
	a.mu.Lock()
	a.lastSaved = a.session.Transcript()
	a.mu.Unlock()
	slog.Info("autosave: draft restored", "words", a.session.WordCount())
	return true, nil
}

// Run saves on every tick until ctx is cancelled or Stop is called, then
// saves one last time.
func (a *Autosaver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.SaveNow(context.WithoutCancel(ctx))
		case <-a.done:
			return a.SaveNow(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := a.SaveNow(ctx); err != nil {
				slog.Warn("autosave: periodic save failed", "error", err)
			}
		}
	}
}

// Stop ends Run. Safe to call multiple times.
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// SaveNow writes the transcript if it changed since the last save. An empty
// transcript removes the draft.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := a.session.Transcript()
	if text == a.lastSaved {
		return nil
	}
	var err error
	if text == "" {
		err = a.store.Delete(ctx, DraftKey)
	} else {
		err = a.store.Set(ctx, DraftKey, text)
	}
	if err != nil {
		return fmt.Errorf("autosave: write draft: %w", err)
	}
	a.lastSaved = text
	return nil
}
