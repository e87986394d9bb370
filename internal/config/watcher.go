package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Reload describes one accepted edit of a watched config file.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Watcher polls a config file and reports edits that produce another valid,
// different configuration. Invalid edits are logged and skipped; the last
// valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once. Polling starts with [Watcher.Run].
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onReload: onReload}
	for _, opt := range opts {
		opt(w)
	}
	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file every interval until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := w.Check(); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Check performs one poll. It reports the reload and true when the file now
// holds a different valid config; the reload callback has already run by
// then. An unchanged mtime, identical bytes, or an edit that changes no
// setting (a comment, key order) report false with a nil error.
func (w *Watcher) Check() (Reload, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return Reload{}, false, fmt.Errorf("config: stat %s: %w", w.path, err)
	}

	w.mu.Lock()
	seen := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if seen {
		return Reload{}, false, nil
	}

	cfg, sum, mtime, err := w.read()

	w.mu.Lock()
	if err != nil {
		// A broken file is parsed once per edit, not on every tick.
		w.mtime = info.ModTime()
		w.mu.Unlock()
		return Reload{}, false, err
	}
	w.mtime = mtime
	if sum == w.sum {
		w.mu.Unlock()
		return Reload{}, false, nil
	}
	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	if !r.Diff.Changed() {
		return Reload{}, false, nil
	}
	slog.Info("config: reloaded", "path", w.path, "restart_required", r.Diff.RestartRequired)
	if w.onReload != nil {
		w.onReload(r)
	}
	return r, true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
