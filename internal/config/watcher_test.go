package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxnode/internal/config"
)

const watchedYAML = `
server:
  log_level: info
recognition:
  language: it
chat:
  provider: groq
  api_key: gsk-test
storage:
  backend: memory
`

// watchedFile writes body to a temp config file with an mtime in the past,
// and returns the path and a function that rewrites it with a fresh mtime.
func watchedFile(t *testing.T, body string) (string, func(string)) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxnode.yaml")
	stamp := time.Now().Add(-time.Hour)
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		stamp = stamp.Add(time.Second)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatal(err)
		}
	}
	write(body)
	return path, write
}

func TestWatcher_InitialLoad(t *testing.T) {
	path, _ := watchedFile(t, watchedYAML)
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Recognition.Language; got != "it" {
		t.Errorf("language = %q, want it", got)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_Check(t *testing.T) {
	path, write := watchedFile(t, watchedYAML)
	var got []config.Reload
	w, err := config.NewWatcher(path, func(r config.Reload) { got = append(got, r) })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if _, ok, err := w.Check(); ok || err != nil {
		t.Fatalf("untouched file: ok=%v err=%v", ok, err)
	}

	// Same settings, different bytes.
	write(watchedYAML + "# reading room\n")
	if _, ok, err := w.Check(); ok || err != nil {
		t.Fatalf("comment-only edit: ok=%v err=%v", ok, err)
	}

	write(strings.NewReplacer("info", "debug", "language: it", "language: en").Replace(watchedYAML))
	r, ok, err := w.Check()
	if !ok || err != nil {
		t.Fatalf("real edit: ok=%v err=%v", ok, err)
	}
	if !r.Diff.LogLevelChanged || r.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level debug", r.Diff)
	}
	if !r.Diff.LanguageChanged || r.New.Recognition.Language != "en" || r.Old.Recognition.Language != "it" {
		t.Errorf("language reload = %q -> %q", r.Old.Recognition.Language, r.New.Recognition.Language)
	}
	if len(got) != 1 || got[0].New != w.Current() {
		t.Errorf("callback ran %d times, want once with the current config", len(got))
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	path, write := watchedFile(t, watchedYAML)
	calls := 0
	w, err := config.NewWatcher(path, func(config.Reload) { calls++ })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	write("server:\n  log_level: bananas\n")
	if _, ok, err := w.Check(); ok || err == nil {
		t.Fatalf("invalid edit: ok=%v err=%v, want an error", ok, err)
	}
	// The broken edit is reported once, not on every poll.
	if _, _, err := w.Check(); err != nil {
		t.Errorf("second poll of the same broken file: %v", err)
	}
	if calls != 0 || w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("calls=%d level=%q, want the previous config", calls, w.Current().Server.LogLevel)
	}

	write(strings.Replace(watchedYAML, "provider: groq", "provider: openai", 1))
	if r, ok, err := w.Check(); !ok || err != nil || !r.Diff.ChatChanged {
		t.Errorf("recovery edit: ok=%v err=%v diff=%+v", ok, err, r.Diff)
	}
}

func TestWatcher_RestartRequiredSections(t *testing.T) {
	path, write := watchedFile(t, watchedYAML)
	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	write(strings.Replace(watchedYAML, "backend: memory", "backend: file", 1))
	r, ok, err := w.Check()
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !slices.Equal(r.Diff.RestartRequired, []string{"storage"}) {
		t.Errorf("RestartRequired = %v, want [storage]", r.Diff.RestartRequired)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	path, write := watchedFile(t, watchedYAML)
	reloaded := make(chan config.Reload, 1)
	w, err := config.NewWatcher(path, func(r config.Reload) { reloaded <- r },
		config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	write(strings.Replace(watchedYAML, "info", "warn", 1))
	select {
	case r := <-reloaded:
		if r.New.Server.LogLevel != config.LogWarn {
			t.Errorf("reloaded level = %q, want warn", r.New.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the edit")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
