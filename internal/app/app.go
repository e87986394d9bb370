// Package app wires all voxnode subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and the background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithEngine,
// and so on). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnode/internal/api"
	"github.com/MrWong99/voxnode/internal/chat"
	"github.com/MrWong99/voxnode/internal/config"
	"github.com/MrWong99/voxnode/internal/health"
	"github.com/MrWong99/voxnode/internal/mcpserver"
	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/internal/observe"
	"github.com/MrWong99/voxnode/internal/recognition"
	"github.com/MrWong99/voxnode/internal/recognition/streaming"
	"github.com/MrWong99/voxnode/internal/session"
	"github.com/MrWong99/voxnode/internal/voicecmd"
	"github.com/MrWong99/voxnode/pkg/kv"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	version  string
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	store     kv.Store
	notebooks *notebook.Store
	engine    recognition.Engine
	adapter   *recognition.Adapter
	matcher   *voicecmd.Matcher
	session   *session.Session
	autosaver *session.Autosaver
	relay     *chat.Relay
	hub       *api.Hub
	health    *health.Handler
	handler   http.Handler
	watcher   *config.Watcher
	listener  net.Listener

	configPath string
	watchOpts  []config.WatcherOption

	chatMu  sync.RWMutex
	chatCfg chat.Config

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry uses reg instead of a registry populated by [RegisterBuiltins].
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithStore injects a key-value store instead of opening the configured
// backend. The App does not close an injected store.
func WithStore(s kv.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEngine injects a recognition engine instead of building one from the
// configured speech provider.
func WithEngine(e recognition.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithListener serves the API on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigWatch polls path and applies hot-reloadable changes while Run is
// active.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// WithLogLevel lets hot reloads adjust lv, the level variable of the process
// logger built by [NewLogger].
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithVersion sets the version reported in telemetry and by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, storage,
// notebooks, recognition, the session with its autosaver, the chat relay,
// and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		chatCfg: cfg.Chat,
	}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
		a.logLevel.Set(SlogLevel(cfg.Server.LogLevel))
	}

	if err := a.initTelemetry(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStorage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initRecognition(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recognition: %w", err)
	}
	if err := a.initSession(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	a.relay = chat.NewRelay(chat.WithMetrics(a.metrics))
	if err := a.initHTTP(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init http: %w", err)
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyReload, a.watchOpts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	t, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxnode",
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.telemetry = t
	a.metrics = t.Metrics
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.Shutdown(ctx)
	})
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.store == nil {
		s, err := a.reg.OpenStorage(ctx, a.cfg.Storage)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		slog.Info("storage opened", "backend", a.cfg.Storage.Backend)
	}
	a.notebooks = notebook.New(a.store, notebook.WithWriteHook(func(op string) {
		a.metrics.RecordNotebookWrite(context.Background(), op)
	}))
	return nil
}

// initRecognition builds the streaming engine from the configured speech
// provider unless one was injected. Without an engine, starting a session
// reports recognition as unsupported.
func (a *App) initRecognition() error {
	rec := a.cfg.Recognition
	if a.engine == nil && rec.Engine.Name != "" {
		p, err := a.reg.CreateSTT(rec.Engine)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("speech provider not registered; recognition unavailable", "name", rec.Engine.Name)
		case err != nil:
			return fmt.Errorf("create stt provider %q: %w", rec.Engine.Name, err)
		default:
			keywords, err := rec.KeywordBoosts()
			if err != nil {
				return err
			}
			a.engine = streaming.New(p, streaming.StdinOrFile(rec.Audio.Source), streaming.Config{
				SampleRate: rec.Audio.SampleRate,
				Channels:   rec.Audio.Channels,
				ChunkBytes: rec.Audio.ChunkBytes,
				Keywords:   keywords,
			})
			slog.Info("provider created", "kind", "stt", "name", rec.Engine.Name)
		}
	}

	opts := []recognition.Option{
		recognition.WithLanguage(recognition.LanguageTag(rec.Language)),
		recognition.WithAutoRestart(rec.AutoRestart),
		recognition.WithEventHook(func(ev recognition.Event) {
			a.metrics.RecordRecognitionEvent(context.Background(), eventKind(ev))
		}),
	}
	if rec.RestartDelay > 0 {
		opts = append(opts, recognition.WithRestartDelay(rec.RestartDelay))
	}
	a.adapter = recognition.NewAdapter(a.engine, opts...)
	a.closers = append(a.closers, func() error { a.adapter.Stop(); return nil })
	return nil
}

func (a *App) initSession(ctx context.Context) error {
	vocab, err := a.cfg.Commands.ToVocabulary()
	if err != nil {
		return err
	}
	a.matcher = voicecmd.NewMatcher(vocab, voicecmd.WithEscapePrefix(a.cfg.Commands.EscapePrefix))

	a.session = session.New(a.adapter, a.matcher,
		session.WithLanguage(a.cfg.Recognition.Language),
		session.WithCommandHook(func(lang string, cmd voicecmd.Command) {
			a.metrics.RecordVoiceCommand(context.Background(), cmd.String(), lang)
		}),
		session.WithTransitionHook(func(_, to session.Status) {
			a.metrics.RecordSessionTransition(context.Background(), to.String())
		}),
	)

	if a.cfg.Storage.AutosaveInterval < 0 {
		slog.Info("transcript autosave disabled")
		return nil
	}
	a.autosaver = session.NewAutosaver(session.AutosaverConfig{
		Store:    a.store,
		Session:  a.session,
		Interval: a.cfg.Storage.AutosaveInterval,
	})
	if _, err := a.autosaver.Restore(ctx); err != nil {
		slog.Warn("could not restore transcript draft", "err", err)
	}
	return nil
}

func (a *App) initHTTP() error {
	a.hub = api.NewHub(a.session.Snapshot, api.WithHubMetrics(a.metrics))

	checks := []health.Checker{
		health.Store("storage", a.store),
		health.Available("recognition", func() bool {
			return a.engine != nil && a.engine.Available()
		}),
	}
	a.health = health.New(a.version, checks...)
	srv, err := api.New(api.Config{
		Session:        a.session,
		Notebooks:      a.notebooks,
		Chat:           a.relay,
		ChatConfig:     a.ChatConfig,
		Hub:            a.hub,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.telemetry.Handler(),
	})
	if err != nil {
		return err
	}

	tools := mcpserver.New(a.notebooks, func(context.Context) (string, error) {
		return a.session.Transcript(), nil
	}, a.version)

	mux := http.NewServeMux()
	mux.Handle("/mcp", observe.Middleware(a.metrics)(mcpserver.HTTPHandler(tools)))
	mux.Handle("/", srv.Handler())
	a.handler = mux
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Session returns the reading session.
func (a *App) Session() *session.Session { return a.session }

// Notebooks returns the notebook store.
func (a *App) Notebooks() *notebook.Store { return a.notebooks }

// ChatConfig returns the chat settings currently in effect.
func (a *App) ChatConfig() chat.Config {
	a.chatMu.RLock()
	defer a.chatMu.RUnlock()
	return a.chatCfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and runs the update hub, the autosaver and the
// config watcher until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx, a.session.Updates()) })
	if a.autosaver != nil {
		g.Go(func() error { return a.autosaver.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "language", a.cfg.Recognition.Language)
	for _, c := range a.health.Check(ctx).Checks {
		if c.Status != health.StatusOK {
			slog.Warn("app: not ready", "check", c.Name, "err", c.Error)
		}
	}
	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// applyReload applies the hot-reloadable part of a config change. Changes
// that need a restart are logged.
func (a *App) applyReload(r config.Reload) {
	d, cfg := r.Diff, r.New
	if d.LogLevelChanged {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		a.session.SetLanguage(d.NewLanguage)
		slog.Info("recognition language changed", "language", d.NewLanguage)
	}
	if d.CommandsChanged {
		vocab, err := cfg.Commands.ToVocabulary()
		if err != nil {
			slog.Warn("ignoring invalid command vocabulary", "err", err)
		} else {
			a.matcher.SetVocabulary(vocab)
			a.matcher.SetEscapePrefix(cfg.Commands.EscapePrefix)
		}
	}
	if d.ChatChanged {
		a.chatMu.Lock()
		a.chatCfg = cfg.Chat
		a.chatMu.Unlock()
		slog.Info("chat settings changed", "provider", cfg.Chat.Provider, "model", cfg.Chat.Model)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session, flushes the transcript draft and tears down
// all subsystems in reverse-init order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// The draft must be written before the session drops the transcript
		// and before the store closes.
		if a.autosaver != nil {
			a.autosaver.Stop()
			if err := a.autosaver.SaveNow(ctx); err != nil {
				slog.Warn("final draft save failed", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// eventKind labels a recognition event for metrics.
func eventKind(ev recognition.Event) string {
	switch ev.Kind {
	case recognition.EventResult:
		switch {
		case ev.Forced:
			return "forced_final"
		case ev.IsFinal:
			return "final"
		default:
			return "interim"
		}
	case recognition.EventError:
		return "error"
	case recognition.EventEnd:
		return "end"
	default:
		return "unknown"
	}
}
