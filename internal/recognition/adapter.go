package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultFinalConfidence is reported for segments that carry no score.
	DefaultFinalConfidence = 0.8

	// ForcedFinalConfidence is reported for a buffered interim promoted to
	// final when the engine ends on its own.
	ForcedFinalConfidence = 0.7

	// DefaultRestartDelay separates the stop and start halves of a restart
	// after ErrAlreadyStarted.
	DefaultRestartDelay = 100 * time.Millisecond

	defaultLanguage    = "it-IT"
	subscriberCapacity = 64
)

// EventKind discriminates adapter events.
type EventKind int

const (
	// EventResult is a recognised segment.
	EventResult EventKind = iota + 1

	// EventError is a diagnostic for a transient engine failure. It never
	// implies the session stopped.
	EventError

	// EventEnd signals that the engine ended on its own while listening.
	EventEnd
)

// Event is delivered to the adapter's subscriber.
type Event struct {
	Kind       EventKind
	Text       string
	IsFinal    bool
	Confidence float64

	// Forced is set on a final synthesised from buffered interim text.
	Forced bool

	// Err is set on EventError.
	Err error
}

type adapterState int

const (
	stateIdle adapterState = iota
	stateListening
	statePaused
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithRestartDelay overrides [DefaultRestartDelay].
func WithRestartDelay(d time.Duration) Option {
	return func(a *Adapter) { a.restartDelay = d }
}

// WithLanguage sets the initial language; see [Adapter.SetLanguage].
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = LanguageTag(lang) }
}

// WithAutoRestart makes the adapter restart the engine after it ends on its
// own while listening, so recognition keeps going across long silences.
func WithAutoRestart(on bool) Option {
	return func(a *Adapter) { a.autoRestart = on }
}

// WithEventHook registers a function called for every event before it is
// delivered. Used for metrics.
func WithEventHook(fn func(Event)) Option {
	return func(a *Adapter) { a.hook = fn }
}

// subscription is the single consumer of adapter events. Its channel is
// owned and closed by the forwarding goroutine.
type subscription struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscription) cancel() { s.once.Do(func() { close(s.done) }) }

// Adapter turns an Engine into a single-subscriber event stream.
//
// All methods are safe for concurrent use.
type Adapter struct {
	engine       Engine
	restartDelay time.Duration
	autoRestart  bool
	hook         func(Event)
	diag         chan error

	mu          sync.Mutex
	initialized bool
	language    string
	state       adapterState
	interim     string
	sub         *subscription
	restart     *time.Timer
	ctx         context.Context

	// engineRunning tracks whether a Stop from us will produce an EngineEnd.
	engineRunning bool

	// drainEnds counts EngineEnd events still owed by Pause/Stop. Results
	// seen before they arrive belong to the stopped run and are dropped.
	drainEnds int

	// restartEnds counts EngineEnd events caused by stop-and-restart.
	restartEnds int
}

// NewAdapter wraps engine. A nil engine makes Initialize fail with
// ErrUnsupported.
func NewAdapter(engine Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine:       engine,
		restartDelay: DefaultRestartDelay,
		language:     defaultLanguage,
		diag:         make(chan error, 8),
		ctx:          context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Initialize checks engine availability and audio permission. Subsequent
// calls after a successful one return nil immediately.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	done := a.initialized
	a.mu.Unlock()
	if done {
		return nil
	}

	if a.engine == nil || !a.engine.Available() {
		return ErrUnsupported
	}
	if err := a.engine.RequestPermission(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	return nil
}

// StartListening starts continuous, interim-enabled recognition and returns
// the subscriber channel. The same channel is returned when resuming after
// Pause; a new one is created after Stop. The channel is closed by Stop.
func (a *Adapter) StartListening(ctx context.Context) (<-chan Event, error) {
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.sub == nil {
		a.sub = &subscription{
			ch:   make(chan Event, subscriberCapacity),
			done: make(chan struct{}),
		}
		go a.forward(a.sub)
	}
	sub := a.sub
	prev := a.state
	a.state = stateListening
	a.ctx = context.WithoutCancel(ctx)
	cfg := a.configLocked()
	a.mu.Unlock()

	err := a.engine.Start(ctx, cfg)
	switch {
	case err == nil:
		a.mu.Lock()
		a.engineRunning = true
		a.mu.Unlock()
	case errors.Is(err, ErrAlreadyStarted):
		a.restartEngine()
	default:
		a.mu.Lock()
		a.state = prev
		a.mu.Unlock()
		return nil, fmt.Errorf("recognition: start: %w", err)
	}
	return sub.ch, nil
}

// restartEngine stops the running engine and starts it again after
// restartDelay.
func (a *Adapter) restartEngine() {
	slog.Debug("recognition: engine already running, restarting", "delay", a.restartDelay)
	a.mu.Lock()
	a.restartEnds++
	a.engineRunning = false
	a.mu.Unlock()

	if err := a.engine.Stop(); err != nil {
		slog.Warn("recognition: stop before restart failed", "error", err)
	}

	a.mu.Lock()
	a.scheduleStartLocked("restart")
	a.mu.Unlock()
}

// scheduleStartLocked starts the engine after restartDelay unless the adapter
// stopped listening in the meantime. a.mu must be held.
func (a *Adapter) scheduleStartLocked(reason string) {
	a.cancelRestartLocked()
	a.restart = time.AfterFunc(a.restartDelay, func() { a.delayedStart(reason) })
}

// delayedStart runs from a restart timer. Failures become diagnostics.
func (a *Adapter) delayedStart(reason string) {
	a.mu.Lock()
	if a.state != stateListening {
		a.mu.Unlock()
		return
	}
	ctx, cfg := a.ctx, a.configLocked()
	a.mu.Unlock()

	err := a.engine.Start(ctx, cfg)
	if err == nil || errors.Is(err, ErrAlreadyStarted) {
		a.mu.Lock()
		a.engineRunning = true
		a.mu.Unlock()
		return
	}
	slog.Warn("recognition: delayed start failed", "reason", reason, "error", err)
	select {
	case a.diag <- fmt.Errorf("recognition: %s: %w", reason, err):
	default:
	}
}

// Pause stops the engine but keeps the subscriber, so a later StartListening
// resumes on the same channel. Buffered interim text is discarded; the
// session commits it itself.
func (a *Adapter) Pause() {
	a.mu.Lock()
	if a.state != stateListening {
		a.mu.Unlock()
		return
	}
	a.state = statePaused
	a.interim = ""
	stop := a.haltLocked()
	a.mu.Unlock()

	if stop {
		if err := a.engine.Stop(); err != nil {
			slog.Warn("recognition: pause: engine stop failed", "error", err)
		}
	}
}

// Stop stops the engine, closes the subscriber channel and clears buffered
// interim text. Events the engine emits afterwards are dropped.
func (a *Adapter) Stop() {
	a.mu.Lock()
	a.state = stateIdle
	a.interim = ""
	stop := a.haltLocked()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	if sub != nil {
		sub.cancel()
	}
	if stop {
		if err := a.engine.Stop(); err != nil {
			slog.Warn("recognition: stop: engine stop failed", "error", err)
		}
	}
}

// haltLocked cancels pending restarts and books the EngineEnd a following
// engine stop will produce. It reports whether the engine needs stopping.
func (a *Adapter) haltLocked() bool {
	a.cancelRestartLocked()
	if !a.engineRunning {
		return false
	}
	a.engineRunning = false
	a.drainEnds++
	return true
}

// SetLanguage sets the recognition language. "it" maps to it-IT, any other
// short code to en-US; full tags such as "en-GB" are kept. While listening,
// a change restarts the engine so the new locale applies at once; otherwise
// it applies from the next start.
func (a *Adapter) SetLanguage(lang string) {
	tag := LanguageTag(lang)
	a.mu.Lock()
	changed := tag != a.language
	a.language = tag
	restart := changed && a.state == stateListening && a.engineRunning
	a.mu.Unlock()

	if restart {
		slog.Info("recognition: language changed while listening, restarting engine", "language", tag)
		a.restartEngine()
	}
}

// Language returns the active BCP-47 tag.
func (a *Adapter) Language() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}

// LanguageTag resolves a short language code to the tag sent to the engine.
func LanguageTag(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.ContainsAny(lang, "-_") {
		return strings.ReplaceAll(lang, "_", "-")
	}
	if strings.EqualFold(lang, "it") {
		return "it-IT"
	}
	return "en-US"
}

func (a *Adapter) configLocked() EngineConfig {
	return EngineConfig{
		Language:        a.language,
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 3,
	}
}

func (a *Adapter) cancelRestartLocked() {
	if a.restart != nil {
		a.restart.Stop()
		a.restart = nil
	}
}

// forward pumps engine events to sub until the subscription is cancelled.
func (a *Adapter) forward(sub *subscription) {
	defer close(sub.ch)
	events := a.engine.Events()
	for {
		select {
		case <-sub.done:
			return
		case err := <-a.diag:
			if !a.send(sub, Event{Kind: EventError, Err: err}) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, out := range a.translate(sub, ev) {
				if !a.send(sub, out) {
					return
				}
			}
		}
	}
}

// translate maps one engine event to adapter events and updates the interim
// buffer.
func (a *Adapter) translate(sub *subscription, ev EngineEvent) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case EngineResult:
		if a.sub != sub || a.state != stateListening || a.drainEnds > 0 {
			return nil
		}
		out := make([]Event, 0, len(ev.Segments))
		for _, seg := range ev.Segments {
			conf := seg.Confidence
			if conf <= 0 {
				conf = DefaultFinalConfidence
			}
			if seg.IsFinal {
				a.interim = ""
			} else {
				a.interim = seg.Text
			}
			out = append(out, Event{Kind: EventResult, Text: seg.Text, IsFinal: seg.IsFinal, Confidence: conf})
		}
		return out

	case EngineError:
		slog.Warn("recognition: engine error", "error", ev.Err)
		if a.sub != sub {
			return nil
		}
		return []Event{{Kind: EventError, Err: ev.Err}}

	case EngineEnd:
		if a.drainEnds > 0 {
			a.drainEnds--
			return nil
		}
		// A restart's End is owed even if the adapter paused or stopped
		// during the restart delay.
		restarting := a.restartEnds > 0
		if restarting {
			a.restartEnds--
		}
		if a.sub != sub || a.state != stateListening {
			return nil
		}
		var out []Event
		if a.interim != "" {
			out = append(out, Event{Kind: EventResult, Text: a.interim, IsFinal: true, Confidence: ForcedFinalConfidence, Forced: true})
			a.interim = ""
		}
		if restarting {
			return out
		}
		a.engineRunning = false
		out = append(out, Event{Kind: EventEnd})
		if a.autoRestart {
			slog.Debug("recognition: engine ended while listening, restarting")
			a.scheduleStartLocked("auto-restart")
		}
		return out
	}
	return nil
}

// send delivers ev unless sub was cancelled. It reports false once sub is done.
func (a *Adapter) send(sub *subscription, ev Event) bool {
	select {
	case <-sub.done:
		return false
	default:
	}
	if a.hook != nil {
		a.hook(ev)
	}
	select {
	case sub.ch <- ev:
		return true
	case <-sub.done:
		return false
	}
}
