// Package mock provides a scriptable [recognition.Engine] for tests.
//
// The engine records Start and Stop calls and never produces events on its
// own; tests push them with [Engine.Emit] helpers:
//
//	eng := mock.NewEngine()
//	a := recognition.NewAdapter(eng)
//	ch, _ := a.StartListening(ctx)
//	eng.Interim("hello wor")
//	eng.Final("hello world", 0.9)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxnode/internal/recognition"
)

var _ recognition.Engine = (*Engine)(nil)

// Engine is a test double for [recognition.Engine].
type Engine struct {
	mu sync.Mutex

	events  chan recognition.EngineEvent
	running bool

	// Unavailable makes Available report false.
	Unavailable bool

	// PermissionErr is returned by RequestPermission when non-nil.
	PermissionErr error

	// StartErrs is consumed one entry per Start call; a nil entry or an empty
	// queue means success. An ErrAlreadyStarted entry marks the engine as
	// running, other errors leave it unchanged.
	StartErrs []error

	// EmitEndOnStop makes Stop of a running engine push an EngineEnd event,
	// as real engines do.
	EmitEndOnStop bool

	startCalls []recognition.EngineConfig
	stopCalls  int
	permCalls  int
}

// NewEngine returns an available engine with a buffered event channel that
// emits EngineEnd on Stop.
func NewEngine() *Engine {
	return &Engine{
		events:        make(chan recognition.EngineEvent, 64),
		EmitEndOnStop: true,
	}
}

// Available implements [recognition.Engine].
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Unavailable
}

// RequestPermission implements [recognition.Engine].
func (e *Engine) RequestPermission(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.permCalls++
	return e.PermissionErr
}

// Start implements [recognition.Engine].
func (e *Engine) Start(_ context.Context, cfg recognition.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls = append(e.startCalls, cfg)
	if len(e.StartErrs) > 0 {
		err := e.StartErrs[0]
		e.StartErrs = e.StartErrs[1:]
		if errors.Is(err, recognition.ErrAlreadyStarted) {
			e.running = true
		}
		if err != nil {
			return err
		}
	}
	e.running = true
	return nil
}

// Stop implements [recognition.Engine].
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopCalls++
	emit := e.EmitEndOnStop && e.running
	e.running = false
	e.mu.Unlock()
	if emit {
		e.events <- recognition.EngineEvent{Kind: recognition.EngineEnd}
	}
	return nil
}

// Events implements [recognition.Engine].
func (e *Engine) Events() <-chan recognition.EngineEvent { return e.events }

// Emit pushes an arbitrary event.
func (e *Engine) Emit(ev recognition.EngineEvent) { e.events <- ev }

// Interim pushes a single non-final segment with no confidence.
func (e *Engine) Interim(text string) {
	e.Emit(recognition.EngineEvent{Kind: recognition.EngineResult, Segments: []recognition.Segment{{Text: text}}})
}

// Final pushes a single final segment.
func (e *Engine) Final(text string, confidence float64) {
	e.Emit(recognition.EngineEvent{Kind: recognition.EngineResult, Segments: []recognition.Segment{{Text: text, IsFinal: true, Confidence: confidence}}})
}

// Fail pushes an EngineError.
func (e *Engine) Fail(err error) {
	e.Emit(recognition.EngineEvent{Kind: recognition.EngineError, Err: err})
}

// End pushes an EngineEnd as if the engine stopped on its own.
func (e *Engine) End() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.Emit(recognition.EngineEvent{Kind: recognition.EngineEnd})
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartCalls returns a copy of the configs passed to Start.
func (e *Engine) StartCalls() []recognition.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]recognition.EngineConfig, len(e.startCalls))
	copy(out, e.startCalls)
	return out
}

// StopCalls returns the number of Stop calls.
func (e *Engine) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

// PermissionCalls returns the number of RequestPermission calls.
func (e *Engine) PermissionCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permCalls
}
