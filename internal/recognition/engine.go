// Package recognition adapts a continuous speech-recognition engine into an
// ordered stream of (text, isFinal, confidence) events for a single
// subscriber.
//
// The [Engine] interface is the platform capability: something that can be
// started and stopped and that reports result batches, errors and natural end
// of recognition on one channel. The [Adapter] layers the session-facing
// contract on top: lazy initialisation with permission checks, restart on
// "already started", default confidences, interim buffering and a forced
// final when the engine ends on its own with an unfinished hypothesis.
package recognition

import (
	"context"
	"errors"
)

// Sentinel errors returned by the adapter and engines.
var (
	// ErrUnsupported means no recognition engine is available on this host.
	ErrUnsupported = errors.New("recognition: not supported")

	// ErrPermissionDenied means audio capture permission was refused.
	ErrPermissionDenied = errors.New("recognition: audio permission denied")

	// ErrAlreadyStarted is returned by Engine.Start while the engine is running.
	ErrAlreadyStarted = errors.New("recognition: already started")
)

// EngineConfig is passed to Engine.Start.
type EngineConfig struct {
	// Language is a BCP-47 tag such as "it-IT" or "en-US".
	Language string

	// Continuous keeps recognising across pauses in speech.
	Continuous bool

	// InterimResults enables non-final hypotheses.
	InterimResults bool

	// MaxAlternatives is the number of hypotheses requested per segment.
	// Only the first is used.
	MaxAlternatives int
}

// Segment is one recognised piece of speech within a result batch.
type Segment struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]; zero means the engine did not report one.
	Confidence float64
}

// EngineEventKind discriminates EngineEvent.
type EngineEventKind int

const (
	// EngineResult carries one or more segments.
	EngineResult EngineEventKind = iota + 1

	// EngineError reports a mid-session engine failure. Recognition may
	// continue afterwards.
	EngineError

	// EngineEnd reports that the engine stopped, either because it was asked
	// to or on its own. Engines may drop results under backpressure but
	// must deliver exactly one EngineEnd per run.
	EngineEnd
)

// EngineEvent is emitted by an Engine on its Events channel.
type EngineEvent struct {
	Kind     EngineEventKind
	Segments []Segment
	Err      error
}

// Engine is a continuous speech-recognition capability.
//
// Implementations must be safe for concurrent use. Events must be delivered in
// the order the engine produced them, and the Events channel must stay open
// across Start/Stop cycles.
type Engine interface {
	// Available reports whether the engine can run on this host at all.
	Available() bool

	// RequestPermission asks for audio capture access. It returns an error
	// wrapping ErrPermissionDenied when access is refused.
	RequestPermission(ctx context.Context) error

	// Start begins recognition. It returns ErrAlreadyStarted when the engine
	// is already running.
	Start(ctx context.Context, cfg EngineConfig) error

	// Stop ends recognition. An EngineEnd event follows once the engine has
	// wound down. Stopping an idle engine is a no-op.
	Stop() error

	// Events returns the engine's event stream.
	Events() <-chan EngineEvent
}
