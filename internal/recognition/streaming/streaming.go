// Package streaming implements [recognition.Engine] on top of a streaming
// [stt.Provider] fed from a raw PCM audio source such as stdin or a file.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/voxnode/internal/recognition"
	"github.com/MrWong99/voxnode/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultChunkBytes = 3200 // 100 ms of 16 kHz mono 16-bit PCM
	eventBuffer       = 256
)

// SourceFunc opens the audio source for one recognition run.
type SourceFunc func() (io.ReadCloser, error)

// StdinOrFile returns a SourceFunc for path. "-" and "" read from stdin
// through the process-wide [Shared] reader, so audio read while no run is
// active goes to the next run. Stdin is never closed by the engine.
func StdinOrFile(path string) SourceFunc {
	if path == "" || path == "-" {
		return stdinSource()
	}
	return func() (io.ReadCloser, error) { return os.Open(path) }
}

// Config controls audio framing.
type Config struct {
	SampleRate int
	Channels   int
	ChunkBytes int
	Keywords   []stt.KeywordBoost
}

// Engine drives an stt.Provider with audio read from a source.
type Engine struct {
	provider stt.Provider
	open     SourceFunc
	cfg      Config
	events   chan recognition.EngineEvent

	mu  sync.Mutex
	run *run
}

// run is one Start..Stop cycle.
type run struct {
	handle stt.SessionHandle
	source io.ReadCloser
	done   chan struct{}
	once   sync.Once
}

var _ recognition.Engine = (*Engine)(nil)

// New returns an Engine. provider may be nil, in which case Available reports
// false.
func New(provider stt.Provider, open SourceFunc, cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = defaultChunkBytes
	}
	return &Engine{
		provider: provider,
		open:     open,
		cfg:      cfg,
		events:   make(chan recognition.EngineEvent, eventBuffer),
	}
}

// Available implements [recognition.Engine].
func (e *Engine) Available() bool { return e.provider != nil && e.open != nil }

// RequestPermission opens and closes the audio source once.
func (e *Engine) RequestPermission(context.Context) error {
	src, err := e.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", recognition.ErrPermissionDenied, err)
		}
		return fmt.Errorf("streaming: open audio source: %w", err)
	}
	return src.Close()
}

// Start implements [recognition.Engine].
func (e *Engine) Start(ctx context.Context, cfg recognition.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return recognition.ErrAlreadyStarted
	}

	src, err := e.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", recognition.ErrPermissionDenied, err)
		}
		return fmt.Errorf("streaming: open audio source: %w", err)
	}

	h, err := e.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: e.cfg.SampleRate,
		Channels:   e.cfg.Channels,
		Language:   cfg.Language,
		Keywords:   e.cfg.Keywords,
	})
	if err != nil {
		src.Close()
		return fmt.Errorf("streaming: start stream: %w", err)
	}

	r := &run{handle: h, source: src, done: make(chan struct{})}
	e.run = r
	go e.pumpAudio(r)
	go e.pumpResults(r)

	slog.Info("streaming: recognition started", "language", cfg.Language, "sample_rate", e.cfg.SampleRate)
	return nil
}

// Stop ends the current run and waits until its EngineEnd has been queued.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	r.finish()
	<-r.done
	return nil
}

// Events implements [recognition.Engine].
func (e *Engine) Events() <-chan recognition.EngineEvent { return e.events }

// finish closes the stream and the source. Safe to call repeatedly.
func (r *run) finish() {
	r.once.Do(func() {
		if err := r.handle.Close(); err != nil {
			slog.Warn("streaming: close stream", "error", err)
		}
		if err := r.source.Close(); err != nil {
			slog.Debug("streaming: close source", "error", err)
		}
	})
}

// pumpAudio copies fixed-size chunks from the source into the stream. On EOF
// the stream is closed so the provider flushes its last results.
func (e *Engine) pumpAudio(r *run) {
	buf := make([]byte, e.cfg.ChunkBytes)
	for {
		n, err := io.ReadFull(r.source, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := r.handle.SendAudio(chunk); sendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				e.emit(recognition.EngineEvent{Kind: recognition.EngineError, Err: fmt.Errorf("streaming: read audio: %w", err)})
			}
			r.finish()
			return
		}
	}
}

// pumpResults forwards provider transcripts until the stream closes, then
// reports the end of the run.
func (e *Engine) pumpResults(r *run) {
	defer close(r.done)
	for tr := range r.handle.Results() {
		e.emit(recognition.EngineEvent{
			Kind:     recognition.EngineResult,
			Segments: []recognition.Segment{{Text: tr.Text, IsFinal: tr.IsFinal, Confidence: tr.Confidence}},
		})
	}
	if err := r.handle.Err(); err != nil {
		e.emit(recognition.EngineEvent{Kind: recognition.EngineError, Err: err})
	}
	r.finish()

	e.mu.Lock()
	if e.run == r {
		e.run = nil
	}
	e.mu.Unlock()
	e.emitEnd()
}

// emit queues ev, dropping it if nobody has drained the buffer.
func (e *Engine) emit(ev recognition.EngineEvent) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("streaming: event buffer full, dropping event", "kind", ev.Kind)
	}
}

// emitEnd queues an EngineEnd even when the buffer is full by evicting the
// oldest queued events. Evicted ends are queued again.
func (e *Engine) emitEnd() {
	owed := 1
	for tries := 0; owed > 0 && tries <= 2*eventBuffer; tries++ {
		select {
		case e.events <- recognition.EngineEvent{Kind: recognition.EngineEnd}:
			owed--
			continue
		default:
		}
		select {
		case old := <-e.events:
			if old.Kind == recognition.EngineEnd {
				owed++
			} else {
				slog.Warn("streaming: event buffer full, evicting oldest event", "kind", old.Kind)
			}
		default:
		}
	}
	if owed > 0 {
		slog.Error("streaming: event buffer holds only end events, dropping", "count", owed)
	}
}
