// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. Once opened, a SessionHandle accepts
// raw PCM audio frames and emits a single ordered stream of Transcript values
// in which interim hypotheses and committed finals are interleaved exactly as
// the service produced them.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the usual value for
	// speech recognition.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "it-IT",
	// "en-US"). An empty string lets the provider pick its default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as author or character names.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider. The
	// chunk should match the SampleRate and Channels agreed in StreamConfig.
	// Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Results returns the ordered stream of interim and final transcripts.
	// The channel is closed when the session ends, whether by Close or because
	// the remote side terminated the stream.
	Results() <-chan Transcript

	// Err returns the error that terminated the session, or nil if it ended
	// normally. Only meaningful after Results is closed.
	Err() error

	// Close terminates the session, flushes pending audio, and releases all
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns the
	// handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
