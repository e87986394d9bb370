// Package session implements the reading session state machine: listening,
// paused and ready states over a recognition stream, reconciliation of
// interim and final text into the transcript, and interception of spoken
// commands.
//
// A [Session] is an explicit object; nothing in this package is global. All
// state transitions and recognition events are serialised by one mutex, so
// every operation observes the effects of the previous one completely.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxnode/internal/recognition"
	"github.com/MrWong99/voxnode/internal/voicecmd"
)

// ErrListening is returned by Clear while the session is listening.
var ErrListening = errors.New("session: stop listening before clearing")

// Status is the session's lifecycle state.
type Status int

const (
	// Ready is the idle state, before the first start and after every stop.
	Ready Status = iota

	// Listening means recognition is running and events are applied.
	Listening

	// Paused means recognition is stopped but the session can resume.
	Paused

	// Stopped is reported once, in the status update emitted by Stop, before
	// the session settles on Ready.
	Stopped
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Listening:
		return "listening"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{Ready, Listening, Paused, Stopped} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown status %q", b)
}

// Recognizer is the recognition surface a Session drives. It is satisfied by
// *recognition.Adapter.
type Recognizer interface {
	StartListening(ctx context.Context) (<-chan recognition.Event, error)
	Pause()
	Stop()
	SetLanguage(lang string)
}

// CommandMatcher resolves final utterances to commands. It is satisfied by
// *voicecmd.Matcher.
type CommandMatcher interface {
	Match(lang, text string) (voicecmd.Command, bool)
	StripEscape(text string) (string, bool)
}

// TranscriptState is the committed text plus the current interim hypothesis.
type TranscriptState struct {
	// Committed holds finalised segments, each followed by one space.
	Committed string `json:"committed"`

	// Interim is the latest uncommitted hypothesis.
	Interim string `json:"interim"`
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	Status     Status          `json:"status"`
	StatusText string          `json:"status_text"`
	Language   string          `json:"language"`
	Transcript TranscriptState `json:"transcript"`
	WordCount  int             `json:"word_count"`
}

// Option configures a Session.
type Option func(*Session)

// WithLanguage sets the initial language short code ("it", "en").
func WithLanguage(lang string) Option {
	return func(s *Session) { s.lang = shortLang(lang) }
}

// WithUpdateBuffer sets the capacity of the Updates channel.
func WithUpdateBuffer(n int) Option {
	return func(s *Session) { s.updates = make(chan Update, n) }
}

// WithCommandHook registers fn to be called for every intercepted command.
func WithCommandHook(fn func(lang string, cmd voicecmd.Command)) Option {
	return func(s *Session) { s.onCommand = fn }
}

// WithTransitionHook registers fn to be called on every status change,
// including the transient Stopped. fn runs under the session lock and must
// not call back into the Session.
func WithTransitionHook(fn func(from, to Status)) Option {
	return func(s *Session) { s.onTransition = fn }
}

// Session is one reader's recognition session.
//
// All methods are safe for concurrent use.
type Session struct {
	rec          Recognizer
	cmds         CommandMatcher
	updates      chan Update
	onCommand    func(string, voicecmd.Command)
	onTransition func(from, to Status)

	mu         sync.Mutex
	status     Status
	lang       string
	transcript TranscriptState
	events     <-chan recognition.Event
}

// New returns a Ready session driving rec. A nil cmds uses the default
// vocabulary.
func New(rec Recognizer, cmds CommandMatcher, opts ...Option) *Session {
	s := &Session{
		rec:     rec,
		cmds:    cmds,
		updates: make(chan Update, 128),
		lang:    "it",
	}
	for _, o := range opts {
		o(s)
	}
	if s.cmds == nil {
		s.cmds = voicecmd.NewMatcher(nil)
	}
	return s
}

// Updates returns the channel of presentation updates. There is one channel
// per session; updates are dropped rather than blocking the session when the
// consumer falls behind.
func (s *Session) Updates() <-chan Update { return s.updates }

// Start begins listening. It is a no-op while already listening; from Paused
// it resumes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// Resume restarts listening after a pause. It has no effect unless Paused.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Paused {
		return nil
	}
	return s.startLocked(ctx)
}

// Pause soft-stops recognition and commits the interim hypothesis. It has no
// effect unless Listening.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseLocked()
}

// Stop hard-stops recognition, commits the interim hypothesis and returns
// to Ready with the transcript kept for saving. It is always legal.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Clear empties the transcript. It is refused while listening.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Listening {
		s.notifyLocked(NoticeWarning, textStopFirst)
		return ErrListening
	}
	s.transcript = TranscriptState{}
	s.emitTranscriptLocked("")
	s.emitStatusLocked(s.status)
	s.notifyLocked(NoticeInfo, textCleared)
	return nil
}

// Restore replaces an empty, idle transcript with text. It reports whether
// the text was applied. Used to recover an autosaved draft.
func (s *Session) Restore(text string) bool {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" || s.status == Listening || s.transcript.Committed != "" {
		return false
	}
	s.transcript = TranscriptState{Committed: text + " "}
	s.emitTranscriptLocked("")
	return true
}

// SetLanguage switches the command vocabulary, status texts and recognition
// language.
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	s.lang = shortLang(lang)
	s.mu.Unlock()
	s.rec.SetLanguage(lang)
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns the committed text without the trailing separator.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.transcript.Committed)
}

// WordCount returns the number of whitespace-delimited words committed.
func (s *Session) WordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countWords(s.transcript.Committed)
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:     s.status,
		StatusText: s.statusTextLocked(s.status),
		Language:   s.lang,
		Transcript: s.transcript,
		WordCount:  countWords(s.transcript.Committed),
	}
}

// HandleEvent applies one recognition event. Events that arrive while the
// session is not listening are dropped.
func (s *Session) HandleEvent(ev recognition.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleLocked(ev)
}

func (s *Session) handleLocked(ev recognition.Event) {
	if s.status != Listening {
		return
	}

	switch ev.Kind {
	case recognition.EventError:
		msg := "recognition error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.send(Update{Kind: UpdateDiagnostic, Diagnostic: msg})
		return

	case recognition.EventEnd:
		slog.Info("session: recognition ended while listening")
		s.send(Update{Kind: UpdateDiagnostic, Diagnostic: "recognition ended"})
		return
	}

	// Observational only; sent for commands too.
	s.send(Update{Kind: UpdateConfidence, Confidence: ev.Confidence, Level: activityLevel(ev.Confidence)})

	if !ev.IsFinal {
		s.transcript.Interim = ev.Text
		s.emitTranscriptLocked("")
		return
	}

	text := ev.Text
	if cmd, ok := s.cmds.Match(s.lang, text); ok {
		// The final supersedes whatever hypothesis led up to the command word.
		s.transcript.Interim = ""
		s.applyCommandLocked(cmd)
		return
	}
	if stripped, ok := s.cmds.StripEscape(text); ok {
		text = stripped
	}
	s.commitLocked(text)
}

func (s *Session) applyCommandLocked(cmd voicecmd.Command) {
	slog.Info("session: voice command", "command", cmd.String(), "language", s.lang)
	if s.onCommand != nil {
		s.onCommand(s.lang, cmd)
	}
	switch cmd {
	case voicecmd.Pause:
		s.pauseLocked()
	case voicecmd.Stop:
		s.stopLocked()
	case voicecmd.Resume:
		// Already listening: resume has nothing to do.
	}
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.status == Listening {
		return nil
	}
	ch, err := s.rec.StartListening(ctx)
	if err != nil {
		return fmt.Errorf("session: start: %w", err)
	}
	from := s.status
	s.status = Listening
	if ch != s.events {
		s.events = ch
		go s.pump(ch)
	}
	s.transitionLocked(from, Listening)
	s.emitStatusLocked(Listening)
	return nil
}

func (s *Session) pauseLocked() {
	if s.status != Listening {
		return
	}
	s.rec.Pause()
	s.status = Paused
	s.transitionLocked(Listening, Paused)
	s.commitInterimLocked()
	s.emitStatusLocked(Paused)
	s.notifyLocked(NoticeInfo, textPausedSaved)
}

func (s *Session) stopLocked() {
	s.rec.Stop()
	s.events = nil
	from := s.status
	s.status = Ready
	s.transitionLocked(from, Stopped)
	s.transitionLocked(Stopped, Ready)
	s.commitInterimLocked()
	s.emitStatusLocked(Stopped)
	s.emitStatusLocked(Ready)
	s.notifyLocked(NoticeSuccess, textCompleted)
}

func (s *Session) transitionLocked(from, to Status) {
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}

// commitInterimLocked moves a non-empty interim hypothesis into the
// committed text exactly once.
func (s *Session) commitInterimLocked() {
	if s.transcript.Interim == "" {
		return
	}
	text := s.transcript.Interim
	s.transcript.Interim = ""
	s.commitLocked(text)
}

func (s *Session) commitLocked(text string) {
	s.transcript.Committed += text + " "
	s.transcript.Interim = ""
	s.emitTranscriptLocked(text)
}

// pump applies events from ch until the recognizer closes it.
func (s *Session) pump(ch <-chan recognition.Event) {
	for ev := range ch {
		s.mu.Lock()
		if s.events == ch {
			s.handleLocked(ev)
		}
		s.mu.Unlock()
	}
}

func countWords(text string) int { return len(strings.Fields(text)) }

// activityLevel maps a confidence score to the voice-activity indicator.
func activityLevel(conf float64) float64 {
	return min(conf*1.5, 1)
}

func shortLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return "it"
	}
	return lang
}
