package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxnode/internal/recognition"
	"github.com/MrWong99/voxnode/internal/voicecmd"
)

// fakeRecognizer mimics the adapter's channel lifecycle: one channel per
// start..stop, kept across pauses, closed by Stop.
type fakeRecognizer struct {
	mu       sync.Mutex
	ch       chan recognition.Event
	startErr error
	starts   int
	pauses   int
	stops    int
	lang     string
}

func (f *fakeRecognizer) StartListening(context.Context) (<-chan recognition.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.ch == nil {
		f.ch = make(chan recognition.Event, 16)
	}
	return f.ch, nil
}

func (f *fakeRecognizer) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeRecognizer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.ch != nil {
		close(f.ch)
		f.ch = nil
	}
}

func (f *fakeRecognizer) SetLanguage(lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lang = lang
}

func (f *fakeRecognizer) push(ev recognition.Event) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- ev
}

func interim(text string) recognition.Event {
	return recognition.Event{Kind: recognition.EventResult, Text: text, Confidence: 0.6}
}

func final(text string) recognition.Event {
	return recognition.Event{Kind: recognition.EventResult, Text: text, IsFinal: true, Confidence: 0.9}
}

// listening returns a session already in Listening.
func listening(t *testing.T, opts ...Option) (*Session, *fakeRecognizer) {
	t.Helper()
	rec := &fakeRecognizer{}
	s := New(rec, nil, opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, rec
}

func drain(s *Session) []Update {
	var out []Update
	for {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestFinals_ConcatenateInOrder(t *testing.T) {
	t.Parallel()

	tests := [][]string{
		{"uno"},
		{"nel mezzo del cammin", "di nostra vita", "mi ritrovai"},
		{"a", "b", "c", "d", "e"},
	}
	for _, finals := range tests {
		s, _ := listening(t)
		for _, f := range finals {
			s.HandleEvent(final(f))
		}
		want := strings.Join(finals, " ") + " "
		if got := s.Snapshot().Transcript.Committed; got != want {
			t.Errorf("committed = %q, want %q", got, want)
		}
	}
}

func TestInterimThenFinal(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)

	s.HandleEvent(interim("hello wor"))
	if got := s.Snapshot().Transcript; got.Interim != "hello wor" || got.Committed != "" {
		t.Fatalf("after interim: %+v", got)
	}
	s.HandleEvent(final("hello world"))

	got := s.Snapshot().Transcript
	if got.Committed != "hello world " || got.Interim != "" {
		t.Errorf("transcript = %+v, want committed %q and no interim", got, "hello world ")
	}
}

func TestInterimIsReplacedNotAppended(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	s.HandleEvent(interim("c'era"))
	s.HandleEvent(interim("c'era una"))
	s.HandleEvent(interim("c'era una volta"))
	if got := s.Snapshot().Transcript.Interim; got != "c'era una volta" {
		t.Errorf("interim = %q", got)
	}
}

func TestPause_CommitsInterimOnce(t *testing.T) {
	t.Parallel()
	s, rec := listening(t)
	s.HandleEvent(final("prima frase"))
	s.HandleEvent(interim("seconda fra"))

	s.Pause()
	s.Pause()

	snap := s.Snapshot()
	if snap.Status != Paused {
		t.Errorf("status = %v, want paused", snap.Status)
	}
	if snap.Transcript.Committed != "prima frase seconda fra " || snap.Transcript.Interim != "" {
		t.Errorf("transcript = %+v", snap.Transcript)
	}
	if rec.pauses != 1 {
		t.Errorf("recognizer paused %d times, want 1", rec.pauses)
	}
}

func TestStop_CommitsInterimAndReturnsToReady(t *testing.T) {
	t.Parallel()
	s, rec := listening(t)
	s.HandleEvent(interim("ultima parola"))

	s.Stop()

	snap := s.Snapshot()
	if snap.Status != Ready {
		t.Errorf("status = %v, want ready", snap.Status)
	}
	if snap.Transcript.Committed != "ultima parola " || snap.Transcript.Interim != "" {
		t.Errorf("transcript = %+v", snap.Transcript)
	}
	if snap.StatusText != "Completato" {
		t.Errorf("status text = %q, want Completato", snap.StatusText)
	}
	if rec.stops != 1 {
		t.Errorf("recognizer stopped %d times, want 1", rec.stops)
	}
}

func TestStop_FromPausedAndReady(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	s.Pause()
	s.Stop()
	if st := s.Status(); st != Ready {
		t.Errorf("stop from paused: status = %v", st)
	}
	s.Stop()
	if st := s.Status(); st != Ready {
		t.Errorf("stop from ready: status = %v", st)
	}
}

func TestStop_EmitsStoppedThenReady(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	drain(s)
	s.Stop()

	var statuses []Status
	for _, u := range drain(s) {
		if u.Kind == UpdateStatus {
			statuses = append(statuses, u.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != Stopped || statuses[1] != Ready {
		t.Errorf("status updates = %v, want [stopped ready]", statuses)
	}
}

func TestTransitionHook(t *testing.T) {
	t.Parallel()
	var got []string
	s, _ := listening(t, WithTransitionHook(func(from, to Status) {
		got = append(got, from.String()+">"+to.String())
	}))
	s.Pause()
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	s.Stop()

	want := "ready>listening listening>paused paused>listening listening>stopped stopped>ready"
	if strings.Join(got, " ") != want {
		t.Errorf("transitions = %q, want %q", strings.Join(got, " "), want)
	}
}

func TestVoiceCommands(t *testing.T) {
	t.Parallel()

	t.Run("pausa pauses without committing", func(t *testing.T) {
		t.Parallel()
		s, _ := listening(t, WithLanguage("it"))
		s.HandleEvent(final("capitolo uno"))
		s.HandleEvent(final("pausa"))

		snap := s.Snapshot()
		if snap.Status != Paused {
			t.Errorf("status = %v, want paused", snap.Status)
		}
		if snap.Transcript.Committed != "capitolo uno " {
			t.Errorf("committed = %q, command word leaked", snap.Transcript.Committed)
		}
	})

	t.Run("command after matching interim", func(t *testing.T) {
		t.Parallel()
		s, _ := listening(t, WithLanguage("it"))
		s.HandleEvent(interim("pausa"))
		s.HandleEvent(final("  PAUSA "))

		snap := s.Snapshot()
		if snap.Status != Paused || snap.Transcript.Committed != "" || snap.Transcript.Interim != "" {
			t.Errorf("snapshot = %+v, want paused with empty transcript", snap)
		}
	})

	t.Run("stop command", func(t *testing.T) {
		t.Parallel()
		s, _ := listening(t, WithLanguage("it"))
		s.HandleEvent(final("termina"))
		if st := s.Status(); st != Ready {
			t.Errorf("status = %v, want ready", st)
		}
		if got := s.Transcript(); got != "" {
			t.Errorf("transcript = %q", got)
		}
	})

	t.Run("resume while listening is a no-op", func(t *testing.T) {
		t.Parallel()
		s, rec := listening(t, WithLanguage("en"))
		s.HandleEvent(final("continue"))
		if st := s.Status(); st != Listening {
			t.Errorf("status = %v, want listening", st)
		}
		if s.Transcript() != "" || rec.starts != 1 {
			t.Errorf("transcript %q starts %d", s.Transcript(), rec.starts)
		}
	})

	t.Run("not a command in the other language", func(t *testing.T) {
		t.Parallel()
		s, _ := listening(t, WithLanguage("en"))
		s.HandleEvent(final("pausa"))
		if s.Status() != Listening || s.Transcript() != "pausa" {
			t.Errorf("status %v transcript %q", s.Status(), s.Transcript())
		}
	})

	t.Run("phrase containing a command word is text", func(t *testing.T) {
		t.Parallel()
		s, _ := listening(t, WithLanguage("it"))
		s.HandleEvent(final("stop alla guerra"))
		if s.Status() != Listening || s.Transcript() != "stop alla guerra" {
			t.Errorf("status %v transcript %q", s.Status(), s.Transcript())
		}
	})

	t.Run("hook sees command", func(t *testing.T) {
		t.Parallel()
		var got voicecmd.Command
		s, _ := listening(t, WithLanguage("it"), WithCommandHook(func(_ string, c voicecmd.Command) { got = c }))
		s.HandleEvent(final("pausa"))
		if got != voicecmd.Pause {
			t.Errorf("hook command = %v", got)
		}
	})
}

func TestEscapePrefix(t *testing.T) {
	t.Parallel()
	rec := &fakeRecognizer{}
	s := New(rec, voicecmd.NewMatcher(nil, voicecmd.WithEscapePrefix("letterale")), WithLanguage("it"))
	_ = s.Start(context.Background())

	s.HandleEvent(final("letterale stop"))
	if s.Status() != Listening || s.Transcript() != "stop" {
		t.Errorf("status %v transcript %q, want listening with %q", s.Status(), s.Transcript(), "stop")
	}
}

func TestConfidenceForwardedForCommands(t *testing.T) {
	t.Parallel()
	s, _ := listening(t, WithLanguage("it"))
	drain(s)
	s.HandleEvent(final("pausa"))

	var conf *Update
	for _, u := range drain(s) {
		if u.Kind == UpdateConfidence {
			conf = &u
			break
		}
	}
	if conf == nil {
		t.Fatal("no confidence update for command event")
	}
	if conf.Confidence != 0.9 || conf.Level != 1 {
		t.Errorf("confidence update = %+v, want 0.9 / level 1", conf)
	}
}

func TestResume(t *testing.T) {
	t.Parallel()
	rec := &fakeRecognizer{}
	s := New(rec, nil)

	if err := s.Resume(context.Background()); err != nil || s.Status() != Ready || rec.starts != 0 {
		t.Fatalf("resume from ready: err %v status %v starts %d", err, s.Status(), rec.starts)
	}
	_ = s.Start(context.Background())
	_ = s.Start(context.Background())
	if rec.starts != 1 {
		t.Errorf("start while listening called recognizer again (%d)", rec.starts)
	}
	s.Pause()
	if err := s.Resume(context.Background()); err != nil || s.Status() != Listening {
		t.Errorf("resume from paused: err %v status %v", err, s.Status())
	}
}

func TestStart_Error(t *testing.T) {
	t.Parallel()
	rec := &fakeRecognizer{startErr: recognition.ErrPermissionDenied}
	s := New(rec, nil)
	if err := s.Start(context.Background()); !errors.Is(err, recognition.ErrPermissionDenied) {
		t.Errorf("Start = %v, want ErrPermissionDenied", err)
	}
	if s.Status() != Ready {
		t.Errorf("status = %v after failed start", s.Status())
	}
}

func TestEventsIgnoredWhenNotListening(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	s.Pause()
	s.HandleEvent(final("dopo la pausa"))
	s.Stop()
	s.HandleEvent(final("dopo lo stop"))
	if got := s.Transcript(); got != "" {
		t.Errorf("transcript = %q, want empty", got)
	}
}

func TestErrorsDoNotTouchTranscript(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	s.HandleEvent(final("testo"))
	s.HandleEvent(recognition.Event{Kind: recognition.EventError, Err: errors.New("network")})
	s.HandleEvent(recognition.Event{Kind: recognition.EventEnd})
	if s.Status() != Listening || s.Transcript() != "testo" {
		t.Errorf("status %v transcript %q", s.Status(), s.Transcript())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	s, _ := listening(t)
	s.HandleEvent(final("da cancellare"))

	if err := s.Clear(); !errors.Is(err, ErrListening) {
		t.Errorf("Clear while listening = %v, want ErrListening", err)
	}
	s.Pause()
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear while paused: %v", err)
	}
	if snap := s.Snapshot(); snap.Transcript != (TranscriptState{}) || snap.WordCount != 0 {
		t.Errorf("snapshot after clear = %+v", snap)
	}
}

func TestPump_AppliesChannelEvents(t *testing.T) {
	t.Parallel()
	s, rec := listening(t)
	rec.push(interim("dal canale"))
	rec.push(final("dal canale"))

	deadline := time.Now().Add(2 * time.Second)
	for s.Transcript() != "dal canale" {
		if time.Now().After(deadline) {
			t.Fatalf("transcript = %q", s.Transcript())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.WordCount() != 2 {
		t.Errorf("word count = %d, want 2", s.WordCount())
	}
}

func TestPump_FollowsNewChannelAfterStop(t *testing.T) {
	t.Parallel()
	s, rec := listening(t)
	waitTranscript := func(want string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for s.Transcript() != want {
			if time.Now().After(deadline) {
				t.Fatalf("transcript = %q, want %q", s.Transcript(), want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	rec.push(final("primo"))
	waitTranscript("primo")

	s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rec.push(final("secondo"))
	waitTranscript("primo secondo")
}

func TestSetLanguage(t *testing.T) {
	t.Parallel()
	s, rec := listening(t, WithLanguage("it"))
	s.SetLanguage("en-US")
	if rec.lang != "en-US" {
		t.Errorf("recognizer language = %q", rec.lang)
	}
	snap := s.Snapshot()
	if snap.Language != "en" || snap.StatusText != "Listening..." {
		t.Errorf("snapshot = %+v", snap)
	}
	s.HandleEvent(final("pause"))
	if s.Status() != Paused {
		t.Errorf("english pause not recognised: %v", s.Status())
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	s := New(&fakeRecognizer{}, nil)
	if !s.Restore("bozza salvata") {
		t.Fatal("Restore on empty session returned false")
	}
	if s.Restore("altro") {
		t.Error("Restore overwrote an existing transcript")
	}
	if got := s.Transcript(); got != "bozza salvata" {
		t.Errorf("transcript = %q", got)
	}
}
