package recognition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxnode/internal/recognition"
	"github.com/MrWong99/voxnode/internal/recognition/mock"
)

func recv(t *testing.T, ch <-chan recognition.Event) recognition.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return recognition.Event{}
}

func expectNone(t *testing.T, ch <-chan recognition.Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitialize_Errors(t *testing.T) {
	t.Parallel()

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()
		a := recognition.NewAdapter(nil)
		if err := a.Initialize(context.Background()); !errors.Is(err, recognition.ErrUnsupported) {
			t.Errorf("Initialize = %v, want ErrUnsupported", err)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		t.Parallel()
		eng := mock.NewEngine()
		eng.Unavailable = true
		a := recognition.NewAdapter(eng)
		if _, err := a.StartListening(context.Background()); !errors.Is(err, recognition.ErrUnsupported) {
			t.Errorf("StartListening = %v, want ErrUnsupported", err)
		}
	})

	t.Run("permission refused", func(t *testing.T) {
		t.Parallel()
		eng := mock.NewEngine()
		eng.PermissionErr = errors.New("device busy")
		a := recognition.NewAdapter(eng)
		if err := a.Initialize(context.Background()); !errors.Is(err, recognition.ErrPermissionDenied) {
			t.Errorf("Initialize = %v, want ErrPermissionDenied", err)
		}
	})
}

func TestInitialize_Once(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	for range 3 {
		if err := a.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if got := eng.PermissionCalls(); got != 1 {
		t.Errorf("permission requested %d times, want 1", got)
	}
}

func TestStartListening_ForwardsInOrder(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng, recognition.WithLanguage("it"))

	ch, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	calls := eng.StartCalls()
	if len(calls) != 1 {
		t.Fatalf("Start called %d times, want 1", len(calls))
	}
	if c := calls[0]; c.Language != "it-IT" || !c.Continuous || !c.InterimResults {
		t.Errorf("engine config = %+v, want continuous interim it-IT", c)
	}

	eng.Emit(recognition.EngineEvent{Kind: recognition.EngineResult, Segments: []recognition.Segment{
		{Text: "nel mezzo"},
		{Text: "nel mezzo del cammin", IsFinal: true, Confidence: 0.93},
	}})

	first := recv(t, ch)
	if first.IsFinal || first.Text != "nel mezzo" || first.Confidence != recognition.DefaultFinalConfidence {
		t.Errorf("first = %+v, want interim with default confidence", first)
	}
	second := recv(t, ch)
	if !second.IsFinal || second.Text != "nel mezzo del cammin" || second.Confidence != 0.93 {
		t.Errorf("second = %+v, want final with reported confidence", second)
	}
}

func TestNaturalEnd_PromotesInterim(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	ch, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	eng.Interim("hello wor")
	recv(t, ch)
	eng.End()

	forced := recv(t, ch)
	if !forced.IsFinal || !forced.Forced || forced.Text != "hello wor" || forced.Confidence != recognition.ForcedFinalConfidence {
		t.Errorf("forced = %+v, want forced final 'hello wor' at 0.7", forced)
	}
	if end := recv(t, ch); end.Kind != recognition.EventEnd {
		t.Errorf("after forced final got %+v, want EventEnd", end)
	}
}

func TestNaturalEnd_NothingBuffered(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	ch, _ := a.StartListening(context.Background())

	eng.Interim("hello wor")
	eng.Final("hello world", 0)
	recv(t, ch)
	recv(t, ch)
	eng.End()

	if ev := recv(t, ch); ev.Kind != recognition.EventEnd {
		t.Errorf("got %+v, want only EventEnd", ev)
	}
}

func TestPause_KeepsSubscriberAndDropsBuffer(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	ch, _ := a.StartListening(context.Background())

	eng.Interim("in sospeso")
	recv(t, ch)

	a.Pause()
	if eng.StopCalls() != 1 {
		t.Errorf("engine stopped %d times, want 1", eng.StopCalls())
	}
	// The EngineEnd produced by the requested stop must not promote interim text.
	expectNone(t, ch)

	ch2, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ch2 != ch {
		t.Error("resume returned a different channel")
	}
	eng.End()
	if ev := recv(t, ch); ev.Kind != recognition.EventEnd {
		t.Errorf("after resume got %+v, want EventEnd without stale forced final", ev)
	}
}

func TestStop_ClosesSubscriberAndDropsLateEvents(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	ch, _ := a.StartListening(context.Background())

	eng.Interim("ultima")
	recv(t, ch)
	a.Stop()
	eng.Final("troppo tardi", 0.9)

	for ev := range ch {
		if ev.Text == "troppo tardi" || ev.Forced {
			t.Errorf("late event delivered after Stop: %+v", ev)
		}
	}

	ch2, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if ch2 == ch {
		t.Error("StartListening after Stop reused the closed channel")
	}
	a.Stop()
}

func TestStartListening_AlreadyStartedRestarts(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	eng.StartErrs = []error{recognition.ErrAlreadyStarted}
	a := recognition.NewAdapter(eng, recognition.WithRestartDelay(10*time.Millisecond))

	ch, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("StartListening = %v, want nil", err)
	}
	waitFor(t, func() bool { return len(eng.StartCalls()) == 2 })
	if eng.StopCalls() != 1 {
		t.Errorf("engine stopped %d times, want 1", eng.StopCalls())
	}
	if !eng.Running() {
		t.Error("engine not running after restart")
	}
	// The stop half of the restart is not a natural end.
	expectNone(t, ch)
}

func TestStartListening_OtherStartErrorPropagates(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	boom := errors.New("no microphone")
	eng.StartErrs = []error{boom}
	a := recognition.NewAdapter(eng)

	if _, err := a.StartListening(context.Background()); !errors.Is(err, boom) {
		t.Errorf("StartListening = %v, want wrapped %v", err, boom)
	}
}

func TestEngineError_IsDiagnostic(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	ch, _ := a.StartListening(context.Background())

	eng.Fail(errors.New("network"))
	ev := recv(t, ch)
	if ev.Kind != recognition.EventError || ev.Err == nil {
		t.Errorf("got %+v, want EventError", ev)
	}
	eng.Final("ancora qui", 0.9)
	if ev := recv(t, ch); ev.Text != "ancora qui" {
		t.Errorf("recognition did not continue after error: %+v", ev)
	}
}

func TestAutoRestart(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng,
		recognition.WithAutoRestart(true),
		recognition.WithRestartDelay(5*time.Millisecond),
	)
	ch, _ := a.StartListening(context.Background())

	eng.End()
	recv(t, ch)
	waitFor(t, func() bool { return len(eng.StartCalls()) == 2 })
}

func TestEventHook(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	seen := make(chan recognition.Event, 4)
	a := recognition.NewAdapter(eng, recognition.WithEventHook(func(ev recognition.Event) { seen <- ev }))
	ch, _ := a.StartListening(context.Background())

	eng.Final("ciao", 0.5)
	recv(t, ch)
	select {
	case ev := <-seen:
		if ev.Text != "ciao" {
			t.Errorf("hook saw %+v", ev)
		}
	default:
		t.Error("hook not called before delivery")
	}
}

func TestLanguageTag(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"it":    "it-IT",
		"IT":    "it-IT",
		"en":    "en-US",
		"de":    "en-US",
		"":      "en-US",
		"en-GB": "en-GB",
		"pt_BR": "pt-BR",
	}
	for in, want := range tests {
		if got := recognition.LanguageTag(in); got != want {
			t.Errorf("LanguageTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetLanguage_AppliesOnNextStart(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng)
	if _, err := a.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	a.Pause()
	a.SetLanguage("en")
	if len(eng.StartCalls()) != 1 || eng.StopCalls() != 1 {
		t.Fatalf("paused language change touched the engine: starts=%d stops=%d", len(eng.StartCalls()), eng.StopCalls())
	}
	if _, err := a.StartListening(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	calls := eng.StartCalls()
	if got := calls[len(calls)-1].Language; got != "en-US" {
		t.Errorf("language on resume = %q, want en-US", got)
	}
}

func TestSetLanguage_WhileListeningRestartsEngine(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	a := recognition.NewAdapter(eng, recognition.WithRestartDelay(time.Millisecond))
	ch, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if got := eng.StartCalls()[0].Language; got != "it-IT" {
		t.Fatalf("initial language = %q, want it-IT", got)
	}

	a.SetLanguage("en")
	waitFor(t, func() bool { return len(eng.StartCalls()) == 2 })
	if got := eng.StartCalls()[1].Language; got != "en-US" {
		t.Errorf("language after switch = %q, want en-US", got)
	}
	if eng.StopCalls() != 1 {
		t.Errorf("engine stopped %d times, want 1", eng.StopCalls())
	}
	// The restart is not a natural end.
	expectNone(t, ch)

	a.SetLanguage("en-US")
	time.Sleep(20 * time.Millisecond)
	if len(eng.StartCalls()) != 2 || eng.StopCalls() != 1 {
		t.Errorf("unchanged language restarted the engine: starts=%d stops=%d", len(eng.StartCalls()), eng.StopCalls())
	}

	eng.Final("hello", 0.8)
	if ev := recv(t, ch); ev.Text != "hello" {
		t.Errorf("got %+v after the switch, want the new final", ev)
	}
}

func TestPauseDuringRestart_ResumeStillSeesNaturalEnd(t *testing.T) {
	t.Parallel()
	eng := mock.NewEngine()
	eng.EmitEndOnStop = false
	eng.StartErrs = []error{recognition.ErrAlreadyStarted}
	a := recognition.NewAdapter(eng, recognition.WithRestartDelay(time.Hour))

	ch, err := a.StartListening(context.Background())
	if err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	a.Pause()
	// The End of the restart's stop arrives while paused.
	eng.End()
	eng.Fail(errors.New("sync"))
	if ev := recv(t, ch); ev.Kind != recognition.EventError {
		t.Fatalf("got %+v, want the sync error", ev)
	}

	if _, err := a.StartListening(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	eng.End()
	if ev := recv(t, ch); ev.Kind != recognition.EventEnd {
		t.Errorf("got %+v, want EventEnd for the natural end after resume", ev)
	}
}
