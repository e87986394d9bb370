package session

import (
	"context"
	"errors"
	"testing"
	"time"

	kvmock "github.com/MrWong99/voxnode/pkg/kv/mock"
)

func TestAutosaver_SaveNow(t *testing.T) {
	t.Parallel()

	t.Run("writes changed transcript once", func(t *testing.T) {
		t.Parallel()
		store := kvmock.New()
		s, _ := listening(t)
		s.HandleEvent(final("da salvare"))
		a := NewAutosaver(AutosaverConfig{Store: store, Session: s})

		if err := a.SaveNow(context.Background()); err != nil {
			t.Fatalf("SaveNow: %v", err)
		}
		if v, _ := store.Value(DraftKey); v != "da salvare" {
			t.Errorf("draft = %q", v)
		}
		_ = a.SaveNow(context.Background())
		if got := store.CallCount("Set"); got != 1 {
			t.Errorf("Set called %d times, want 1", got)
		}
	})

	t.Run("cleared transcript deletes draft", func(t *testing.T) {
		t.Parallel()
		store := kvmock.New()
		s, _ := listening(t)
		s.HandleEvent(final("temporaneo"))
		a := NewAutosaver(AutosaverConfig{Store: store, Session: s})
		_ = a.SaveNow(context.Background())

		s.Stop()
		_ = s.Clear()
		if err := a.SaveNow(context.Background()); err != nil {
			t.Fatalf("SaveNow: %v", err)
		}
		if _, ok := store.Value(DraftKey); ok {
			t.Error("draft still present after clear")
		}
	})

	t.Run("store failure is retried next time", func(t *testing.T) {
		t.Parallel()
		store := kvmock.New()
		store.SetErr = errors.New("disk full")
		s, _ := listening(t)
		s.HandleEvent(final("importante"))
		a := NewAutosaver(AutosaverConfig{Store: store, Session: s})

		if err := a.SaveNow(context.Background()); err == nil {
			t.Fatal("SaveNow: want error")
		}
		store.SetErr = nil
		if err := a.SaveNow(context.Background()); err != nil {
			t.Fatalf("retry: %v", err)
		}
		if v, _ := store.Value(DraftKey); v != "importante" {
			t.Errorf("draft = %q", v)
		}
	})
}

func TestAutosaver_Restore(t *testing.T) {
	t.Parallel()
	store := kvmock.New()
	store.Seed(DraftKey, "lettura interrotta")
	s := New(&fakeRecognizer{}, nil)
	a := NewAutosaver(AutosaverConfig{Store: store, Session: s})

	ok, err := a.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("Restore = (%v, %v)", ok, err)
	}
	if s.Transcript() != "lettura interrotta" {
		t.Errorf("transcript = %q", s.Transcript())
	}
	_ = a.SaveNow(context.Background())
	if store.CallCount("Set") != 0 {
		t.Error("unchanged restored draft was rewritten")
	}
}

func TestAutosaver_RunSavesOnStop(t *testing.T) {
	t.Parallel()
	store := kvmock.New()
	s, _ := listening(t)
	s.HandleEvent(final("prima di uscire"))
	a := NewAutosaver(AutosaverConfig{Store: store, Session: s, Interval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	a.Stop()
	a.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if v, _ := store.Value(DraftKey); v != "prima di uscire" {
		t.Errorf("draft = %q", v)
	}
}
