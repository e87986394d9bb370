// Package kvtest holds a conformance suite shared by every [kv.Store] backend.
package kvtest

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/voxnode/pkg/kv"
)

// Run exercises the [kv.Store] contract against stores produced by open.
// open is called once per subtest and must return an empty store.
func Run(t *testing.T, open func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := open(t)
		v, ok, err := s.Get(ctx, "absent")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok || v != "" {
			t.Errorf("Get(absent) = (%q, %v), want (\"\", false)", v, ok)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		s := open(t)
		want := `[{"id":"a","name":"Libro"}]` + "\n" + strings.Repeat("è", 64)
		if err := s.Set(ctx, "k", want); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, ok, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok || got != want {
			t.Errorf("Get(k) = (%q, %v), want (%q, true)", got, ok, want)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, "k", "one"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "k", "two"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, _, _ := s.Get(ctx, "k")
		if got != "two" {
			t.Errorf("Get(k) = %q, want %q", got, "two")
		}
	})

	t.Run("empty value is present", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, "k", ""); err != nil {
			t.Fatalf("Set: %v", err)
		}
		_, ok, err := s.Get(ctx, "k")
		if err != nil || !ok {
			t.Errorf("Get(k) ok=%v err=%v, want ok=true", ok, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		if err := s.Set(ctx, "k", "v"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "k"); ok {
			t.Error("key still present after Delete")
		}
		if err := s.Delete(ctx, "never-set"); err != nil {
			t.Errorf("Delete(missing) = %v, want nil", err)
		}
	})
}
