package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxnode/pkg/kv"
	"github.com/MrWong99/voxnode/pkg/kv/kvtest"
	"github.com/MrWong99/voxnode/pkg/kv/memory"
)

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	kvtest.Run(t, func(t *testing.T) kv.Store { return memory.New() })
}

func TestStore_Closed(t *testing.T) {
	t.Parallel()
	s := memory.New()
	_ = s.Close()
	if err := s.Set(context.Background(), "k", "v"); !errors.Is(err, kv.ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
}
