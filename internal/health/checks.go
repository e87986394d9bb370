package health

import (
	"context"
	"errors"

	"github.com/MrWong99/voxnode/pkg/kv"
)

// probeKey is read by [Store]. It never needs to exist.
const probeKey = "voxnode_health_probe"

// ErrUnavailable is reported by [Available] when the capability is missing.
var ErrUnavailable = errors.New("health: unavailable")

// Store returns a Checker that performs one read against s.
func Store(name string, s kv.Store) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			_, _, err := s.Get(ctx, probeKey)
			return err
		},
	}
}

// Available returns a Checker that fails with [ErrUnavailable] while ok
// reports false.
func Available(name string, ok func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ok() {
				return ErrUnavailable
			}
			return nil
		},
	}
}
