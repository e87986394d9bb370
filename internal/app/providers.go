package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxnode/internal/config"
	"github.com/MrWong99/voxnode/pkg/kv"
	kvfile "github.com/MrWong99/voxnode/pkg/kv/file"
	kvmemory "github.com/MrWong99/voxnode/pkg/kv/memory"
	kvpostgres "github.com/MrWong99/voxnode/pkg/kv/postgres"
	kvsqlite "github.com/MrWong99/voxnode/pkg/kv/sqlite"
	"github.com/MrWong99/voxnode/pkg/provider/stt"
	"github.com/MrWong99/voxnode/pkg/provider/stt/deepgram"
)

// builtinProviders lists the implementations registered by
// [RegisterBuiltins]. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":     {"deepgram"},
	"storage": {"memory", "file", "sqlite", "postgres"},
}

// RegisterBuiltins wires the built-in speech provider and storage backends
// into reg.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		// Voice commands match whole phrases exactly, so transcripts must
		// come without punctuation unless the config asks for it.
		opts = append(opts, deepgram.WithPunctuate(optBool(entry.Options, "punctuate")))
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterStorage(config.StorageMemory, func(context.Context, config.StorageConfig) (kv.Store, error) {
		return kvmemory.New(), nil
	})
	reg.RegisterStorage(config.StorageFile, func(_ context.Context, c config.StorageConfig) (kv.Store, error) {
		return kvfile.Open(c.Path)
	})
	reg.RegisterStorage(config.StorageSQLite, func(ctx context.Context, c config.StorageConfig) (kv.Store, error) {
		return kvsqlite.Open(ctx, c.Path)
	})
	reg.RegisterStorage(config.StoragePostgres, func(ctx context.Context, c config.StorageConfig) (kv.Store, error) {
		return kvpostgres.Open(ctx, c.DSN)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// optInt extracts an integer from a provider Options map. YAML decodes
// whole numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optBool extracts a boolean from a provider Options map. Missing or
// non-boolean values report false.
func optBool(opts map[string]any, key string) bool {
	v, _ := opts[key].(bool)
	return v
}
