// Package config provides the configuration schema, loader, provider registry,
// and file watcher for the voxnode reading assistant.
package config

import (
	"time"

	"github.com/MrWong99/voxnode/internal/chat"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StorageBackend selects the key-value store behind notebooks and drafts.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageFile     StorageBackend = "file"
	StorageSQLite   StorageBackend = "sqlite"
	StoragePostgres StorageBackend = "postgres"
)

// IsValid reports whether b is a recognised storage backend.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageMemory, StorageFile, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Commands    CommandsConfig    `yaml:"commands"`
	Chat        chat.Config       `yaml:"chat"`
	Storage     StorageConfig     `yaml:"storage"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RecognitionConfig configures the speech recognition side.
type RecognitionConfig struct {
	// Language is "it" or "en", or a full tag such as "en-GB".
	Language string `yaml:"language"`

	// RestartDelay separates stop and start when the engine reports it is
	// already running.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// AutoRestart restarts the engine when it ends on its own while
	// listening instead of returning the session to Ready.
	AutoRestart bool `yaml:"auto_restart"`

	// Engine selects the streaming speech provider registered in the
	// [Registry]. An empty name leaves recognition unavailable.
	Engine ProviderEntry `yaml:"engine"`

	// Audio describes the raw PCM source fed to the engine.
	Audio AudioConfig `yaml:"audio"`

	// Keywords are recognition hints for uncommon words such as author or
	// character names.
	Keywords []string `yaml:"keywords"`
}

// AudioConfig describes a raw 16-bit PCM audio source.
type AudioConfig struct {
	// Source is a file path, or "-" for stdin.
	Source     string `yaml:"source"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	ChunkBytes int    `yaml:"chunk_bytes"`
}

// ProviderEntry is the configuration block for a registered provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CommandsConfig extends the built-in voice command vocabulary.
type CommandsConfig struct {
	// Vocabulary maps language → command name → extra trigger words, e.g.
	// {"it": {"stop": ["basta"]}}. Words are added to the defaults.
	Vocabulary map[string]map[string][]string `yaml:"vocabulary"`

	// EscapePrefix, when set, marks utterances that must never be read as
	// commands. The prefix is stripped before the text is committed.
	EscapePrefix string `yaml:"escape_prefix"`
}

// StorageConfig selects where notebooks and transcript drafts live.
type StorageConfig struct {
	// Backend is memory, file, sqlite, or postgres.
	Backend StorageBackend `yaml:"backend"`

	// Path is the data directory for file and the database file for sqlite.
	// A leading "~" expands to the user's home directory.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// AutosaveInterval is how often the transcript draft is persisted.
	// Zero uses the session default; a negative value disables autosave.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}
