package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxnode/internal/chat"
	"github.com/MrWong99/voxnode/internal/voicecmd"
	"github.com/MrWong99/voxnode/pkg/provider/stt"
)

// Environment variables that fill empty API key fields.
const (
	EnvChatAPIKey = "VOXNODE_CHAT_API_KEY"
	EnvSTTAPIKey  = "VOXNODE_STT_API_KEY"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultLanguage    = "it"
	DefaultStoragePath = "~/.voxnode"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and API keys
// from the environment, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	return cfg
}

// ApplyDefaults fills zero fields with their defaults and expands "~" in the
// storage path.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Recognition.Language == "" {
		cfg.Recognition.Language = DefaultLanguage
	}
	if cfg.Recognition.Audio.Source == "" {
		cfg.Recognition.Audio.Source = "-"
	}
	if cfg.Chat.Language == "" {
		cfg.Chat.Language = cfg.Recognition.Language
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageFile
	}
	if cfg.Storage.Path == "" && (cfg.Storage.Backend == StorageFile || cfg.Storage.Backend == StorageSQLite) {
		cfg.Storage.Path = DefaultStoragePath
		if cfg.Storage.Backend == StorageSQLite {
			cfg.Storage.Path = filepath.Join(DefaultStoragePath, "voxnode.db")
		}
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
}

// ApplyEnv copies API keys from the environment into empty key fields.
// Keys already present in the file win.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = getenv(EnvChatAPIKey)
	}
	if cfg.Recognition.Engine.APIKey == "" {
		cfg.Recognition.Engine.APIKey = getenv(EnvSTTAPIKey)
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recognition
	rec := cfg.Recognition
	if !validLanguage(rec.Language) {
		errs = append(errs, fmt.Errorf("recognition.language %q is invalid; valid values: it, en, or a BCP-47 tag", rec.Language))
	}
	if rec.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("recognition.restart_delay %s must not be negative", rec.RestartDelay))
	}
	if rec.Audio.SampleRate < 0 || rec.Audio.Channels < 0 || rec.Audio.ChunkBytes < 0 {
		errs = append(errs, errors.New("recognition.audio values must not be negative"))
	}
	if rec.Audio.ChunkBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("recognition.audio.chunk_bytes %d must be a whole number of 16-bit samples", rec.Audio.ChunkBytes))
	}
	if _, err := rec.KeywordBoosts(); err != nil {
		errs = append(errs, err)
	}
	validateProviderName("stt", rec.Engine.Name)
	if rec.Engine.Name == "" {
		slog.Warn("recognition.engine is not configured; listening will report recognition as unsupported")
	} else if rec.Engine.APIKey == "" {
		slog.Warn("recognition.engine has no api key", "name", rec.Engine.Name, "env", EnvSTTAPIKey)
	}

	// Commands
	if _, err := cfg.Commands.ToVocabulary(); err != nil {
		errs = append(errs, err)
	}

	// Chat
	errs = append(errs, validateChat("chat", cfg.Chat)...)
	for i, fb := range cfg.Chat.Fallbacks {
		errs = append(errs, validateChat(fmt.Sprintf("chat.fallbacks[%d]", i), fb)...)
	}
	if cfg.Chat.APIKey == "" {
		if pt, err := chat.ParseProviderType(cfg.Chat.Provider); err == nil && pt != chat.ProviderOllama {
			slog.Warn("chat.api_key is empty; questions will fail until a key is configured", "env", EnvChatAPIKey)
		}
	}

	// Storage
	st := cfg.Storage
	switch {
	case !st.Backend.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, sqlite, postgres", st.Backend))
	case st.Backend == StoragePostgres && st.DSN == "":
		errs = append(errs, errors.New("storage.dsn is required when backend is postgres"))
	case (st.Backend == StorageFile || st.Backend == StorageSQLite) && st.Path == "":
		errs = append(errs, fmt.Errorf("storage.path is required when backend is %s", st.Backend))
	}

	return errors.Join(errs...)
}

func validateChat(prefix string, c chat.Config) []error {
	var errs []error
	if _, err := chat.ParseProviderType(c.Provider); err != nil {
		errs = append(errs, fmt.Errorf("%s.provider %q is invalid; valid values: groq, openai, anthropic, gemini, mistral, deepseek, ollama", prefix, c.Provider))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_tokens %d must not be negative", prefix, c.MaxTokens))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, c.Timeout))
	}
	if len(c.Fallbacks) > 0 && prefix != "chat" {
		errs = append(errs, fmt.Errorf("%s.fallbacks cannot be nested", prefix))
	}
	return errs
}

func validLanguage(lang string) bool {
	lang = strings.ToLower(lang)
	if lang == "it" || lang == "en" {
		return true
	}
	base, region, ok := strings.Cut(lang, "-")
	return ok && len(base) == 2 && region != ""
}

// ToVocabulary converts the configured extra words into a vocabulary merged
// over the built-in defaults.
func (c CommandsConfig) ToVocabulary() (voicecmd.Vocabulary, error) {
	extra := make(voicecmd.Vocabulary, len(c.Vocabulary))
	var errs []error
	for lang, cmds := range c.Vocabulary {
		if !validLanguage(lang) {
			errs = append(errs, fmt.Errorf("commands.vocabulary.%s is not a valid language", lang))
			continue
		}
		m := make(map[voicecmd.Command][]string, len(cmds))
		for name, words := range cmds {
			cmd, err := voicecmd.ParseCommand(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("commands.vocabulary.%s.%s: %w", lang, name, err))
				continue
			}
			m[cmd] = words
		}
		extra[lang] = m
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return voicecmd.DefaultVocabulary().Merge(extra), nil
}

// KeywordBoosts parses the "term" or "term:boost" keyword hints. A term
// without a boost gets a boost of 1.
func (r RecognitionConfig) KeywordBoosts() ([]stt.KeywordBoost, error) {
	var (
		out  []stt.KeywordBoost
		errs []error
	)
	for i, kw := range r.Keywords {
		term, boost, hasBoost := strings.Cut(kw, ":")
		term = strings.TrimSpace(term)
		if term == "" {
			errs = append(errs, fmt.Errorf("recognition.keywords[%d] is empty", i))
			continue
		}
		kb := stt.KeywordBoost{Keyword: term, Boost: 1}
		if hasBoost {
			v, err := strconv.ParseFloat(strings.TrimSpace(boost), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("recognition.keywords[%d] %q: boost must be a number", i, kw))
				continue
			}
			kb.Boost = v
		}
		out = append(out, kb)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
