package chat

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxnode/pkg/provider/llm"
	"github.com/MrWong99/voxnode/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxnode/pkg/provider/llm/groq"
	"github.com/MrWong99/voxnode/pkg/provider/llm/openai"
)

// ProviderType identifies a chat backend. The set is closed: a name that does
// not parse yields [ErrUnsupportedProvider].
type ProviderType int

const (
	ProviderUnknown ProviderType = iota
	ProviderGroq
	ProviderOpenAI
	ProviderAnthropic
	ProviderGemini
	ProviderMistral
	ProviderDeepSeek
	ProviderOllama
)

var providerNames = map[ProviderType]string{
	ProviderGroq:      "groq",
	ProviderOpenAI:    "openai",
	ProviderAnthropic: "anthropic",
	ProviderGemini:    "gemini",
	ProviderMistral:   "mistral",
	ProviderDeepSeek:  "deepseek",
	ProviderOllama:    "ollama",
}

func (p ProviderType) String() string {
	if n, ok := providerNames[p]; ok {
		return n
	}
	return "unknown"
}

// ParseProviderType maps a configuration name to a ProviderType. An empty
// name selects [ProviderGroq].
func ParseProviderType(name string) (ProviderType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderGroq, nil
	}
	for p, n := range providerNames {
		if n == name {
			return p, nil
		}
	}
	return ProviderUnknown, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// MarshalText implements encoding.TextMarshaler.
func (p ProviderType) MarshalText() ([]byte, error) {
	if _, ok := providerNames[p]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProvider, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ProviderType) UnmarshalText(b []byte) error {
	v, err := ParseProviderType(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// requiresKey reports whether the backend refuses to run without an API key.
func (p ProviderType) requiresKey() bool { return p != ProviderOllama }

// Factory builds the backend for one request configuration.
type Factory func(cfg Config) (llm.Provider, error)

// DefaultFactories returns the built-in variant table.
func DefaultFactories() map[ProviderType]Factory {
	return map[ProviderType]Factory{
		ProviderGroq:      newGroq,
		ProviderOpenAI:    newOpenAI,
		ProviderAnthropic: anyLLM("anthropic", "claude-3-5-haiku-latest"),
		ProviderGemini:    anyLLM("gemini", "gemini-2.0-flash"),
		ProviderMistral:   anyLLM("mistral", "mistral-small-latest"),
		ProviderDeepSeek:  anyLLM("deepseek", "deepseek-chat"),
		ProviderOllama:    anyLLM("ollama", "llama3.1"),
	}
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func newGroq(cfg Config) (llm.Provider, error) {
	opts := []groq.Option{groq.WithHTTPClient(httpClient(cfg.Timeout))}
	if cfg.BaseURL != "" {
		opts = append(opts, groq.WithEndpoint(cfg.BaseURL))
	}
	return groq.New(cfg.APIKey, cfg.Model, opts...)
}

func newOpenAI(cfg Config) (llm.Provider, error) {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	var opts []openai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(cfg.Timeout))
	}
	return openai.New(cfg.APIKey, model, opts...)
}

func anyLLM(backend, defaultModel string) Factory {
	return func(cfg Config) (llm.Provider, error) {
		model := cfg.Model
		if model == "" {
			model = defaultModel
		}
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(backend, model, opts...)
	}
}
