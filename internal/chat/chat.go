// Package chat relays questions about the transcript to a hosted
// chat-completion backend.
//
// Every question carries the whole current transcript as context; there is no
// truncation or summarisation. A [Relay] serialises requests, so a second
// question waits for the first to finish.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxnode/internal/observe"
	"github.com/MrWong99/voxnode/internal/resilience"
	"github.com/MrWong99/voxnode/pkg/provider/llm"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTimeout     = 60 * time.Second
)

var (
	// ErrConfigMissing is returned, before any network call, when no API key
	// is configured for a backend that needs one.
	ErrConfigMissing = errors.New("chat: api key not configured")

	// ErrUnsupportedProvider is returned for a provider name outside the
	// closed set of [ProviderType] values.
	ErrUnsupportedProvider = errors.New("chat: unsupported provider")

	// ErrEmptyQuestion is returned when the question is blank.
	ErrEmptyQuestion = errors.New("chat: question must not be empty")
)

// RemoteError reports an upstream failure. StatusCode is zero for transport
// failures and timeouts.
type RemoteError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat: %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat: %s request failed: %v", e.Provider, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Config selects and tunes the backend for a request.
type Config struct {
	// Provider is a [ProviderType] name. Empty selects groq.
	Provider string `yaml:"provider"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Language picks the prompt ("it" or "en").
	Language string `yaml:"language"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// Fallbacks are tried in order when the primary fails. Their Language,
	// Temperature and MaxTokens are ignored; the primary's apply.
	Fallbacks []Config `yaml:"fallbacks"`
}

func (c Config) temperature() float64 {
	if c.Temperature == 0 {
		return DefaultTemperature
	}
	return c.Temperature
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return c.MaxTokens
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Validate checks c without contacting the backend. The API key is checked
// before the provider name.
func (c Config) Validate() (ProviderType, error) {
	pt, err := ParseProviderType(c.Provider)
	if c.APIKey == "" && (err != nil || pt.requiresKey()) {
		return ProviderUnknown, ErrConfigMissing
	}
	if err != nil {
		return ProviderUnknown, err
	}
	return pt, nil
}

// Option configures a Relay.
type Option func(*Relay)

// WithFactory overrides the backend constructor for one provider type.
func WithFactory(p ProviderType, f Factory) Option {
	return func(r *Relay) { r.factories[p] = f }
}

// WithMetrics records request latency, errors, and breaker transitions.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay sends questions to the configured backend.
type Relay struct {
	factories map[ProviderType]Factory
	metrics   *observe.Metrics

	mu        sync.Mutex
	cachedKey string
	cached    llm.Provider
}

// NewRelay returns a Relay using [DefaultFactories] unless overridden.
func NewRelay(opts ...Option) *Relay {
	r := &Relay{factories: DefaultFactories()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ask returns the complete answer to question given the transcript.
func (r *Relay) Ask(ctx context.Context, question, transcript string, cfg Config) (string, error) {
	return r.do(ctx, question, transcript, cfg, nil)
}

// AskStream streams the answer, calling onProgress with the cumulative text
// after every increment, and returns the final text. Malformed increments are
// skipped by the backend.
func (r *Relay) AskStream(ctx context.Context, question, transcript string, cfg Config, onProgress func(string)) (string, error) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	return r.do(ctx, question, transcript, cfg, onProgress)
}

func (r *Relay) do(ctx context.Context, question, transcript string, cfg Config, onProgress func(string)) (string, error) {
	mode := "ask"
	if onProgress != nil {
		mode = "stream"
	}

	pt, err := cfg.Validate()
	if err != nil {
		r.metrics.RecordChatError(ctx, cfg.Provider, errorKind(err))
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	provider, err := r.providerLocked(pt, cfg)
	if err != nil {
		r.metrics.RecordChatError(ctx, pt.String(), "config")
		return "", err
	}

	req := PromptFor(cfg.Language).Request(transcript, question, cfg)
	r.warnIfOversized(provider, req, pt)

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "chat."+mode,
		attribute.String("chat.provider", pt.String()),
		attribute.String("chat.model", cfg.Model),
		attribute.Int("chat.transcript_chars", len(transcript)),
	)

	start := time.Now()
	var answer string
	if onProgress == nil {
		var resp *llm.CompletionResponse
		if resp, err = provider.Complete(ctx, req); err == nil {
			answer = resp.Content
		}
	} else {
		var ch <-chan llm.Chunk
		if ch, err = provider.StreamCompletion(ctx, req); err == nil {
			answer, err = llm.Collect(ctx, ch, onProgress)
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		rerr := remoteError(ctx, pt.String(), err)
		kind := "remote"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		r.metrics.RecordChat(ctx, pt.String(), mode, "error", elapsed)
		r.metrics.RecordChatError(ctx, pt.String(), kind)
		observe.Logger(ctx).Warn("chat: request failed", "provider", pt.String(), "mode", mode, "err", rerr)
		observe.EndSpan(span, rerr)
		return answer, rerr
	}
	observe.EndSpan(span, nil)

	r.metrics.RecordChat(ctx, pt.String(), mode, "ok", elapsed)
	observe.Logger(ctx).Info("chat: answered", "provider", pt.String(), "mode", mode,
		"duration", elapsed, "answer_chars", len(answer))
	return answer, nil
}

// providerLocked returns the backend for cfg, reusing the previous one while
// the configuration is unchanged so breaker state survives across questions.
func (r *Relay) providerLocked(pt ProviderType, cfg Config) (llm.Provider, error) {
	key := fmt.Sprintf("%#v", cfg)
	if r.cached != nil && r.cachedKey == key {
		return r.cached, nil
	}

	primary, err := r.build(pt, cfg)
	if err != nil {
		return nil, err
	}
	var provider llm.Provider = primary
	if len(cfg.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(primary, pt.String(), resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, _, to resilience.State) {
					r.metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		for i, f := range cfg.Fallbacks {
			fpt, err := f.Validate()
			if err != nil {
				slog.Warn("chat: skipping invalid fallback", "index", i, "provider", f.Provider, "err", err)
				continue
			}
			f.Timeout = cfg.Timeout
			p, err := r.build(fpt, f)
			if err != nil {
				slog.Warn("chat: skipping fallback", "index", i, "provider", f.Provider, "err", err)
				continue
			}
			fb.AddFallback(fmt.Sprintf("%s#%d", fpt, i+1), p)
		}
		provider = fb
	}

	r.cachedKey, r.cached = key, provider
	return provider, nil
}

func (r *Relay) build(pt ProviderType, cfg Config) (llm.Provider, error) {
	f, ok := r.factories[pt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, pt)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("chat: build %s backend: %w", pt, err)
	}
	return p, nil
}

func (r *Relay) warnIfOversized(p llm.Provider, req llm.CompletionRequest, pt ProviderType) {
	msgs := append([]llm.Message{{Role: llm.RoleSystem, Content: req.SystemPrompt}}, req.Messages...)
	n, err := p.CountTokens(msgs)
	if err != nil {
		return
	}
	if window := p.Capabilities().ContextWindow; window > 0 && n+req.MaxTokens > window {
		slog.Warn("chat: transcript may exceed the model context window",
			"provider", pt.String(), "estimated_tokens", n, "context_window", window)
	}
}

func remoteError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	re := &RemoteError{Provider: provider, Err: err}
	var se *llm.StatusError
	if errors.As(err, &se) {
		re.StatusCode = se.StatusCode
	}
	return re
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfigMissing):
		return "config"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported"
	default:
		return "remote"
	}
}
