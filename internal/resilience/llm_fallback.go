package resilience

import (
	"context"

	"github.com/MrWong99/voxnode/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [FallbackGroup] of chat
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in try order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first healthy backend. Only opening
// the stream fails over; an error after the first chunk is delivered to the
// caller on the channel.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens uses the primary's estimate.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.entries[0].value.CountTokens(messages)
}

// Capabilities reports the smallest limits across all backends, so a request
// sized for them fits whichever backend serves it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.entries[0].value.Capabilities()
	for _, e := range f.group.entries[1:] {
		c := e.value.Capabilities()
		if c.ContextWindow < caps.ContextWindow {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens < caps.MaxOutputTokens {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
		caps.SupportsStreaming = caps.SupportsStreaming && c.SupportsStreaming
	}
	return caps
}
