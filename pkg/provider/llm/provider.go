// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a hosted or local model API (Groq, OpenAI, Anthropic, a
// local Ollama instance, ...) and exposes a uniform way to run a completion,
// stream one, estimate token usage, and inspect model limits without the
// caller depending on any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"fmt"
)

// FinishError is the FinishReason of a chunk reporting a mid-stream failure.
const FinishError = "error"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction sent before Messages as a
	// system-role message.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// TopP is the nucleus sampling mass. Zero uses the provider default.
	TopP float64

	// ReasoningEffort is passed through to reasoning models that accept it
	// ("low", "medium", "high"). Ignored by providers without the knob.
	ReasoningEffort string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishError] when the stream failed after it started.
	FinishReason string

	// Err is the failure when FinishReason is [FinishError].
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// StatusError is returned by providers when the upstream answered with a
// non-success HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: upstream status %d: %s", e.StatusCode, e.Body)
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel that emits chunks as they
	// arrive. The channel is closed when generation finishes or ctx is
	// cancelled. The initial error is non-nil only for failures that prevent the
	// stream from starting; later failures arrive as a chunk with
	// FinishReason [FinishError]. The channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume. The result
	// need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static limits of the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared approximation used by providers without a
// tokenizer: roughly four characters per token plus per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}

// Collect drains a stream, returning the concatenated text. onProgress, when
// non-nil, is invoked with the cumulative text after every non-empty chunk.
func Collect(ctx context.Context, ch <-chan Chunk, onProgress func(string)) (string, error) {
	var acc []byte
	for {
		select {
		case <-ctx.Done():
			return string(acc), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return string(acc), nil
			}
			if c.FinishReason == FinishError {
				if c.Err != nil {
					return string(acc), c.Err
				}
				return string(acc), fmt.Errorf("llm: stream failed: %s", c.Text)
			}
			if c.Text == "" {
				continue
			}
			acc = append(acc, c.Text...)
			if onProgress != nil {
				onProgress(string(acc))
			}
		}
	}
}
