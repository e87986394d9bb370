// Package groq provides an LLM provider that talks to Groq's OpenAI-compatible
// chat-completions endpoint over plain HTTP.
//
// Streaming responses are server-sent events: each "data: " line carries a
// JSON delta and the stream ends with "data: [DONE]". Frames that fail to
// decode are skipped so one malformed delta does not abort the answer.
package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/voxnode/pkg/provider/llm"
)

// Defaults.
const (
	DefaultEndpoint        = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel           = "openai/gpt-oss-120b"
	DefaultReasoningEffort = "medium"
)

const doneSentinel = "[DONE]"

// Provider implements llm.Provider against the Groq REST API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithEndpoint overrides the chat-completions URL.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.endpoint = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New constructs a Groq provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("groq: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    model,
		endpoint: DefaultEndpoint,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	TopP            *float64      `json:"top_p,omitempty"`
	Stream          bool          `json:"stream"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("groq: decode response: %w", err)
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("groq: empty choices in response")
	}
	out := &llm.CompletionResponse{Content: body.Choices[0].Message.Content}
	if body.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			if strings.TrimSpace(data) == doneSentinel {
				return
			}
			chunk, ok := parseFrame(data)
			if !ok {
				slog.Debug("groq: skipping malformed stream frame", "frame", data)
				continue
			}
			if chunk.Text == "" && chunk.FinishReason == "" {
				continue
			}
			if !send(chunk) {
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			send(llm.Chunk{FinishReason: llm.FinishError, Text: err.Error(), Err: fmt.Errorf("groq: read stream: %w", err)})
		}
	}()
	return ch, nil
}

// parseFrame decodes one SSE data payload. ok is false for frames that are not
// valid JSON or carry no choices.
func parseFrame(data string) (llm.Chunk, bool) {
	var f streamFrame
	if err := json.Unmarshal([]byte(data), &f); err != nil || len(f.Choices) == 0 {
		return llm.Chunk{}, false
	}
	c := llm.Chunk{Text: f.Choices[0].Delta.Content}
	if fr := f.Choices[0].FinishReason; fr != nil {
		c.FinishReason = *fr
	}
	return c, true
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:     131_072,
		MaxOutputTokens:   32_768,
		SupportsStreaming: true,
	}
	if strings.HasPrefix(strings.ToLower(p.model), "llama3-") {
		caps.ContextWindow = 8_192
		caps.MaxOutputTokens = 8_192
	}
	return caps
}

func (p *Provider) post(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(p.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("groq: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("groq: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq: send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("groq: %w", &llm.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})
	}
	return resp, nil
}

func (p *Provider) buildRequest(req llm.CompletionRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:           p.model,
		MaxTokens:       req.MaxTokens,
		Stream:          stream,
		ReasoningEffort: req.ReasoningEffort,
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, chatMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.TopP != 0 {
		tp := req.TopP
		out.TopP = &tp
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)
