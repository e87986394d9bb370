// Package mock provides a scripted [llm.Provider] for tests.
//
// Set the response fields before use; every call is recorded so tests can
// assert on the prompts a caller built:
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Sì."}}
//	relay := chat.NewRelay(chat.WithFactory(chat.ProviderGroq, func(chat.Config) (llm.Provider, error) { return p, nil }))
//	...
//	p.CompleteCalls[0].Req.Messages // the transcript and question sent
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnode/pkg/provider/llm"
)

// Call is one recorded Complete or StreamCompletion invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements [llm.Provider] with canned results. The zero value
// answers with empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are delivered in order by StreamCompletion, which then
	// closes the channel.
	StreamChunks []llm.Chunk
	// StreamErr makes StreamCompletion fail before opening a channel.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Block, when non-nil, holds Complete and StreamCompletion until it is
	// closed or the call's context ends, in which case ctx.Err() is returned.
	Block chan struct{}

	// TokenCount and CountTokensErr are returned by CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// StreamCalls and CompleteCalls record invocations in order. Read them
	// after the code under test has returned, or use the CallCount methods.
	StreamCalls   []Call
	CompleteCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if err := p.enter(ctx, &p.StreamCalls, req); err != nil {
		return nil, err
	}
	p.mu.Lock()
	err := p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := p.enter(ctx, &p.CompleteCalls, req); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens([]llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// StreamCallCount returns len(StreamCalls) under the lock.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// CompleteCallCount returns len(CompleteCalls) under the lock.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// enter records the call in log, then honours Block.
func (p *Provider) enter(ctx context.Context, log *[]Call, req llm.CompletionRequest) error {
	p.mu.Lock()
	*log = append(*log, Call{Ctx: ctx, Req: req})
	block := p.Block
	p.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
