package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxnode/internal/resilience"
	"github.com/MrWong99/voxnode/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxnode/pkg/provider/llm/mock"
)

// countingFactory returns a Factory handing out p and counting calls.
func countingFactory(p llm.Provider) (Factory, *int) {
	var mu sync.Mutex
	n := 0
	return func(Config) (llm.Provider, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return p, nil
	}, &n
}

func TestAsk_ConfigMissingBeforeNetwork(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	f, built := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	_, err := r.Ask(context.Background(), "chi è?", "testo", Config{Provider: "groq"})
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
	if *built != 0 || p.CompleteCallCount() != 0 {
		t.Errorf("backend touched: built=%d calls=%d", *built, p.CompleteCallCount())
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		want    ProviderType
		wantErr error
	}{
		{"default provider", Config{APIKey: "k"}, ProviderGroq, nil},
		{"openai", Config{Provider: "OpenAI", APIKey: "k"}, ProviderOpenAI, nil},
		{"unknown with key", Config{Provider: "watson", APIKey: "k"}, ProviderUnknown, ErrUnsupportedProvider},
		{"unknown without key", Config{Provider: "watson"}, ProviderUnknown, ErrConfigMissing},
		{"ollama without key", Config{Provider: "ollama"}, ProviderOllama, nil},
		{"anthropic without key", Config{Provider: "anthropic"}, ProviderUnknown, ErrConfigMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.cfg.Validate()
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("provider = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsk_RequestShape(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "**Renzo**"}}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	got, err := r.Ask(context.Background(), "  Chi è il protagonista? ", "Renzo e Lucia", Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "**Renzo**" {
		t.Errorf("answer = %q", got)
	}

	req := p.CompleteCalls[0].Req
	if req.SystemPrompt != "Sei un assistente di lettura esperto. Rispondi in italiano in modo chiaro e conciso. Usa markdown per formattare le risposte." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	wantUser := "CONTESTO (testo letto dall'utente):\nRenzo e Lucia\n\nDOMANDA: Chi è il protagonista?\n\nRISPOSTA (in italiano):"
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != wantUser {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 1000 || req.TopP != 1 || req.ReasoningEffort != "medium" {
		t.Errorf("generation params = %+v", req)
	}
}

func TestAsk_EnglishPrompt(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	if _, err := r.Ask(context.Background(), "Who?", "text", Config{APIKey: "k", Language: "en-US", Temperature: 0.2, MaxTokens: 50}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	req := p.CompleteCalls[0].Req
	if !strings.HasPrefix(req.Messages[0].Content, "CONTEXT (text read by the user):\ntext") ||
		!strings.HasSuffix(req.Messages[0].Content, "ANSWER (in English):") {
		t.Errorf("user message = %q", req.Messages[0].Content)
	}
	if req.Temperature != 0.2 || req.MaxTokens != 50 {
		t.Errorf("overrides not applied: %+v", req)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	t.Parallel()
	r := NewRelay(WithFactory(ProviderGroq, func(Config) (llm.Provider, error) { return &llmmock.Provider{}, nil }))
	if _, err := r.Ask(context.Background(), "   ", "t", Config{APIKey: "k"}); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}
}

func TestAsk_SendsWholeTranscript(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	long := strings.Repeat("parola ", 50_000)
	if _, err := r.Ask(context.Background(), "riassumi", long, Config{APIKey: "k"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(p.CompleteCalls[0].Req.Messages[0].Content, long) {
		t.Error("transcript was truncated")
	}
}

func TestAsk_RemoteError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: fmt.Errorf("groq: %w", &llm.StatusError{StatusCode: 401, Body: "invalid key"})}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	_, err := r.Ask(context.Background(), "q", "t", Config{APIKey: "bad"})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if re.Provider != "groq" || re.StatusCode != 401 {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestAsk_Timeout(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Block: make(chan struct{})}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	_, err := r.Ask(context.Background(), "q", "t", Config{APIKey: "k", Timeout: 20 * time.Millisecond})
	var re *RemoteError
	if !errors.As(err, &re) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want RemoteError wrapping DeadlineExceeded", err)
	}
	if re.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a timeout", re.StatusCode)
	}
}

func TestAskStream_Cumulative(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Il "}, {Text: "protagonista"}, {Text: " è Renzo.", FinishReason: "stop"}}}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	var progress []string
	got, err := r.AskStream(context.Background(), "chi?", "t", Config{APIKey: "k"}, func(s string) {
		progress = append(progress, s)
	})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	if got != "Il protagonista è Renzo." {
		t.Errorf("final = %q", got)
	}
	want := []string{"Il ", "Il protagonista", "Il protagonista è Renzo."}
	if fmt.Sprint(progress) != fmt.Sprint(want) {
		t.Errorf("progress = %q, want %q", progress, want)
	}
	if p.CompleteCallCount() != 0 || p.StreamCallCount() != 1 {
		t.Errorf("calls: complete=%d stream=%d", p.CompleteCallCount(), p.StreamCallCount())
	}
}

func TestAskStream_MidStreamErrorKeepsPartial(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "parziale"}, {FinishReason: llm.FinishError, Err: errors.New("reset")}}}
	f, _ := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))

	got, err := r.AskStream(context.Background(), "q", "t", Config{APIKey: "k"}, nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if got != "parziale" {
		t.Errorf("partial = %q", got)
	}
}

func TestRelay_ReusesBackendUntilConfigChanges(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	f, built := countingFactory(p)
	r := NewRelay(WithFactory(ProviderGroq, f))
	ctx := context.Background()

	cfg := Config{APIKey: "k"}
	_, _ = r.Ask(ctx, "a", "t", cfg)
	_, _ = r.Ask(ctx, "b", "t", cfg)
	if *built != 1 {
		t.Fatalf("built = %d, want 1 for an unchanged config", *built)
	}
	cfg.Model = "llama-3.3-70b-versatile"
	_, _ = r.Ask(ctx, "c", "t", cfg)
	if *built != 2 {
		t.Errorf("built = %d, want 2 after a config change", *built)
	}
}

func TestRelay_Fallback(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: &llm.StatusError{StatusCode: 503}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "dal fallback"}}
	pf, _ := countingFactory(primary)
	sf, _ := countingFactory(secondary)
	r := NewRelay(WithFactory(ProviderGroq, pf), WithFactory(ProviderOpenAI, sf))

	cfg := Config{
		APIKey: "k",
		Fallbacks: []Config{
			{Provider: "openai"},
			{Provider: "openai", APIKey: "sk"},
		},
	}
	got, err := r.Ask(context.Background(), "q", "t", cfg)
	if err != nil || got != "dal fallback" {
		t.Fatalf("Ask = (%q, %v)", got, err)
	}
}

func TestRelay_AllBackendsFail(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteErr: &llm.StatusError{StatusCode: 429}}
	pf, _ := countingFactory(primary)
	sf, _ := countingFactory(secondary)
	r := NewRelay(WithFactory(ProviderGroq, pf), WithFactory(ProviderOpenAI, sf))

	_, err := r.Ask(context.Background(), "q", "t", Config{APIKey: "k", Fallbacks: []Config{{Provider: "openai", APIKey: "sk"}}})
	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != 429 || !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want RemoteError(429) wrapping ErrAllFailed", err)
	}
}

func TestRelay_GroqEndToEnd(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gsk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Sì"}}]}`)
		fmt.Fprintln(w, `data: garbage`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":", certo."}}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	r := NewRelay()
	got, err := r.AskStream(context.Background(), "q", "t", Config{APIKey: "gsk", BaseURL: srv.URL}, nil)
	if err != nil || got != "Sì, certo." {
		t.Fatalf("AskStream = (%q, %v)", got, err)
	}

	_, err = r.Ask(context.Background(), "q", "t", Config{APIKey: "wrong", BaseURL: srv.URL})
	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 RemoteError", err)
	}
}

func TestParseProviderType(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"groq", "openai", "anthropic", "gemini", "mistral", "deepseek", "ollama"} {
		pt, err := ParseProviderType(name)
		if err != nil || pt.String() != name {
			t.Errorf("ParseProviderType(%q) = (%v, %v)", name, pt, err)
		}
		b, err := pt.MarshalText()
		if err != nil || string(b) != name {
			t.Errorf("MarshalText(%v) = (%q, %v)", pt, b, err)
		}
	}
	if _, err := ProviderUnknown.MarshalText(); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("MarshalText(unknown) = %v", err)
	}
	var pt ProviderType
	if err := pt.UnmarshalText([]byte("Mistral")); err != nil || pt != ProviderMistral {
		t.Errorf("UnmarshalText = (%v, %v)", pt, err)
	}
	if err := pt.UnmarshalText([]byte("bard")); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("UnmarshalText(bard) = %v", err)
	}
}

func TestDefaultFactoriesCoverEveryProvider(t *testing.T) {
	t.Parallel()
	f := DefaultFactories()
	for pt := range providerNames {
		if _, ok := f[pt]; !ok {
			t.Errorf("no factory for %v", pt)
		}
	}
}

func TestPromptFor(t *testing.T) {
	t.Parallel()
	if PromptFor("it-IT").System != prompts["it"].System {
		t.Error("it-IT should select the Italian prompt")
	}
	if PromptFor("en_GB").System != prompts["en"].System {
		t.Error("en_GB should select the English prompt")
	}
	if PromptFor("fr").System != prompts["it"].System {
		t.Error("unknown language should fall back to Italian")
	}
}
