package chat

import (
	"strings"

	"github.com/MrWong99/voxnode/pkg/provider/llm"
)

// Prompt is the fixed instruction pair sent with every question.
type Prompt struct {
	System string

	// Context, Question and Answer label the three parts of the user message.
	Context  string
	Question string
	Answer   string
}

var prompts = map[string]Prompt{
	"it": {
		System:   "Sei un assistente di lettura esperto. Rispondi in italiano in modo chiaro e conciso. Usa markdown per formattare le risposte.",
		Context:  "CONTESTO (testo letto dall'utente):",
		Question: "DOMANDA:",
		Answer:   "RISPOSTA (in italiano):",
	},
	"en": {
		System:   "You are an expert reading assistant. Answer in English, clearly and concisely. Use markdown to format your answers.",
		Context:  "CONTEXT (text read by the user):",
		Question: "QUESTION:",
		Answer:   "ANSWER (in English):",
	},
}

// PromptFor returns the prompt for a language code or tag ("it", "en-US").
// Unknown languages get the Italian prompt.
func PromptFor(lang string) Prompt {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if p, ok := prompts[lang]; ok {
		return p
	}
	return prompts["it"]
}

// UserMessage embeds the whole transcript and the question in one message.
func (p Prompt) UserMessage(transcript, question string) string {
	var b strings.Builder
	b.WriteString(p.Context)
	b.WriteByte('\n')
	b.WriteString(transcript)
	b.WriteString("\n\n")
	b.WriteString(p.Question)
	b.WriteByte(' ')
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(p.Answer)
	return b.String()
}

// Request builds the completion request for one question.
func (p Prompt) Request(transcript, question string, cfg Config) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt:    p.System,
		Messages:        []llm.Message{{Role: llm.RoleUser, Content: p.UserMessage(transcript, question)}},
		Temperature:     cfg.temperature(),
		MaxTokens:       cfg.maxTokens(),
		TopP:            1,
		ReasoningEffort: "medium",
	}
}
