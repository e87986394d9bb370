// Package voicecmd detects spoken session commands in finalized recognition
// results. A final utterance whose trimmed, case-folded text exactly equals a
// vocabulary word for the active language is consumed as a command and never
// reaches the transcript.
//
// Matching is deliberately exact: "stop" is a command, "stop here" is text.
// An optional escape prefix lets a reader dictate a command word literally
// ("literal stop" is committed as "stop").
package voicecmd

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Command is a recognised session command.
type Command int

const (
	// None is the zero value; it never matches.
	None Command = iota

	// Pause soft-stops recognition, keeping the session resumable.
	Pause

	// Stop ends the reading session.
	Stop

	// Resume restarts recognition after a pause.
	Resume
)

// String returns the command name used in logs and config.
func (c Command) String() string {
	switch c {
	case Pause:
		return "pause"
	case Stop:
		return "stop"
	case Resume:
		return "resume"
	default:
		return "none"
	}
}

// ParseCommand converts a config key ("pause", "stop", "resume") to a Command.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause":
		return Pause, nil
	case "stop":
		return Stop, nil
	case "resume":
		return Resume, nil
	}
	return None, fmt.Errorf("voicecmd: unknown command %q", s)
}

// Vocabulary maps a language code ("it", "en") to the words that trigger each
// command in that language.
type Vocabulary map[string]map[Command][]string

// DefaultVocabulary returns the built-in Italian and English command words.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		"it": {
			Pause:  {"pausa"},
			Stop:   {"stop", "termina"},
			Resume: {"continua", "riprendi"},
		},
		"en": {
			Pause:  {"pause"},
			Stop:   {"stop"},
			Resume: {"continue", "resume"},
		},
	}
}

// Merge returns a copy of v with the words in extra added per language and
// command. Duplicate words are collapsed.
func (v Vocabulary) Merge(extra Vocabulary) Vocabulary {
	out := make(Vocabulary, len(v)+len(extra))
	add := func(src Vocabulary) {
		for lang, cmds := range src {
			lang = normalizeLang(lang)
			if out[lang] == nil {
				out[lang] = make(map[Command][]string)
			}
			for cmd, words := range cmds {
				for _, w := range words {
					w = fold(w)
					if w == "" || slices.Contains(out[lang][cmd], w) {
						continue
					}
					out[lang][cmd] = append(out[lang][cmd], w)
				}
			}
		}
	}
	add(v)
	add(extra)
	return out
}

// Matcher resolves final utterances to commands. It is safe for concurrent
// use; the vocabulary can be swapped at runtime with [Matcher.SetVocabulary].
type Matcher struct {
	mu           sync.RWMutex
	index        map[string]map[string]Command
	escapePrefix string
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithEscapePrefix sets a word that, when it starts an utterance, disables
// command matching for that utterance. An empty prefix disables escaping.
func WithEscapePrefix(prefix string) Option {
	return func(m *Matcher) { m.escapePrefix = fold(prefix) }
}

// NewMatcher builds a Matcher over vocab. A nil vocab uses [DefaultVocabulary].
func NewMatcher(vocab Vocabulary, opts ...Option) *Matcher {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	m.index = buildIndex(vocab)
	return m
}

// SetVocabulary replaces the active vocabulary.
func (m *Matcher) SetVocabulary(vocab Vocabulary) {
	idx := buildIndex(vocab)
	m.mu.Lock()
	m.index = idx
	m.mu.Unlock()
	slog.Info("voicecmd: vocabulary updated", "languages", len(idx))
}

// SetEscapePrefix replaces the escape prefix. An empty prefix disables
// escaping.
func (m *Matcher) SetEscapePrefix(prefix string) {
	m.mu.Lock()
	m.escapePrefix = fold(prefix)
	m.mu.Unlock()
}

// Match reports whether text is a command for lang. lang may be a short code
// ("it") or a full tag ("it-IT").
func (m *Matcher) Match(lang, text string) (Command, bool) {
	key := fold(text)
	if key == "" {
		return None, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.escapePrefix != "" && strings.HasPrefix(key, m.escapePrefix+" ") {
		return None, false
	}
	cmd, ok := m.index[normalizeLang(lang)][key]
	return cmd, ok
}

// StripEscape removes the escape prefix from an utterance, if present, and
// reports whether it did. The remainder keeps its original casing.
func (m *Matcher) StripEscape(text string) (string, bool) {
	m.mu.RLock()
	prefix := m.escapePrefix
	m.mu.RUnlock()
	if prefix == "" {
		return text, false
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) || trimmed[len(prefix)] != ' ' {
		return text, false
	}
	return strings.TrimSpace(trimmed[len(prefix):]), true
}

func buildIndex(vocab Vocabulary) map[string]map[string]Command {
	idx := make(map[string]map[string]Command, len(vocab))
	for lang, cmds := range vocab {
		lang = normalizeLang(lang)
		if idx[lang] == nil {
			idx[lang] = make(map[string]Command)
		}
		for cmd, words := range cmds {
			for _, w := range words {
				if w = fold(w); w != "" {
					idx[lang][w] = cmd
				}
			}
		}
	}
	return idx
}

// normalizeLang reduces "it-IT" or "IT" to "it".
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
