// Package notebook stores named notebooks of saved readings in a key-value
// store.
//
// The whole collection lives under one key as a JSON list and is rewritten on
// every mutation; a second key holds the id of the current notebook. The
// current pointer is a weak reference: deleting its notebook leaves the
// pointer in place and [Store.Current] simply reports nothing.
//
// Derived fields (Entry.WordCount, Notebook.TotalWords, Notebook.TotalEntries)
// are always recomputed on write.
package notebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxnode/pkg/kv"
)

// Storage keys.
const (
	NotebooksKey = "reading_assistant_notebooks"
	CurrentKey   = "current_notebook"
)

var (
	// ErrEmptyName is returned by Create when the name is blank.
	ErrEmptyName = errors.New("notebook: name must not be empty")

	// ErrNotFound reports an unknown notebook id. The store itself signals a
	// miss through boolean results; callers wrap this for their own surfaces.
	ErrNotFound = errors.New("notebook: not found")
)

// Notebook is a named collection of saved readings.
type Notebook struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created"`
	UpdatedAt    time.Time `json:"updated"`
	Entries      []Entry   `json:"entries"`
	TotalWords   int       `json:"totalWords"`
	TotalEntries int       `json:"totalEntries"`
}

// Entry is one saved transcript snapshot. Entries are never edited.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"date"`
	WordCount int       `json:"wordCount"`
}

// CountWords returns the number of whitespace-delimited non-empty tokens.
func CountWords(s string) int { return len(strings.Fields(s)) }

// DefaultTitle is the suggested title for a reading saved at t, e.g.
// "Lettura 14/10/2026" for Italian and "Reading 10/14/2026" otherwise.
func DefaultTitle(lang string, t time.Time) string {
	if strings.HasPrefix(strings.ToLower(lang), "it") {
		return "Lettura " + t.Format("2/1/2006")
	}
	return "Reading " + t.Format("1/2/2006")
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.newID = next }
}

// WithWriteHook registers fn to be called after every successful mutation
// with the operation name ("create", "add_entry", "delete", "set_current").
func WithWriteHook(fn func(op string)) Option {
	return func(s *Store) { s.onWrite = fn }
}

// Store is the notebook collection.
//
// All methods are safe for concurrent use; mutations are serialised so each
// read-modify-write of the collection is atomic within this process.
type Store struct {
	kv      kv.Store
	now     func() time.Time
	newID   func() string
	onWrite func(string)

	mu sync.Mutex
}

// New returns a Store persisting to backend.
func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:    backend,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create adds an empty notebook and returns it.
func (s *Store) Create(ctx context.Context, name, description string) (Notebook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Notebook{}, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return Notebook{}, err
	}
	now := s.now()
	nb := Notebook{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
		Entries:     []Entry{},
	}
	all = append(all, nb)
	if err := s.save(ctx, all); err != nil {
		return Notebook{}, err
	}
	s.wrote("create")
	slog.Info("notebook: created", "id", nb.ID, "name", nb.Name)
	return nb, nil
}

// AddEntry appends a reading to notebook id. It returns false, with a nil
// error, when no notebook has that id.
func (s *Store) AddEntry(ctx context.Context, id, title, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(all, id)
	if i < 0 {
		return false, nil
	}

	now := s.now()
	all[i].Entries = append(all[i].Entries, Entry{
		ID:        s.newID(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		WordCount: CountWords(content),
	})
	all[i].UpdatedAt = now
	recount(&all[i])

	if err := s.save(ctx, all); err != nil {
		return false, err
	}
	s.wrote("add_entry")
	slog.Info("notebook: entry added", "id", id, "words", all[i].Entries[len(all[i].Entries)-1].WordCount)
	return true, nil
}

// Delete removes notebook id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, nb := range all {
		if nb.ID != id {
			kept = append(kept, nb)
		}
	}
	if err := s.save(ctx, kept); err != nil {
		return err
	}
	s.wrote("delete")
	return nil
}

// Get returns notebook id. ok is false when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (Notebook, bool, error) {
	all, err := s.load(ctx)
	if err != nil {
		return Notebook{}, false, err
	}
	if i := indexOf(all, id); i >= 0 {
		return all[i], true, nil
	}
	return Notebook{}, false, nil
}

// List returns every notebook in creation order.
func (s *Store) List(ctx context.Context) ([]Notebook, error) {
	return s.load(ctx)
}

// SetCurrent records id as the current notebook. The id is not validated.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, CurrentKey, id); err != nil {
		return fmt.Errorf("notebook: set current: %w", err)
	}
	s.wrote("set_current")
	return nil
}

// Current resolves the current pointer. ok is false when no pointer is set or
// it names a notebook that no longer exists.
func (s *Store) Current(ctx context.Context) (Notebook, bool, error) {
	id, ok, err := s.kv.Get(ctx, CurrentKey)
	if err != nil {
		return Notebook{}, false, fmt.Errorf("notebook: get current: %w", err)
	}
	if !ok || id == "" {
		return Notebook{}, false, nil
	}
	return s.Get(ctx, id)
}

func (s *Store) load(ctx context.Context) ([]Notebook, error) {
	raw, ok, err := s.kv.Get(ctx, NotebooksKey)
	if err != nil {
		return nil, fmt.Errorf("notebook: load: %w", err)
	}
	if !ok || raw == "" {
		return []Notebook{}, nil
	}
	var all []Notebook
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("notebook: decode collection: %w", err)
	}
	for i := range all {
		if all[i].Entries == nil {
			all[i].Entries = []Entry{}
		}
		for j := range all[i].Entries {
			all[i].Entries[j].WordCount = CountWords(all[i].Entries[j].Content)
		}
		recount(&all[i])
	}
	return all, nil
}

func (s *Store) save(ctx context.Context, all []Notebook) error {
	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("notebook: encode collection: %w", err)
	}
	if err := s.kv.Set(ctx, NotebooksKey, string(raw)); err != nil {
		return fmt.Errorf("notebook: save: %w", err)
	}
	return nil
}

func (s *Store) wrote(op string) {
	if s.onWrite != nil {
		s.onWrite(op)
	}
}

func recount(nb *Notebook) {
	total := 0
	for _, e := range nb.Entries {
		total += e.WordCount
	}
	nb.TotalWords = total
	nb.TotalEntries = len(nb.Entries)
}

func indexOf(all []Notebook, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}
