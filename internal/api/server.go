// Package api exposes a reading session, its notebooks, and the chat relay
// over HTTP for a presentation layer.
//
// Routes:
//
//	GET    /v1/session                  snapshot
//	POST   /v1/session/{action}         start, pause, resume, stop, clear
//	POST   /v1/session/language         {"language": "en"}
//	GET    /v1/session/ws               WebSocket stream of session updates
//	GET    /v1/notebooks                list
//	POST   /v1/notebooks                {"name", "description"}
//	GET    /v1/notebooks/current        current notebook
//	PUT    /v1/notebooks/current        {"id"}
//	GET    /v1/notebooks/{id}           one notebook
//	DELETE /v1/notebooks/{id}           delete
//	POST   /v1/notebooks/{id}/entries   {"title", "content"}
//	POST   /v1/save                     save the transcript into the current notebook
//	POST   /v1/ask                      {"question", "stream"}
//	GET    /healthz, /readyz, /metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voxnode/internal/chat"
	"github.com/MrWong99/voxnode/internal/health"
	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/internal/observe"
	"github.com/MrWong99/voxnode/internal/session"
)

// maxBody caps request bodies. Entries carry whole transcripts.
const maxBody = 8 << 20

// Session is the session surface the API drives. It is satisfied by
// *session.Session.
type Session interface {
	Start(ctx context.Context) error
	Pause()
	Resume(ctx context.Context) error
	Stop()
	Clear() error
	SetLanguage(lang string)
	Snapshot() session.Snapshot
	Transcript() string
}

// Notebooks is the notebook surface the API drives. It is satisfied by
// *notebook.Store.
type Notebooks interface {
	Create(ctx context.Context, name, description string) (notebook.Notebook, error)
	AddEntry(ctx context.Context, id, title, content string) (bool, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (notebook.Notebook, bool, error)
	List(ctx context.Context) ([]notebook.Notebook, error)
	SetCurrent(ctx context.Context, id string) error
	Current(ctx context.Context) (notebook.Notebook, bool, error)
}

// Asker answers questions about a transcript. It is satisfied by
// *chat.Relay.
type Asker interface {
	Ask(ctx context.Context, question, transcript string, cfg chat.Config) (string, error)
	AskStream(ctx context.Context, question, transcript string, cfg chat.Config, onProgress func(string)) (string, error)
}

// Config holds the Server's collaborators. Session, Notebooks, and Chat are
// required.
type Config struct {
	Session   Session
	Notebooks Notebooks
	Chat      Asker

	// ChatConfig returns the chat settings for a request. It is called per
	// request so hot-reloaded settings apply immediately.
	ChatConfig func() chat.Config

	// Hub, when set, serves /v1/session/ws.
	Hub *Hub

	// Health, when set, serves /healthz and /readyz.
	Health *health.Handler

	// Metrics records HTTP metrics; MetricsHandler serves /metrics.
	Metrics        *observe.Metrics
	MetricsHandler http.Handler

	// Now is the clock used for default entry titles.
	Now func() time.Time
}

// Server is the HTTP API.
type Server struct {
	cfg Config
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Session == nil:
		return nil, errors.New("api: session is required")
	case cfg.Notebooks == nil:
		return nil, errors.New("api: notebooks are required")
	case cfg.Chat == nil:
		return nil, errors.New("api: chat is required")
	}
	if cfg.ChatConfig == nil {
		cfg.ChatConfig = func() chat.Config { return chat.Config{} }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns the routed handler wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/session", s.getSession)
	mux.HandleFunc("POST /v1/session/language", s.setLanguage)
	mux.HandleFunc("POST /v1/session/{action}", s.sessionAction)
	if s.cfg.Hub != nil {
		mux.Handle("GET /v1/session/ws", s.cfg.Hub)
	}

	mux.HandleFunc("GET /v1/notebooks", s.listNotebooks)
	mux.HandleFunc("POST /v1/notebooks", s.createNotebook)
	mux.HandleFunc("GET /v1/notebooks/current", s.getCurrent)
	mux.HandleFunc("PUT /v1/notebooks/current", s.setCurrent)
	mux.HandleFunc("GET /v1/notebooks/{id}", s.getNotebook)
	mux.HandleFunc("DELETE /v1/notebooks/{id}", s.deleteNotebook)
	mux.HandleFunc("POST /v1/notebooks/{id}/entries", s.addEntry)
	mux.HandleFunc("POST /v1/save", s.save)

	mux.HandleFunc("POST /v1/ask", s.ask)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	return observe.Middleware(s.cfg.Metrics)(mux)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// apiError pairs an HTTP status with a stable machine-readable code.
type apiError struct {
	status int
	code   string
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

func badRequest(code string, err error) error {
	return &apiError{status: http.StatusBadRequest, code: code, err: err}
}

// writeError maps err to a status and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "route", r.Pattern, "err", err)
	} else {
		observe.Logger(r.Context()).Debug("api: request rejected", "route", r.Pattern, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status, ae.code
	}
	var re *chat.RemoteError
	switch {
	case errors.Is(err, notebook.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, notebook.ErrEmptyName):
		return http.StatusBadRequest, "empty_name"
	case errors.Is(err, session.ErrListening):
		return http.StatusConflict, "listening"
	case errors.Is(err, chat.ErrConfigMissing):
		return http.StatusBadRequest, "config_missing"
	case errors.Is(err, chat.ErrUnsupportedProvider):
		return http.StatusBadRequest, "unsupported_provider"
	case errors.Is(err, chat.ErrEmptyQuestion):
		return http.StatusBadRequest, "empty_question"
	case errors.As(err, &re):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "timeout"
		}
		return http.StatusBadGateway, "remote"
	}
	if status, code, ok := recognitionStatus(err); ok {
		return status, code
	}
	return http.StatusInternalServerError, "internal"
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

// decode reads a JSON body into v. An empty body leaves v at its zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("bad_json", fmt.Errorf("api: decode body: %w", err))
	}
	return nil
}
