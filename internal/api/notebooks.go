package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/voxnode/internal/notebook"
)

type createNotebookRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type currentRequest struct {
	ID string `json:"id"`
}

func (s *Server) listNotebooks(w http.ResponseWriter, r *http.Request) {
	all, err := s.cfg.Notebooks.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if all == nil {
		all = []notebook.Notebook{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) createNotebook(w http.ResponseWriter, r *http.Request) {
	var req createNotebookRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	nb, err := s.cfg.Notebooks.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

func (s *Server) getNotebook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nb, ok, err := s.cfg.Notebooks.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", notebook.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

func (s *Server) deleteNotebook(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Notebooks.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	s.appendEntry(w, r, id, req.Title, req.Content, fmt.Errorf("%w: %s", notebook.ErrNotFound, id))
}

// appendEntry adds an entry and replies with the updated notebook, or with
// missing when the notebook does not exist.
func (s *Server) appendEntry(w http.ResponseWriter, r *http.Request, id, title, content string, missing error) {
	ok, err := s.cfg.Notebooks.AddEntry(r.Context(), id, title, content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, missing)
		return
	}
	nb, _, err := s.cfg.Notebooks.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nb)
}

func (s *Server) getCurrent(w http.ResponseWriter, r *http.Request) {
	nb, ok, err := s.cfg.Notebooks.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: no current notebook", notebook.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

func (s *Server) setCurrent(w http.ResponseWriter, r *http.Request) {
	var req currentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	nb, ok, err := s.cfg.Notebooks.Get(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", notebook.ErrNotFound, req.ID))
		return
	}
	if err := s.cfg.Notebooks.SetCurrent(r.Context(), req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nb)
}

type saveRequest struct {
	Title string `json:"title"`
}

// save adds the committed transcript to the current notebook. The title
// defaults to a dated "Lettura"/"Reading" label.
func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap := s.cfg.Session.Snapshot()
	content := strings.TrimSpace(snap.Transcript.Committed)
	if content == "" {
		writeError(w, r, badRequest("empty_transcript", errors.New("api: no text to save")))
		return
	}
	nb, ok, err := s.cfg.Notebooks.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	noCurrent := &apiError{
		status: http.StatusConflict,
		code:   "no_current_notebook",
		err:    errors.New("api: no notebook selected"),
	}
	if !ok {
		writeError(w, r, noCurrent)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = notebook.DefaultTitle(snap.Language, s.cfg.Now())
	}
	s.appendEntry(w, r, nb.ID, title, content, noCurrent)
}
