package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/voxnode/internal/recognition"
)

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Session.Snapshot())
}

// sessionAction applies start, pause, resume, stop, or clear and replies with
// the resulting snapshot.
func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request) {
	// Recognition outlives the request.
	ctx := context.WithoutCancel(r.Context())

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.cfg.Session.Start(ctx)
	case "resume":
		err = s.cfg.Session.Resume(ctx)
	case "pause":
		s.cfg.Session.Pause()
	case "stop":
		s.cfg.Session.Stop()
	case "clear":
		err = s.cfg.Session.Clear()
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown session action %q", action), Code: "not_found"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Session.Snapshot())
}

type languageRequest struct {
	Language string `json:"language"`
}

func (s *Server) setLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		writeError(w, r, badRequest("empty_language", errors.New("api: language must not be empty")))
		return
	}
	s.cfg.Session.SetLanguage(lang)
	writeJSON(w, http.StatusOK, s.cfg.Session.Snapshot())
}

// recognitionStatus maps recognition failures surfaced by Start and Resume.
func recognitionStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, recognition.ErrUnsupported):
		return http.StatusServiceUnavailable, "recognition_unsupported", true
	case errors.Is(err, recognition.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied", true
	}
	return 0, "", false
}
