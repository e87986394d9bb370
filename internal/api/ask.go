package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/voxnode/internal/observe"
)

type askRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// progressEvent carries the cumulative answer text.
type progressEvent struct {
	Text string `json:"text"`
}

// ask relays a question with the current transcript as context. With
// "stream": true the reply is a text/event-stream of "progress" events, each
// carrying the cumulative text, closed by one "done" or "error" event.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	transcript := s.cfg.Session.Transcript()
	cfg := s.cfg.ChatConfig()

	if !req.Stream {
		answer, err := s.cfg.Chat.Ask(r.Context(), req.Question, transcript, cfg)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, askResponse{Answer: answer})
		return
	}

	rc := http.NewResponseController(w)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	send := func(event string, v any) {
		start()
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			observe.Logger(r.Context()).Debug("api: flush sse", "err", err)
		}
	}

	answer, err := s.cfg.Chat.AskStream(r.Context(), req.Question, transcript, cfg, func(text string) {
		send("progress", progressEvent{Text: text})
	})
	if err != nil {
		if !started {
			// Nothing streamed yet: a plain error response is still possible.
			writeError(w, r, err)
			return
		}
		_, code := classify(err)
		observe.Logger(r.Context()).Warn("api: stream ended with error", "err", err)
		send("error", errorBody{Error: err.Error(), Code: code})
		return
	}
	send("done", askResponse{Answer: answer})
}
