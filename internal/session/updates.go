package session

import "log/slog"

// UpdateKind discriminates Update.
type UpdateKind string

const (
	UpdateStatus       UpdateKind = "status"
	UpdateTranscript   UpdateKind = "transcript"
	UpdateConfidence   UpdateKind = "confidence"
	UpdateNotification UpdateKind = "notification"
	UpdateDiagnostic   UpdateKind = "diagnostic"
)

// NoticeLevel is the severity of a notification.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Update is a message for the presentation layer. Only the fields relevant
// to Kind are set.
type Update struct {
	Kind UpdateKind `json:"kind"`

	// Status is the reported state for UpdateStatus and the current state
	// for every other kind.
	Status     Status `json:"status"`
	StatusText string `json:"status_text,omitempty"`

	Committed string `json:"committed,omitempty"`
	Interim   string `json:"interim,omitempty"`
	Appended  string `json:"appended,omitempty"`
	WordCount int    `json:"word_count,omitempty"`

	Confidence float64 `json:"confidence,omitempty"`
	Level      float64 `json:"level,omitempty"`

	NoticeLevel NoticeLevel `json:"notice_level,omitempty"`
	Notice      string      `json:"notice,omitempty"`

	Diagnostic string `json:"diagnostic,omitempty"`
}

type textKey int

const (
	textReady textKey = iota
	textListening
	textPaused
	textFinished
	textPausedSaved
	textCompleted
	textCleared
	textStopFirst
)

var texts = map[string]map[textKey]string{
	"it": {
		textReady:       "Pronto",
		textListening:   "Ascoltando...",
		textPaused:      "In pausa",
		textFinished:    "Completato",
		textPausedSaved: "Pausa - Testo salvato",
		textCompleted:   "Lettura completata!",
		textCleared:     "Testo cancellato",
		textStopFirst:   "Fermati prima di cancellare",
	},
	"en": {
		textReady:       "Ready",
		textListening:   "Listening...",
		textPaused:      "Paused",
		textFinished:    "Completed",
		textPausedSaved: "Paused - Text saved",
		textCompleted:   "Reading completed!",
		textCleared:     "Text cleared",
		textStopFirst:   "Stop before clearing",
	},
}

func (s *Session) textLocked(k textKey) string {
	if t, ok := texts[s.lang]; ok {
		return t[k]
	}
	return texts["en"][k]
}

// statusTextLocked renders st; an idle session with text reads as finished.
func (s *Session) statusTextLocked(st Status) string {
	switch st {
	case Listening:
		return s.textLocked(textListening)
	case Paused:
		return s.textLocked(textPaused)
	case Stopped:
		return s.textLocked(textFinished)
	default:
		if s.transcript.Committed != "" {
			return s.textLocked(textFinished)
		}
		return s.textLocked(textReady)
	}
}

func (s *Session) emitStatusLocked(st Status) {
	s.send(Update{Kind: UpdateStatus, Status: st, StatusText: s.statusTextLocked(st)})
}

func (s *Session) emitTranscriptLocked(appended string) {
	s.send(Update{
		Kind:      UpdateTranscript,
		Committed: s.transcript.Committed,
		Interim:   s.transcript.Interim,
		Appended:  appended,
		WordCount: countWords(s.transcript.Committed),
	})
}

func (s *Session) notifyLocked(level NoticeLevel, k textKey) {
	s.send(Update{Kind: UpdateNotification, NoticeLevel: level, Notice: s.textLocked(k)})
}

// send delivers u without blocking. s.mu must be held.
func (s *Session) send(u Update) {
	if u.Kind != UpdateStatus {
		u.Status = s.status
	}
	select {
	case s.updates <- u:
	default:
		slog.Debug("session: update dropped, consumer too slow", "kind", u.Kind)
	}
}
