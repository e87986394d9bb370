// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxnode/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "it"
	defaultSampleRate = 16000

	// defaultFlushTimeout bounds how long Close waits for the results
	// Deepgram flushes after CloseStream.
	defaultFlushTimeout = 2 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the fallback language used when StreamConfig.Language is
// empty.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithPunctuate toggles Deepgram's punctuation and capitalisation. It is on
// by default; callers that match transcripts against plain command phrases
// turn it off.
func WithPunctuate(on bool) Option {
	return func(p *Provider) {
		p.punctuate = on
	}
}

// WithFlushTimeout sets how long Close waits for final results after asking
// Deepgram to flush. Non-positive values are ignored.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.flushTimeout = d
		}
	}
}

// WithEndpoint overrides the streaming endpoint. Tests point this at a local
// WebSocket server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	model        string
	language     string
	sampleRate   int
	endpoint     string
	punctuate    bool
	flushTimeout time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		endpoint:     deepgramEndpoint,
		punctuate:    true,
		flushTimeout: defaultFlushTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the dial context; Close ends it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:         conn,
		results:      make(chan stt.Transcript, 64),
		audio:        make(chan []byte, 256),
		cancel:       cancel,
		flushTimeout: p.flushTimeout,
		done:         make(chan struct{}),
		readDone:     make(chan struct{}),
		writeDone:    make(chan struct{}),
	}

	go sess.readLoop(sessCtx)
	go sess.writeLoop(sessCtx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", strconv.FormatBool(p.punctuate))
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Calvino:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn         *websocket.Conn
	results      chan stt.Transcript
	audio        chan []byte
	cancel       context.CancelFunc
	flushTimeout time.Duration

	done      chan struct{} // closed when Close starts
	readDone  chan struct{}
	writeDone chan struct{}
	once      sync.Once

	errMu sync.Mutex
	err   error
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Results returns the ordered channel of interim and final transcripts.
func (s *session) Results() <-chan stt.Transcript { return s.results }

// Err returns the read error that ended the session, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close asks Deepgram to flush, keeps delivering the results it sends back
// until the server closes the socket or the flush timeout passes, then
// terminates the session.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
		defer cancel()
		select {
		case <-s.writeDone:
		case <-ctx.Done():
		}
		if ctx.Err() == nil {
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err == nil {
				select {
				case <-s.readDone:
				case <-ctx.Done():
				}
			}
		}

		s.cancel()
		<-s.writeDone
		<-s.readDone
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer close(s.writeDone)
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards results in
// arrival order. It keeps running after Close starts so flushed finals are
// delivered; ctx ends it.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.readDone)
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					s.errMu.Lock()
					s.err = fmt.Errorf("deepgram: read: %w", err)
					s.errMu.Unlock()
				}
			}
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.results <- t:
		case <-ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return stt.Transcript{}, false
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}
