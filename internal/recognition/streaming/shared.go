package streaming

import (
	"io"
	"os"
	"sync"
)

const sharedReadSize = 32 * 1024

// stdinSource is the process-wide reader over stdin.
var stdinSource = sync.OnceValue(func() SourceFunc { return Shared(os.Stdin) })

// Shared returns a SourceFunc whose handles all read r through one long-lived
// reader goroutine, started on the first open. Closing a handle unblocks its
// pending Read with os.ErrClosed; bytes already taken from r but not consumed
// are served to the next handle. r itself is never closed.
func Shared(r io.Reader) SourceFunc {
	s := &sharedSource{r: r, chunks: make(chan []byte)}
	return func() (io.ReadCloser, error) {
		s.start.Do(func() { go s.readLoop() })
		return &sharedHandle{src: s, done: make(chan struct{})}, nil
	}
}

type sharedSource struct {
	r      io.Reader
	start  sync.Once
	chunks chan []byte
	err    error // written before chunks is closed

	mu      sync.Mutex
	pending []byte
}

func (s *sharedSource) readLoop() {
	for {
		buf := make([]byte, sharedReadSize)
		n, err := s.r.Read(buf)
		if n > 0 {
			s.chunks <- buf[:n]
		}
		if err != nil {
			s.err = err
			close(s.chunks)
			return
		}
	}
}

func (s *sharedSource) take(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n
}

func (s *sharedSource) put(chunk []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, chunk...)
	s.mu.Unlock()
}

type sharedHandle struct {
	src  *sharedSource
	done chan struct{}
	once sync.Once
}

func (h *sharedHandle) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-h.done:
			return 0, os.ErrClosed
		default:
		}
		if n := h.src.take(p); n > 0 {
			return n, nil
		}
		select {
		case <-h.done:
			return 0, os.ErrClosed
		case chunk, ok := <-h.src.chunks:
			if !ok {
				return 0, h.src.err
			}
			h.src.put(chunk)
		}
	}
}

// Close detaches the handle from the shared reader. Safe to call repeatedly.
func (h *sharedHandle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}
