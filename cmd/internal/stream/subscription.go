package stream

import (
	"errors"
	"sync"

	"crm/cmd/internal/auth/session"
)

var (
	errStreamStarted = errors.New("stream already started")
	errStreamClosed  = errors.New("stream closed")
)

// subscription is one connection's hold on the session source. After close, start refuses to
// subscribe, so a connection torn down mid-hello never leaves a subscriber behind.
type subscription struct {
	mu     sync.Mutex
	cancel func()
	closed bool
}

func (s *subscription) start(src Source) (<-chan session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, errStreamClosed
	case s.cancel != nil:
		return nil, errStreamStarted
	}
	updates, cancel := src.Subscribe()
	s.cancel = cancel
	return updates, nil
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
