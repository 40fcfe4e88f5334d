package hub

import (
	"bufio"
	"sync"
)

var keepAliveFrame = []byte(":keep-alive\n\n")

// SSESink writes server-sent event frames to a fasthttp stream writer.
type SSESink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closed bool
}

func NewSSESink(w *bufio.Writer) *SSESink {
	return &SSESink{w: w}
}

func (s *SSESink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	if _, err := s.w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	if _, err := s.w.WriteString("\n\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *SSESink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	if _, err := s.w.Write(keepAliveFrame); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close marks the sink closed. The stream itself ends when the handler
// waiting on Subscription.Done returns.
func (s *SSESink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
