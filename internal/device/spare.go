package device

import "sync"

type freer interface {
	Size() int64
	Free() error
}

// spare holds at most one released staging buffer for reuse.
type spare[B freer] struct {
	mu   sync.Mutex
	buf  B
	held bool
}

// take hands out the held buffer if it can hold size bytes. A held buffer
// that is too small is freed so the caller's fresh allocation replaces it.
func (s *spare[B]) take(size int64) (B, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero B
	if !s.held {
		return zero, false, nil
	}
	b := s.buf
	s.buf, s.held = zero, false
	if b.Size() >= size {
		return b, true, nil
	}
	return zero, false, b.Free()
}

// put keeps the larger of b and the held buffer and frees the other.
func (s *spare[B]) put(b B) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		s.buf, s.held = b, true
		return nil
	}
	if b.Size() > s.buf.Size() {
		s.buf, b = b, s.buf
	}
	return b.Free()
}

func (s *spare[B]) drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return nil
	}
	var zero B
	b := s.buf
	s.buf, s.held = zero, false
	return b.Free()
}
