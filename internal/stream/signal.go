package stream

import (
	"context"
	"sync"
)

// Signal is a one-shot start event. Firing it more than once is harmless.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire releases every current and future waiter.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
