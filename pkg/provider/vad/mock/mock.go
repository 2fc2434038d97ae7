// Package mock provides scripted vad implementations for tests.
package mock

import (
	"errors"
	"sync"

	"github.com/zentrylabs/zentry/pkg/provider/vad"
)

// Engine is a vad.Engine whose sessions score windows via a caller-supplied
// function, letting tests shape speech probability from the window content.
type Engine struct {
	// Score returns the probability for a window. When nil, every window
	// scores 0.
	Score func(window []float32) (float64, error)

	mu       sync.Mutex
	Sessions []*Session
}

var _ vad.Engine = (*Engine)(nil)

// NewSession returns a Session backed by the engine's Score function.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	s := &Session{engine: e}
	e.mu.Lock()
	e.Sessions = append(e.Sessions, s)
	e.mu.Unlock()
	return s, nil
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

// Session records every interaction so tests can assert on resets and window
// counts.
type Session struct {
	engine *Engine

	mu       sync.Mutex
	Windows  int
	Resets   int
	IsClosed bool
}

var _ vad.Session = (*Session)(nil)

// ProcessWindow scores the window with the engine's Score function.
func (s *Session) ProcessWindow(window []float32) (float64, error) {
	s.mu.Lock()
	if s.IsClosed {
		s.mu.Unlock()
		return 0, errors.New("mock vad: session closed")
	}
	s.Windows++
	s.mu.Unlock()

	if s.engine.Score == nil {
		return 0, nil
	}
	return s.engine.Score(window)
}

// Reset increments the reset counter.
func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.IsClosed = true
	s.mu.Unlock()
	return nil
}
