// Package session owns the current transcript for the process.
package session

import (
	"context"
	"sync"

	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/store"
)

// Session serializes transcript replacement against analysis reads. A reader
// sees either the previous transcript or the new one, never a partial swap.
type Session struct {
	mu    sync.RWMutex
	store store.Store
}

func New(s store.Store) *Session {
	return &Session{store: s}
}

// FetchFunc produces the transcript that replaces the current one.
type FetchFunc func(ctx context.Context) (*models.Transcript, error)

// Replace deletes the cached transcript, calls fetch and saves its result,
// all under the write lock.
func (s *Session) Replace(ctx context.Context, fetch FetchFunc) (*models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx); err != nil {
		return nil, err
	}

	t, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Current returns the cached transcript under the read lock.
func (s *Session) Current(ctx context.Context) (*models.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Read(ctx)
}

// Clear removes the cached transcript.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx)
}
