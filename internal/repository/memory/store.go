// Package memory provides the default in-process circle store. Get and
// Save exchange deep copies, so an operation that fails midway never leaks
// partial mutations into the published aggregate.
package memory

import (
	"context"
	"sync"

	"circlepot/internal/domain"
	pkgerrors "circlepot/pkg/errors"
)

type Store struct {
	mu      sync.RWMutex
	counter uint64
	circles map[uint64]*domain.Circle
}

func NewStore() *Store {
	return &Store{circles: make(map[uint64]*domain.Circle)}
}

// NextID allocates the next circle id from the monotonic counter.
func (s *Store) NextID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *Store) Create(ctx context.Context, c *domain.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Config.ID == 0 || c.Config.ID > s.counter {
		return pkgerrors.ErrCircleNotFound
	}
	s.circles[c.Config.ID] = c.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id uint64) (*domain.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.circles[id]
	if !ok {
		return nil, pkgerrors.ErrCircleNotFound
	}
	return c.Clone(), nil
}

func (s *Store) Save(ctx context.Context, c *domain.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[c.Config.ID]; !ok {
		return pkgerrors.ErrCircleNotFound
	}
	s.circles[c.Config.ID] = c.Clone()
	return nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Circle, 0, len(s.circles))
	for id := uint64(1); id <= s.counter; id++ {
		if c, ok := s.circles[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}
