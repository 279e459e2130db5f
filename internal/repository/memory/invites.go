package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InviteStore keeps private-circle invites in process memory.
type InviteStore struct {
	mu      sync.RWMutex
	invites map[uint64]map[uuid.UUID]bool
}

func NewInviteStore() *InviteStore {
	return &InviteStore{invites: make(map[uint64]map[uuid.UUID]bool)}
}

func (s *InviteStore) Invite(ctx context.Context, circleID uint64, user uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invites[circleID] == nil {
		s.invites[circleID] = make(map[uuid.UUID]bool)
	}
	s.invites[circleID][user] = true
	return nil
}

func (s *InviteStore) IsInvited(ctx context.Context, circleID uint64, user uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invites[circleID][user], nil
}
