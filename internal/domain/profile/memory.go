package profile

import (
	"context"
	"sync"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Get(_ context.Context, username string) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[username]
	return p.Clone(), ok, nil
}

func (s *MemoryStore) Upsert(_ context.Context, username string, mutate func(*Profile) error) (Profile, error) {
	if username == "" {
		return Profile{}, ErrEmptyUsername
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[username]
	if ok {
		p = p.Clone()
	} else {
		p = Profile{Username: username}
	}
	if err := mutate(&p); err != nil {
		return Profile{}, err
	}
	s.profiles[username] = p
	return p.Clone(), nil
}
