// Package profiles implements the FeedbackStore backends: a users.json
// document and a Badger key-value store.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/okian/villes/internal/adapters/atomicfile"
	"github.com/okian/villes/internal/domain/profile"
)

// JSONFileStore keeps every profile in one {"<username>": {...}} document.
// Each Upsert re-reads the document and replaces the file atomically before
// returning.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

var _ profile.Store = (*JSONFileStore)(nil)

// NewJSONFileStore creates a store backed by path.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir for %s: %w", profile.ErrPersistence, path, err)
	}
	return &JSONFileStore{path: path}, nil
}

func (s *JSONFileStore) Get(_ context.Context, username string) (profile.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return profile.Profile{}, false, err
	}
	p, ok := all[username]
	return p, ok, nil
}

func (s *JSONFileStore) Upsert(_ context.Context, username string, mutate func(*profile.Profile) error) (profile.Profile, error) {
	if username == "" {
		return profile.Profile{}, profile.ErrEmptyUsername
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return profile.Profile{}, err
	}
	p, ok := all[username]
	if !ok {
		p = profile.Profile{Username: username}
	}
	if err := mutate(&p); err != nil {
		return profile.Profile{}, err
	}
	all[username] = p

	data, err := profile.EncodeAll(all)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: encode: %w", profile.ErrPersistence, err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o600); err != nil {
		return profile.Profile{}, fmt.Errorf("%w: %s: %w", profile.ErrPersistence, username, err)
	}
	return p.Clone(), nil
}

func (s *JSONFileStore) Close() error { return nil }

func (s *JSONFileStore) load() (map[string]profile.Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return make(map[string]profile.Profile), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", profile.ErrPersistence, s.path, err)
	}
	all, err := profile.DecodeAll(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", profile.ErrPersistence, s.path, err)
	}
	return all, nil
}
