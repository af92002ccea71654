package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/adapters/atomicfile"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
)

// JSONFileStore keeps the records as one JSON array in a file. Every call
// re-reads the file so separate processes observe each other's writes;
// writes replace the file atomically. Concurrent writers in different
// processes can still lose updates, use SQLiteStore for that deployment.
type JSONFileStore struct {
	path   string
	indent string
	mu     sync.Mutex
	logger logger.Logger
}

var _ Store = (*JSONFileStore)(nil)

// NewJSONFileStore creates a store backed by path. The file is created on
// the first write.
func NewJSONFileStore(path string, opts ...Option) (*JSONFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir for %s: %w", ErrPersistence, path, err)
	}
	s := &JSONFileStore{path: path, indent: "    "}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("record-store")
	}
	return s, nil
}

func (s *JSONFileStore) Upsert(ctx context.Context, rec model.EnrichedCity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range recs {
		if recs[i].Identity() == rec.Identity() {
			recs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	return s.write(recs)
}

func (s *JSONFileStore) Has(ctx context.Context, id model.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.Identity() == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *JSONFileStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(ctx)
	return len(recs), err
}

func (s *JSONFileStore) List(ctx context.Context) ([]model.EnrichedCity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx)
}

func (s *JSONFileStore) Close() error { return nil }

// load reads the array. Entries that no longer decode are skipped and
// logged, they would otherwise block every later write.
func (s *JSONFileStore) load(ctx context.Context) ([]model.EnrichedCity, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrPersistence, s.path, err)
	}
	recs := make([]model.EnrichedCity, 0, len(raw))
	for i, r := range raw {
		rec, err := model.DecodeEnriched(r)
		if err != nil {
			s.logger.Warn(ctx, "skipping stored record", logger.Int("index", i), logger.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *JSONFileStore) write(recs []model.EnrichedCity) error {
	if recs == nil {
		recs = []model.EnrichedCity{}
	}
	var (
		data []byte
		err  error
	)
	if s.indent != "" {
		data, err = json.MarshalIndent(recs, "", s.indent)
	} else {
		data, err = json.Marshal(recs)
	}
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
