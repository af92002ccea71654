package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/domain/profile"
)

const profileKeyPrefix = "profile:"

// BadgerStore keeps one profile.Record per username under "profile:<name>".
// Upsert runs inside a single read-write transaction.
type BadgerStore struct {
	db        *badger.DB
	closeOnce sync.Once
	closeErr  error
}

var _ profile.Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) the database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger %s: %w", profile.ErrPersistence, dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, username string) (profile.Profile, bool, error) {
	var (
		p  profile.Profile
		ok bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, ok, err = read(txn, username)
		return err
	})
	if err != nil {
		return profile.Profile{}, false, fmt.Errorf("%w: get %s: %w", profile.ErrPersistence, username, err)
	}
	return p, ok, nil
}

func (s *BadgerStore) Upsert(_ context.Context, username string, mutate func(*profile.Profile) error) (profile.Profile, error) {
	if username == "" {
		return profile.Profile{}, profile.ErrEmptyUsername
	}

	var (
		out       profile.Profile
		mutateErr error
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		p, ok, err := read(txn, username)
		if err != nil {
			return err
		}
		if !ok {
			p = profile.Profile{Username: username}
		}
		if err := mutate(&p); err != nil {
			mutateErr = err
			return err
		}
		data, err := json.Marshal(profile.ToRecord(p))
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		if err := txn.Set([]byte(profileKeyPrefix+username), data); err != nil {
			return fmt.Errorf("set profile: %w", err)
		}
		out = p
		return nil
	})
	if mutateErr != nil {
		return profile.Profile{}, mutateErr
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: upsert %s: %w", profile.ErrPersistence, username, err)
	}
	return out.Clone(), nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

func read(txn *badger.Txn, username string) (profile.Profile, bool, error) {
	item, err := txn.Get([]byte(profileKeyPrefix + username))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return profile.Profile{}, false, nil
	}
	if err != nil {
		return profile.Profile{}, false, err
	}
	var r profile.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return profile.Profile{}, false, fmt.Errorf("decode profile: %w", err)
	}
	return profile.FromRecord(username, r), true, nil
}
