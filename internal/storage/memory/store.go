package memory

import (
	"context"
	"sync"

	"slideshow/internal/storage"
)

// Store keeps items in process memory. It mirrors the SQLite store's
// semantics closely enough for tests of the live pipeline.
type Store struct {
	mu    sync.RWMutex
	seq   int64
	items []storage.Item
	names map[string]struct{}

	// err, when set, is returned by every read and write.
	err error
}

func New() *Store {
	return &Store{names: make(map[string]struct{})}
}

func (s *Store) Insert(ctx context.Context, item *storage.Item) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, exists := s.names[item.Name]; exists {
		return storage.ErrNameTaken
	}
	s.seq++
	item.ID = s.seq
	s.items = append(s.items, *item)
	s.names[item.Name] = struct{}{}
	return nil
}

func (s *Store) All(ctx context.Context) ([]storage.Item, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make([]storage.Item, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return 0, s.err
	}
	return len(s.items), nil
}

func (s *Store) MaxID(ctx context.Context) (int64, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return 0, false, s.err
	}
	if len(s.items) == 0 {
		return 0, false, nil
	}
	return s.items[len(s.items)-1].ID, true, nil
}

func (s *Store) DeleteUpTo(ctx context.Context, maxID int64) (int64, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	kept := s.items[:0]
	var deleted int64
	for _, item := range s.items {
		if item.ID >= 1 && item.ID <= maxID {
			delete(s.names, item.Name)
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return deleted, nil
}

// SetErr makes every later call fail with err; nil clears it.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
