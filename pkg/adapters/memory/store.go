package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/formtree/pkg/domain"
)

// Store implements ports.FormStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.FormState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.FormState),
	}
}

// Save persists a deep copy of the state.
func (s *Store) Save(ctx context.Context, state *domain.FormState) error {
	copied := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[state.ID] = copied
	return nil
}

// Load retrieves a copy of the form so callers can't mutate the stored one.
func (s *Store) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[formID]
	if !ok {
		return nil, domain.ErrFormNotFound
	}
	return state.Clone(), nil
}

// Delete removes the form.
func (s *Store) Delete(ctx context.Context, formID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, formID)
	return nil
}

// List returns stored form ids in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	forms := make([]string, 0, len(s.data))
	for id := range s.data {
		forms = append(forms, id)
	}
	sort.Strings(forms)
	return forms, nil
}
