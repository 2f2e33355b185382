package form

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a Store implementation backed by maps. It is the default
// backend for single-process deployments and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Form
	byCode map[string]string
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]Form),
		byCode: make(map[string]string),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (Form, bool, error) {
	s.mu.RLock()
	f, ok := s.byID[id]
	s.mu.RUnlock()
	return f, ok, nil
}

// GetByShareCode implements Store.GetByShareCode.
func (s *InMemoryStore) GetByShareCode(ctx context.Context, code string) (Form, bool, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	var f Form
	if ok {
		f, ok = s.byID[id]
	}
	s.mu.RUnlock()
	return f, ok, nil
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(ctx context.Context, f Form) error {
	s.mu.Lock()
	if old, ok := s.byID[f.ID]; ok && old.ShareCode != f.ShareCode {
		delete(s.byCode, old.ShareCode)
	}
	s.byID[f.ID] = f
	if f.ShareCode != "" {
		s.byCode[f.ShareCode] = f.ID
	}
	s.mu.Unlock()
	return nil
}

// List implements Store.List.
func (s *InMemoryStore) List(ctx context.Context, createdBy string) ([]Form, error) {
	s.mu.RLock()
	forms := make([]Form, 0)
	for _, f := range s.byID {
		if f.CreatedBy == createdBy {
			forms = append(forms, f)
		}
	}
	s.mu.RUnlock()
	sort.Slice(forms, func(i, j int) bool { return forms[i].CreatedAt.Before(forms[j].CreatedAt) })
	return forms, nil
}
