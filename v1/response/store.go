package response

import (
	"sync"
	"time"
)

type record struct {
	values    map[string]any
	updatedAt time.Time
}

// Store holds the current value of each field per form, last-write-wins.
// Records are created lazily on first write and live for the process
// lifetime. The store knows nothing about locks; callers enforce them.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*record)}
}

// Write unconditionally overwrites the field value and returns the new
// update timestamp.
func (s *Store) Write(formID, fieldName string, value any) time.Time {
	now := time.Now()
	s.mu.Lock()
	rec := s.records[formID]
	if rec == nil {
		rec = &record{values: make(map[string]any)}
		s.records[formID] = rec
	}
	rec.values[fieldName] = value
	rec.updatedAt = now
	s.mu.Unlock()
	return now
}

// Snapshot returns a copy of the form's current field values.
func (s *Store) Snapshot(formID string) map[string]any {
	s.mu.RLock()
	rec := s.records[formID]
	out := make(map[string]any, 0)
	if rec != nil {
		for k, v := range rec.values {
			out[k] = v
		}
	}
	s.mu.RUnlock()
	return out
}

// UpdatedAt reports when the form's response was last written.
func (s *Store) UpdatedAt(formID string) (time.Time, bool) {
	s.mu.RLock()
	rec := s.records[formID]
	s.mu.RUnlock()
	if rec == nil {
		return time.Time{}, false
	}
	return rec.updatedAt, true
}

// Has reports whether the form has any response recorded.
func (s *Store) Has(formID string) bool {
	s.mu.RLock()
	_, ok := s.records[formID]
	s.mu.RUnlock()
	return ok
}
