package form

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedStore wraps a Store with a ristretto read-through cache so the join
// path never waits on the backing store for hot forms.
type CachedStore struct {
	backend Store
	cache   *ristretto.Cache
	ttl     time.Duration
}

// CachedOption configures a CachedStore.
type CachedOption func(*cachedStoreOptions)

type cachedStoreOptions struct {
	ttl time.Duration
	cfg *ristretto.Config
}

// WithCacheTTL sets how long cached form definitions stay valid.
func WithCacheTTL(d time.Duration) CachedOption {
	return func(o *cachedStoreOptions) {
		o.ttl = d
	}
}

// WithRistretto applies a custom ristretto configuration.
func WithRistretto(cfg *ristretto.Config) CachedOption {
	return func(o *cachedStoreOptions) {
		o.cfg = cfg
	}
}

// NewCachedStore returns a Store that caches Get results from backend.
func NewCachedStore(backend Store, opts ...CachedOption) *CachedStore {
	o := cachedStoreOptions{
		ttl: time.Minute,
		cfg: &ristretto.Config{
			NumCounters: 1e4,
			MaxCost:     1 << 20,
			BufferItems: 64,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	rc, err := ristretto.NewCache(o.cfg)
	if err != nil {
		panic(err)
	}
	return &CachedStore{backend: backend, cache: rc, ttl: o.ttl}
}

// Get implements Store.Get, serving hot forms from the cache.
func (s *CachedStore) Get(ctx context.Context, id string) (Form, bool, error) {
	if v, ok := s.cache.Get(id); ok {
		f, _ := v.(Form)
		return f, true, nil
	}
	f, ok, err := s.backend.Get(ctx, id)
	if err != nil || !ok {
		return Form{}, ok, err
	}
	s.cache.SetWithTTL(id, f, 1, s.ttl)
	return f, true, nil
}

// GetByShareCode implements Store.GetByShareCode. Share code joins are rare
// compared to id lookups, so they always hit the backend.
func (s *CachedStore) GetByShareCode(ctx context.Context, code string) (Form, bool, error) {
	return s.backend.GetByShareCode(ctx, code)
}

// Put implements Store.Put, invalidating any cached copy.
func (s *CachedStore) Put(ctx context.Context, f Form) error {
	if err := s.backend.Put(ctx, f); err != nil {
		return err
	}
	s.cache.Del(f.ID)
	return nil
}

// List implements Store.List.
func (s *CachedStore) List(ctx context.Context, createdBy string) ([]Form, error) {
	return s.backend.List(ctx, createdBy)
}

// Wait blocks until pending cache writes are applied. Used in tests.
func (s *CachedStore) Wait() {
	s.cache.Wait()
}

// Close releases the cache resources.
func (s *CachedStore) Close() {
	s.cache.Close()
}
