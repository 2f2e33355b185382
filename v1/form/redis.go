package form

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	flerrors "github.com/formloom/formloom/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

const (
	formKeyPrefix = "form:"
	codeKeyPrefix = "formcode:"
)

// RedisStore implements Store using a Redis backend. Forms are stored as
// JSON under "form:<id>" with a secondary "formcode:<code>" index.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, timeout: o.timeout}
}

func mapRedisErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return flerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return flerrors.ErrConnectionClosed
	}
	return err
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) (Form, bool, error) {
	var zero Form
	if err := ctx.Err(); err != nil {
		return zero, false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, formKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapRedisErr(err)
	}
	var f Form
	if err := json.Unmarshal(data, &f); err != nil {
		return zero, false, err
	}
	return f, true, nil
}

// GetByShareCode implements Store.GetByShareCode.
func (s *RedisStore) GetByShareCode(ctx context.Context, code string) (Form, bool, error) {
	var zero Form
	if err := ctx.Err(); err != nil {
		return zero, false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	id, err := s.client.Get(cctx, codeKeyPrefix+code).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapRedisErr(err)
	}
	return s.Get(ctx, id)
}

// Put implements Store.Put.
func (s *RedisStore) Put(ctx context.Context, f Form) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, formKeyPrefix+f.ID, data, 0)
	if f.ShareCode != "" {
		pipe.Set(cctx, codeKeyPrefix+f.ShareCode, f.ID, 0)
	}
	if _, err := pipe.Exec(cctx); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// List implements Store.List using SCAN to iterate over form keys.
func (s *RedisStore) List(ctx context.Context, createdBy string) ([]Form, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var cursor uint64
	var forms []Form
	for {
		keys, next, err := s.client.Scan(cctx, cursor, formKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, mapRedisErr(err)
		}
		for _, key := range keys {
			data, err := s.client.Get(cctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, mapRedisErr(err)
			}
			var f Form
			if err := json.Unmarshal(data, &f); err != nil {
				return nil, err
			}
			if f.CreatedBy == createdBy {
				forms = append(forms, f)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].CreatedAt.Before(forms[j].CreatedAt) })
	return forms, nil
}
