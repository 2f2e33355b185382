package tap

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "formloom:events:"

// RedisTap mirrors events over Redis pub/sub, one channel per form.
type RedisTap struct {
	client *redis.Client

	mu      sync.Mutex
	cancels map[string]map[chan []byte]context.CancelFunc
}

// NewRedisTap creates a RedisTap using the provided client.
func NewRedisTap(client *redis.Client) *RedisTap {
	return &RedisTap{
		client:  client,
		cancels: make(map[string]map[chan []byte]context.CancelFunc),
	}
}

// Publish implements Tap.Publish.
func (t *RedisTap) Publish(ctx context.Context, formID string, data []byte) error {
	return t.client.Publish(ctx, redisChannelPrefix+formID, data).Err()
}

// Watch subscribes to the form's Redis channel.
func (t *RedisTap) Watch(ctx context.Context, formID string) (chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, 16)

	ps := t.client.Subscribe(ctx, redisChannelPrefix+formID)
	// wait for the subscription to be established before returning
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}

	t.mu.Lock()
	m := t.cancels[formID]
	if m == nil {
		m = make(map[chan []byte]context.CancelFunc)
		t.cancels[formID] = m
	}
	m[ch] = func() {
		cancel()
		_ = ps.Close()
	}
	t.mu.Unlock()

	go func() {
		defer close(ch)
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Unwatch stops watching the form for the given channel.
func (t *RedisTap) Unwatch(ctx context.Context, formID string, ch chan []byte) error {
	t.mu.Lock()
	m := t.cancels[formID]
	cancel, ok := m[ch]
	if ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(t.cancels, formID)
		}
	}
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
