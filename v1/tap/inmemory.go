package tap

import (
	"context"
	"sync"
)

// InMemory is an in-process Tap mainly for tests and local observers.
type InMemory struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewInMemory creates a new InMemory tap.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]chan []byte)}
}

// Publish sends data to all watchers of the form. Slow watchers are skipped
// rather than blocking the publisher.
func (t *InMemory) Publish(ctx context.Context, formID string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.mu.Lock()
	chans := append([]chan []byte(nil), t.subs[formID]...)
	t.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch subscribes to a form and returns a channel receiving events.
func (t *InMemory) Watch(ctx context.Context, formID string) (chan []byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan []byte, 16)
	t.mu.Lock()
	t.subs[formID] = append(t.subs[formID], ch)
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = t.Unwatch(context.Background(), formID, ch)
	}()
	return ch, nil
}

// Unwatch removes the channel from the form's watchers.
func (t *InMemory) Unwatch(ctx context.Context, formID string, ch chan []byte) error {
	t.mu.Lock()
	subs := t.subs[formID]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			t.subs[formID] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(t.subs, formID)
	}
	t.mu.Unlock()
	return nil
}
