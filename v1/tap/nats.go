package tap

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "formloom.events."

// NATSTap mirrors events over NATS, one subject per form.
type NATSTap struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[chan []byte]*nats.Subscription
}

// NewNATSTap creates a NATSTap using the provided connection.
func NewNATSTap(conn *nats.Conn) *NATSTap {
	return &NATSTap{conn: conn, subs: make(map[chan []byte]*nats.Subscription)}
}

// Publish implements Tap.Publish.
func (t *NATSTap) Publish(ctx context.Context, formID string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return t.conn.Publish(natsSubjectPrefix+formID, data)
}

// Watch subscribes to the form's NATS subject.
func (t *NATSTap) Watch(ctx context.Context, formID string) (chan []byte, error) {
	ch := make(chan []byte, 16)
	sub, err := t.conn.Subscribe(natsSubjectPrefix+formID, func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.subs[ch] = sub
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = t.Unwatch(context.Background(), formID, ch)
	}()
	return ch, nil
}

// Unwatch cancels the subscription backing the channel.
func (t *NATSTap) Unwatch(ctx context.Context, formID string, ch chan []byte) error {
	t.mu.Lock()
	sub, ok := t.subs[ch]
	if ok {
		delete(t.subs, ch)
		close(ch)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}
