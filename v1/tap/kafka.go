package tap

import (
	"context"

	"github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic used when none is configured.
const DefaultKafkaTopic = "formloom-events"

// KafkaTap appends every mirrored event to a Kafka topic, keyed by form id
// so a form's events land in one partition in order. It is publish-only.
type KafkaTap struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaTap creates a KafkaTap connecting to the given brokers.
func NewKafkaTap(brokers []string, topic string, cfg *sarama.Config) (*KafkaTap, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaTapFromProducer(producer, topic), nil
}

// NewKafkaTapFromProducer wraps an existing producer, mainly for tests.
func NewKafkaTapFromProducer(producer sarama.SyncProducer, topic string) *KafkaTap {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaTap{producer: producer, topic: topic}
}

// Publish implements Tap.Publish.
func (t *KafkaTap) Publish(ctx context.Context, formID string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, _, err := t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(formID),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Close releases the underlying producer.
func (t *KafkaTap) Close() error {
	return t.producer.Close()
}
