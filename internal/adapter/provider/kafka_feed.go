package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMessageReader is the subset of *kafka.Reader the provider needs.
type KafkaMessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaFeedProvider takes the most recent feed document published on a topic.
// Each message carries one complete payload. Messages that arrived since the
// last fetch are drained and only the newest is returned.
type KafkaFeedProvider struct {
	reader KafkaMessageReader
	topic  string
	// idle is how long to wait for further messages once one has arrived.
	idle time.Duration
}

func NewKafkaFeedProvider(brokers []string, topic, group string) *KafkaFeedProvider {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: MaxPayloadBytes,
	})
	return NewKafkaFeedProviderWithReader(reader, topic)
}

func NewKafkaFeedProviderWithReader(reader KafkaMessageReader, topic string) *KafkaFeedProvider {
	return &KafkaFeedProvider{
		reader: reader,
		topic:  topic,
		idle:   250 * time.Millisecond,
	}
}

func (p *KafkaFeedProvider) Name() string {
	return "kafka:" + p.topic
}

// Fetch blocks until at least one message is available or ctx ends.
func (p *KafkaFeedProvider) Fetch(ctx context.Context) ([]byte, error) {
	msg, err := p.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", p.topic, err)
	}

	latest := msg
	for {
		drainCtx, cancel := context.WithTimeout(ctx, p.idle)
		next, err := p.reader.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, fmt.Errorf("failed to read from %s: %w", p.topic, err)
		}
		latest = next
	}

	if err := p.reader.CommitMessages(ctx, latest); err != nil {
		return nil, fmt.Errorf("failed to commit offset on %s: %w", p.topic, err)
	}
	return latest.Value, nil
}

func (p *KafkaFeedProvider) Close() error {
	return p.reader.Close()
}
