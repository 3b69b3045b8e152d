package events

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const entityHeader = "entity"

// Kafka writes events as JSON messages keyed by entity/id.
type Kafka struct {
	w      messageWriter
	log    *zap.Logger
	failed func(entity string)
}

// NewKafka builds an asynchronous writer: Publish only enqueues, and
// deliveries that fail are logged and passed to failed (which may be nil).
// Hashing the key keeps each record on one partition, so events of one
// record stay ordered.
func NewKafka(brokers []string, topic string, log *zap.Logger, failed func(entity string)) *Kafka {
	k := &Kafka{log: log.Named("kafka"), failed: failed}
	k.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        true,
		Completion:   k.completed,
	}
	return k
}

func (k *Kafka) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Key()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(ev.Action)},
			{Key: entityHeader, Value: []byte(ev.Entity)},
		},
	})
	if err != nil {
		return fmt.Errorf("write event %s: %w", ev.Key(), err)
	}
	return nil
}

// completed runs on the writer goroutine once a batch is acknowledged or
// given up on.
func (k *Kafka) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		entity := ""
		for _, h := range m.Headers {
			if h.Key == entityHeader {
				entity = string(h.Value)
			}
		}
		k.log.Warn("deliver change event", zap.ByteString("key", m.Key), zap.Error(err))
		if k.failed != nil {
			k.failed(entity)
		}
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error { return k.w.Close() }
