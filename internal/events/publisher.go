// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-checkout/internal/domain/order"
	"github.com/xenking/kitchen-checkout/internal/domain/pricing"
	"github.com/xenking/kitchen-checkout/pkg/httpmiddleware"
)

// TypeOrderFinalized is the event type emitted after an order is persisted.
const TypeOrderFinalized = "order.finalized"

var (
	_ order.Publisher = (*KafkaPublisher)(nil)
	_ order.Publisher = Nop{}
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to a Kafka topic. Messages are keyed
// by order ID so events of one order stay on one partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
	newID  func() string
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg Config) *KafkaPublisher {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	})
}

func newPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// OrderFinalized publishes an order.finalized event for o.
func (p *KafkaPublisher) OrderFinalized(ctx context.Context, o *pricing.PricedOrder) error {
	zctx.From(ctx).Debug("Publishing order event",
		zap.String("type", TypeOrderFinalized),
		zap.String("order_id", o.ID),
	)

	e := &jx.Encoder{}
	encodeEnvelope(e, envelope{
		ID:            p.newID(),
		Type:          TypeOrderFinalized,
		OccurredAt:    p.now().UTC(),
		CorrelationID: httpmiddleware.RequestIDFromContext(ctx),
	}, o)

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID),
		Value: e.Bytes(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderFinalized)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

// OrderFinalized implements order.Publisher.
func (Nop) OrderFinalized(context.Context, *pricing.PricedOrder) error {
	return nil
}
