package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

// SequenceSource hands out per-partition sequence numbers.
type SequenceSource interface {
	NextSequence(ctx context.Context, partitionKey string) (int64, error)
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends low-stock events to the events exchange. It implements
// stock.Dispatcher; push fan-out to subscribers happens downstream.
type Publisher struct {
	mu                 sync.Mutex
	ch                 publishChannel
	seq                SequenceSource
	publishEnveloped   bool
	producerIdentifier string
	now                func() time.Time
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
}

func NewPublisher(conn *amqp.Connection, seq SequenceSource, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch publishChannel, seq SequenceSource, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = stockServiceName
	}
	return &Publisher{
		ch:                 ch,
		seq:                seq,
		publishEnveloped:   opts.PublishEnveloped,
		producerIdentifier: producer,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) Notify(ctx context.Context, ev stock.LowStock) error {
	timestamp := p.now()
	payload := LowStockPayload{
		GroupID:      ev.GroupID,
		StoreID:      ev.StoreID,
		GroupName:    ev.GroupName,
		Threshold:    ev.Threshold,
		Remaining:    ev.Remaining,
		OperatingDay: ev.OperatingDay.Format(operatingDayLayout),
		Timestamp:    timestamp,
	}

	if !p.publishEnveloped {
		body, err := json.Marshal(LegacyLowStock{EventType: EventTypeLowStock, LowStockPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal LowStock: %w", err)
		}
		return p.publishJSON(ctx, LowStockRoutingKey, body)
	}

	meta := eventMetaFrom(ctx)
	meta.PartitionKey = ev.GroupID

	seq, err := p.seq.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newLowStockEvent(meta, seq, p.producerIdentifier, payload, timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal LowStock envelope: %w", err)
	}
	return p.publishJSON(ctx, LowStockRoutingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func newLowStockEvent(meta EventMeta, seq int64, producer string, payload LowStockPayload, occurredAt time.Time) LowStockEvent {
	return LowStockEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeLowStock,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        lowStockSchema,
		},
		Payload: payload,
	}
}
