package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerPrefetch = 16

// DialRabbit connects to the broker at url.
func DialRabbit(url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

type ConsumerOptions struct {
	ConsumeEnveloped bool
}

// StartStockConsumers subscribes to menu orders and scheduler reset commands.
// The returned cleanup closes the consumer channel.
func StartStockConsumers(ctx context.Context, conn *amqp.Connection, deducter StockDeducter, resetter StockResetter, opts ConsumerOptions, logger *zap.Logger) (func(), error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	cleanup := func() { _ = ch.Close() }

	if err := declareEventsExchange(ch); err != nil {
		cleanup()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		cleanup()
		return nil, fmt.Errorf("qos: %w", err)
	}

	routes := []struct {
		routingKey string
		handler    HandlerFunc
	}{
		{MenuOrderedRoutingKey, MenuOrderedHandler(deducter, logger, opts.ConsumeEnveloped)},
		{DailyResetRoutingKey, DailyResetHandler(resetter, logger, opts.ConsumeEnveloped)},
	}

	for _, r := range routes {
		queue, err := declareConsumerQueue(ch, r.routingKey)
		if err != nil {
			cleanup()
			return nil, err
		}

		msgs, err := ch.Consume(
			queue,
			stockServiceName+"."+r.routingKey, // consumer tag
			false,                             // autoAck
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("consume %s: %w", queue, err)
		}

		go consume(ctx, msgs, r.handler, logger.With(zap.String("queue", queue)))
	}

	return cleanup, nil
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, handle HandlerFunc, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("messages channel closed")
				return
			}

			if err := handle(ctx, msg.Body); err != nil {
				logger.Error("handle message", zap.String("message_id", msg.MessageId), zap.Error(err))
				_ = msg.Nack(false, false) // dead-lettered
				continue
			}
			_ = msg.Ack(false)
		}
	}
}
