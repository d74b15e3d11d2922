package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange        = "cafeteria.events"
	DeadLetterExchange    = "cafeteria.events.dlx"
	LowStockRoutingKey    = "stock.low.v1"
	MenuOrderedRoutingKey = "menu.ordered.v1"
	DailyResetRoutingKey  = "stock.daily-reset.v1"
	stockServiceName      = "menu-stock-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func stockQueueName(routingKey string) string {
	return serviceQueue(stockServiceName, routingKey)
}

func deadLetterQueueName(queue string) string {
	return queue + ".dlq"
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// declareConsumerQueue declares the durable queue for routingKey together
// with its dead-letter queue and returns the queue name.
func declareConsumerQueue(ch *amqp.Channel, routingKey string) (string, error) {
	queue := stockQueueName(routingKey)
	dlq := deadLetterQueueName(queue)

	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queue, DeadLetterExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		return "", fmt.Errorf("bind %s: %w", queue, err)
	}
	return queue, nil
}
