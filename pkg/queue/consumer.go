package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"lost-found-portal/pkg/models"
)

// ConsumeReportEvents binds a durable queue to the report exchange for every
// report event type and starts consuming it.
func ConsumeReportEvents(ch *amqp.Channel, exchange, queueName string) (<-chan amqp.Delivery, error) {
	if err := DeclareExchange(ch, exchange, "direct"); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range []string{models.EventReportCreated, models.EventReportResolved} {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}
