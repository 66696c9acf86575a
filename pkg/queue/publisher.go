package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
)

// Publisher is the part of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

func PublishMessage(ctx context.Context, ch Publisher, exchange, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		})

	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// ReportEvents publishes report lifecycle events to a direct exchange, keyed
// by event type. Publishing is best effort: the report is already stored.
type ReportEvents struct {
	ch       Publisher
	exchange string
	log      *zap.Logger
}

func NewReportEvents(ch Publisher, exchange string, log *zap.Logger) *ReportEvents {
	return &ReportEvents{ch: ch, exchange: exchange, log: logger.OrNop(log)}
}

func (p *ReportEvents) Notify(ctx context.Context, ev models.ReportEvent) {
	if err := PublishMessage(ctx, p.ch, p.exchange, ev.Type, ev); err != nil {
		p.log.Warn("report event not published", zap.String("type", ev.Type), zap.String("report_id", ev.ReportID), zap.Error(err))
		return
	}
	p.log.Info("report event published", zap.String("type", ev.Type), zap.String("report_id", ev.ReportID))
}
