package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/logger"
)

// FlagBus fans flag changes out to every portal process through a fanout
// exchange. Each process reads from its own exclusive, auto-deleted queue.
type FlagBus struct {
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func NewFlagBus(ch *amqp.Channel, exchange string, log *zap.Logger) (*FlagBus, error) {
	if err := DeclareExchange(ch, exchange, "fanout"); err != nil {
		return nil, err
	}
	return &FlagBus{ch: ch, exchange: exchange, log: logger.OrNop(log)}, nil
}

func (b *FlagBus) Publish(ctx context.Context, c flags.Change) error {
	return PublishMessage(ctx, b.ch, b.exchange, "", c)
}

// Consume closes the returned channel once ctx is done.
func (b *FlagBus) Consume(ctx context.Context) (<-chan flags.Change, error) {
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	tag := "flags-" + uuid.NewString()
	msgs, err := b.ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan flags.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = b.ch.Cancel(tag, false)
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var c flags.Change
				if err := json.Unmarshal(d.Body, &c); err != nil {
					b.log.Warn("dropping malformed flag change", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					_ = b.ch.Cancel(tag, false)
					return
				}
			}
		}
	}()
	return out, nil
}
