package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPBus implements Bus on a RabbitMQ topic exchange. Consumption uses
// manual acks: a handler error nacks with requeue, which is what gives the
// worker its at-least-once redelivery.
type AMQPBus struct {
	conn     *amqp091.Connection
	exchange string
	queue    string
	logger   *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp091.Channel

	sendRequested     []SendRequestedHandler
	campaignCompleted []CampaignCompletedHandler
}

func NewAMQPBus(url, exchange, queue string, logger *slog.Logger) (*AMQPBus, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	if err := pubCh.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		pubCh.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPBus{
		conn:     conn,
		exchange: exchange,
		queue:    queue,
		logger:   logger.With("component", "amqp"),
		pubCh:    pubCh,
	}, nil
}

func (b *AMQPBus) PublishSendRequested(ctx context.Context, sig SendRequested) error {
	return b.publish(ctx, KeySendRequested, sig)
}

func (b *AMQPBus) PublishCampaignCompleted(ctx context.Context, sig CampaignCompleted) error {
	return b.publish(ctx, KeyCampaignCompleted, sig)
}

func (b *AMQPBus) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	err = b.pubCh.PublishWithContext(ctx, b.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	b.logger.Debug("signal published", "routing_key", key, "size", len(body))
	return nil
}

func (b *AMQPBus) SubscribeSendRequested(h SendRequestedHandler) {
	b.sendRequested = append(b.sendRequested, h)
}

func (b *AMQPBus) SubscribeCampaignCompleted(h CampaignCompletedHandler) {
	b.campaignCompleted = append(b.campaignCompleted, h)
}

// Run consumes the delivery queue until the context is cancelled.
func (b *AMQPBus) Run(ctx context.Context) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consume channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(b.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range []string{KeySendRequested, KeyCampaignCompleted} {
		if err := ch.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "listmill", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	b.logger.Info("consuming signals", "queue", q.Name, "exchange", b.exchange)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			b.dispatch(ctx, msg)
		}
	}
}

func (b *AMQPBus) dispatch(ctx context.Context, msg amqp091.Delivery) {
	err := b.handle(ctx, msg.RoutingKey, msg.Body)
	if err != nil {
		b.logger.Error("signal handler failed, requeueing", "routing_key", msg.RoutingKey, "error", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			b.logger.Error("failed to nack", "error", nackErr)
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		b.logger.Error("failed to ack", "error", ackErr)
	}
}

func (b *AMQPBus) handle(ctx context.Context, key string, body []byte) error {
	switch key {
	case KeySendRequested:
		var sig SendRequested
		if err := json.Unmarshal(body, &sig); err != nil {
			// Malformed payloads are not retryable; ack and move on.
			b.logger.Error("dropping malformed signal", "routing_key", key, "error", err)
			return nil
		}
		for _, h := range b.sendRequested {
			if err := h(ctx, sig); err != nil {
				return err
			}
		}
	case KeyCampaignCompleted:
		var sig CampaignCompleted
		if err := json.Unmarshal(body, &sig); err != nil {
			b.logger.Error("dropping malformed signal", "routing_key", key, "error", err)
			return nil
		}
		for _, h := range b.campaignCompleted {
			if err := h(ctx, sig); err != nil {
				return err
			}
		}
	default:
		b.logger.Warn("unknown routing key", "routing_key", key)
	}
	return nil
}

func (b *AMQPBus) Close() error {
	b.pubMu.Lock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	b.pubMu.Unlock()
	return b.conn.Close()
}
