// Package broker wraps RabbitMQ connection setup and the dead-letter/retry
// plumbing every queue in this system shares, generalized from the
// teacher's common/broker package. Three exchanges are declared (webhook
// intake, outbound notifications, admin escalation), each with a matching
// dead-letter queue; only the notification exchange has a publisher and a
// consumer (C11).
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// WebhookIntakeExchange is declared for inbound webhook payloads, but
	// nothing publishes to it: the HTTP layer hands webhook events to
	// cmd/worker through the event store's table.
	WebhookIntakeExchange = "webhook.intake"

	// NotificationExchange carries rendered outbound messages from C11 to
	// its bounded-concurrency delivery workers.
	NotificationExchange = "notification.outbound"

	// AdminEscalationExchange is declared for admin-queue items, but nothing
	// publishes to it: escalations are written to admin_queue_items, which
	// cmd/admin reads directly.
	AdminEscalationExchange = "admin.escalation"

	// DLX is the dead-letter exchange every durable queue declares itself
	// against. A message nacked without requeue lands here and is routed
	// to a queue-specific DLQ by routing key.
	DLX = "dlx"

	// MaxRetryCount is a broker-level redelivery cap. No code in this
	// repository reads it; the notification consumer caps its own retries
	// with notifier.MaxAttempts.
	MaxRetryCount = 3
)

// Connect dials RabbitMQ, opens one channel, and declares the exchanges and
// DLQ infrastructure this system needs. It mirrors the teacher's
// common/broker.Connect three-return-value shape: channel, close func,
// error.
func Connect(user, pass, host, port string) (*amqp.Channel, func() error, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareDLX(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	close := func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}

	return ch, close, nil
}

func declareDLX(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}

	for _, exchange := range []string{WebhookIntakeExchange, NotificationExchange, AdminEscalationExchange} {
		dlq := exchange + ".dlq"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, exchange, DLX, false, nil); err != nil {
			return fmt.Errorf("bind dlq %s: %w", dlq, err)
		}
	}
	return nil
}

func declareExchanges(ch *amqp.Channel) error {
	for _, exchange := range []string{WebhookIntakeExchange, NotificationExchange, AdminEscalationExchange} {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}
	return nil
}

// QueueForExchange declares (idempotently) and binds a durable queue to an
// exchange with dead-lettering configured, returning the queue name.
func QueueForExchange(ch *amqp.Channel, exchange, queue, routingKey string) (string, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DLX,
		"x-dead-letter-routing-key": exchange,
	})
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", queue, exchange, err)
	}
	return q.Name, nil
}
