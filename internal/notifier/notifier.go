// Package notifier is C11: renders the fixed plain-text templates and
// delivers them to retailers and vendors over WhatsApp. Notify is a thin,
// synchronous producer — it renders, dedups, and publishes to
// broker.NotificationExchange, then returns immediately. The actual send
// happens on a bounded-concurrency Consumer so a slow or failing gateway
// call never blocks an order transition, per spec.md §4.11.
package notifier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/arvind-mehta/orderflow-core/internal/platform/backoffx"
	"github.com/arvind-mehta/orderflow-core/internal/platform/broker"
)

// DefaultGatewayConcurrency is GATEWAY_CONCURRENCY: the number of
// in-flight deliveries the consumer allows at once.
const DefaultGatewayConcurrency = 10

// MaxAttempts is NOTIFY_MAX_ATTEMPTS: after this many failed delivery
// attempts a message is abandoned to its dead-letter queue rather than
// retried further.
const MaxAttempts = 5

const routingKey = "deliver"

// Sender is the narrow interface the WhatsApp gateway collaborator
// satisfies; Consumer depends on this, not on any concrete HTTP client.
type Sender interface {
	Send(ctx context.Context, channelID, message string) error
}

type outboundMessage struct {
	ID        string   `json:"id"`
	Recipient string   `json:"recipient"`
	Template  Template `json:"template"`
	Body      string   `json:"body"`
}

// Notifier is the producer half of C11.
type Notifier struct {
	db *sql.DB
	ch *amqp.Channel
}

func New(db *sql.DB, ch *amqp.Channel) *Notifier {
	return &Notifier{db: db, ch: ch}
}

// Notify renders tmpl with data and enqueues it for delivery to recipient.
// It returns an error only if rendering or enqueueing itself fails; a
// caller that chooses to ignore the error (as the dispatcher does on its
// notify-after-transition calls) is following spec.md §4.11's rule that a
// notification failure must never unwind an order transition.
func (n *Notifier) Notify(ctx context.Context, recipient string, tmpl Template, data map[string]string) error {
	body, err := Render(tmpl, data)
	if err != nil {
		return fmt.Errorf("notifier: render %s for %s: %w", tmpl, recipient, err)
	}

	key := dedupKey(tmpl, data["order_number"], recipient)
	fresh, err := n.claimDedup(ctx, key)
	if err != nil {
		return fmt.Errorf("notifier: dedup claim for %s: %w", key, err)
	}
	if !fresh {
		return nil
	}

	msg := outboundMessage{ID: uuid.New().String(), Recipient: recipient, Template: tmpl, Body: body}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifier: marshal outbound message: %w", err)
	}

	headers := broker.InjectTraceContext(ctx)
	headers["x-retry-count"] = int32(0)

	if err := n.ch.PublishWithContext(ctx, broker.NotificationExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
	}); err != nil {
		return fmt.Errorf("notifier: publish %s: %w", msg.ID, err)
	}
	return nil
}

// dedupKey is the (template, order_id, recipient) tuple spec.md §4.11
// requires, collapsed to a single string for the idempotency_keys table.
// order_number is empty for templates that carry no order context (help,
// clarification), which is fine — those are naturally rare enough that
// collapsing them onto one key per recipient is the desired behavior.
func dedupKey(tmpl Template, orderNumber, recipient string) string {
	return fmt.Sprintf("notify:%s:%s:%s", tmpl, orderNumber, recipient)
}

// claimDedup atomically marks key as seen, returning true the first time
// and false on every subsequent call, mirroring the event store's
// ON-CONFLICT-DO-NOTHING claim pattern.
func (n *Notifier) claimDedup(ctx context.Context, key string) (bool, error) {
	const query = `INSERT INTO idempotency_keys (key, created_at) VALUES ($1, NOW()) ON CONFLICT (key) DO NOTHING`
	result, err := n.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Consumer is the bounded-concurrency delivery half of C11, run by
// cmd/worker. It pulls rendered messages off the notification queue and
// hands each to the gateway collaborator, retrying failures with
// exponential backoff up to MaxAttempts before letting the broker's DLX
// take the message.
type Consumer struct {
	ch       *amqp.Channel
	sender   Sender
	sem      *semaphore.Weighted
	schedule backoffx.Schedule
	log      *slog.Logger
}

func NewConsumer(ch *amqp.Channel, sender Sender, concurrency int64, log *slog.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = DefaultGatewayConcurrency
	}
	return &Consumer{
		ch:       ch,
		sender:   sender,
		sem:      semaphore.NewWeighted(concurrency),
		schedule: backoffx.NotifierSchedule(),
		log:      log,
	}
}

// Run declares and binds the notification queue and consumes it until ctx
// is cancelled. Each delivery is bounded by the consumer's semaphore so at
// most `concurrency` gateway calls are in flight at once, regardless of
// how fast messages arrive.
func (c *Consumer) Run(ctx context.Context) error {
	queue, err := broker.QueueForExchange(c.ch, broker.NotificationExchange, "notification.deliver", routingKey)
	if err != nil {
		return fmt.Errorf("notifier: declare delivery queue: %w", err)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("notifier: consume delivery queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go func(d amqp.Delivery) {
				defer c.sem.Release(1)
				c.handle(ctx, d)
			}(d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	deliveryCtx := broker.ExtractTraceContext(ctx, d.Headers)

	var msg outboundMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Error("notifier: malformed delivery, dropping to dlq", "error", err)
		_ = d.Nack(false, false)
		return
	}

	attempt := headerInt(d.Headers, "x-retry-count")

	if err := c.sender.Send(deliveryCtx, msg.Recipient, msg.Body); err != nil {
		c.log.Warn("notifier: delivery failed", "message_id", msg.ID, "recipient", msg.Recipient, "attempt", attempt, "error", err)
		c.retry(deliveryCtx, d, attempt)
		return
	}

	_ = d.Ack(false)
}

// retry mirrors the teacher's HandleRetry shape (increment header,
// republish with backoff, or let the DLX have it) with the delay drawn
// from the persisted notifier schedule instead of a flat per-attempt
// second count, and a cap of MaxAttempts instead of broker.MaxRetryCount.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) {
	if attempt+1 >= MaxAttempts {
		c.log.Error("notifier: exhausted retries, dead-lettering", "message_id", d.MessageId, "attempts", attempt)
		_ = d.Nack(false, false)
		return
	}

	time.Sleep(c.schedule.Delay(attempt))

	headers := d.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retry-count"] = int32(attempt + 1)

	err := c.ch.PublishWithContext(ctx, broker.NotificationExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
	})
	if err != nil {
		c.log.Error("notifier: requeue failed, dead-lettering", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func headerInt(headers amqp.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
