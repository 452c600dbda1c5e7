// Package eventstore is C1: the durable, idempotent landing zone for every
// inbound webhook. Nothing is processed synchronously with the HTTP request
// beyond this store write, the same "persist before you ack" shape as the
// teacher's stock service decrementing inventory inside one transaction
// before returning to the caller.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
)

// LeaseTimeout is how long a claimed event may sit PROCESSING before another
// worker may reclaim it.
const LeaseTimeout = 5 * time.Minute

// MaxAttempts is how many processing failures an event tolerates before it
// is dead-lettered to the admin queue.
const MaxAttempts = 3

// ErrDeadLettered is returned by Fail when attempts have been exhausted.
var ErrDeadLettered = errors.New("eventstore: event dead-lettered")

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

func New(db *sql.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log.With("component", "eventstore")}
}

// RecordResult is what Record reports back to the HTTP handler.
type RecordResult struct {
	Stored  bool
	EventID string
}

// Record stores an inbound webhook synchronously before the HTTP response is
// sent. A duplicate (channel, external_id) is not an error: it reports
// stored=false and the id of the row that already exists, which is what
// makes provider retries idempotent.
func (s *Store) Record(ctx context.Context, channel, externalID string, payload []byte) (RecordResult, error) {
	id := uuid.New().String()

	const query = `
		INSERT INTO webhook_events (id, channel, external_id, payload, received_at, status, attempts)
		VALUES ($1, $2, $3, $4, NOW(), 'PENDING', 0)
		ON CONFLICT (channel, external_id) DO NOTHING
		RETURNING id
	`
	var returnedID string
	err := s.db.QueryRowContext(ctx, query, id, channel, externalID, payload).Scan(&returnedID)
	switch {
	case err == nil:
		return RecordResult{Stored: true, EventID: returnedID}, nil
	case errors.Is(err, sql.ErrNoRows):
		existingID, lookupErr := s.lookupID(ctx, channel, externalID)
		if lookupErr != nil {
			return RecordResult{}, lookupErr
		}
		return RecordResult{Stored: false, EventID: existingID}, nil
	default:
		return RecordResult{}, fmt.Errorf("eventstore: record event: %w", err)
	}
}

func (s *Store) lookupID(ctx context.Context, channel, externalID string) (string, error) {
	const query = `SELECT id FROM webhook_events WHERE channel = $1 AND external_id = $2`
	var id string
	if err := s.db.QueryRowContext(ctx, query, channel, externalID).Scan(&id); err != nil {
		return "", fmt.Errorf("eventstore: lookup existing event: %w", err)
	}
	return id, nil
}

// ClaimPending atomically flips up to limit PENDING (or lease-expired
// PROCESSING) events to PROCESSING with a fresh lease deadline, inside one
// transaction: a SELECT ... FOR UPDATE SKIP LOCKED picks the rows, then an
// UPDATE claims them.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventstore: begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT id FROM webhook_events
		WHERE (status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= NOW()))
		   OR (status = 'PROCESSING' AND lease_expires < NOW())
		ORDER BY received_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: select claimable events: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("eventstore: scan claimable id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	leaseExpires := time.Now().Add(LeaseTimeout)
	claimed := make([]domain.WebhookEvent, 0, len(ids))
	const updateQuery = `
		UPDATE webhook_events
		SET status = 'PROCESSING', lease_expires = $2, attempts = attempts + 1
		WHERE id = $1
		RETURNING id, channel, external_id, payload, received_at, status, attempts, last_error, next_attempt_at, lease_expires
	`
	for _, id := range ids {
		var evt domain.WebhookEvent
		var lastError sql.NullString
		var nextAttempt sql.NullTime
		row := tx.QueryRowContext(ctx, updateQuery, id, leaseExpires)
		if err := row.Scan(&evt.ID, &evt.Channel, &evt.ExternalID, &evt.Payload, &evt.ReceivedAt,
			&evt.Status, &evt.Attempts, &lastError, &nextAttempt, &evt.LeaseExpires); err != nil {
			return nil, fmt.Errorf("eventstore: claim event %s: %w", id, err)
		}
		evt.LastError = lastError.String
		if nextAttempt.Valid {
			evt.NextAttemptAt = &nextAttempt.Time
		}
		claimed = append(claimed, evt)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eventstore: commit claim transaction: %w", err)
	}
	return claimed, nil
}

// Status returns the current state of a previously recorded event, used by
// the upload-image HTTP endpoint to let a client poll for the outcome of an
// image it submitted.
func (s *Store) Status(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	const query = `
		SELECT id, channel, external_id, payload, received_at, status, attempts, last_error, next_attempt_at, lease_expires
		FROM webhook_events WHERE id = $1
	`
	var evt domain.WebhookEvent
	var lastError sql.NullString
	var nextAttempt, leaseExpires sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, eventID).Scan(&evt.ID, &evt.Channel, &evt.ExternalID, &evt.Payload,
		&evt.ReceivedAt, &evt.Status, &evt.Attempts, &lastError, &nextAttempt, &leaseExpires); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("eventstore: status %s: %w", eventID, err)
	}
	evt.LastError = lastError.String
	if nextAttempt.Valid {
		evt.NextAttemptAt = &nextAttempt.Time
	}
	if leaseExpires.Valid {
		evt.LeaseExpires = &leaseExpires.Time
	}
	return evt, nil
}

// Ping verifies the store's database connection is reachable, used by the
// HTTP readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Requeue resets a FAILED (dead-lettered) event back to PENDING for
// immediate reclaim, the manual counterpart to Fail's automatic backoff
// scheduling — used when an operator has addressed whatever made the event
// unprocessable and wants it retried now rather than waiting on Fail's
// decision, which by the time an event is FAILED has already given up.
func (s *Store) Requeue(ctx context.Context, eventID string) error {
	const query = `
		UPDATE webhook_events
		SET status = 'PENDING', attempts = 0, last_error = NULL, next_attempt_at = NOW(), lease_expires = NULL
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("eventstore: requeue %s: %w", eventID, err)
	}
	return nil
}

// Complete finalizes a successfully processed event's lease.
func (s *Store) Complete(ctx context.Context, eventID string) error {
	const query = `UPDATE webhook_events SET status = 'COMPLETED', lease_expires = NULL WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("eventstore: complete event %s: %w", eventID, err)
	}
	return nil
}

// Fail records a processing failure and schedules the next attempt. Once
// attempts reach MaxAttempts the event moves to FAILED and ErrDeadLettered
// is returned so the caller can surface it to the admin queue.
func (s *Store) Fail(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	var attempts int
	const selectQuery = `SELECT attempts FROM webhook_events WHERE id = $1`
	if err := s.db.QueryRowContext(ctx, selectQuery, eventID).Scan(&attempts); err != nil {
		return fmt.Errorf("eventstore: load attempts for %s: %w", eventID, err)
	}

	deadLettered := attempts >= MaxAttempts
	status := "PENDING"
	if deadLettered {
		status = "FAILED"
	}

	const updateQuery = `
		UPDATE webhook_events
		SET status = $2, last_error = $3, next_attempt_at = $4, lease_expires = NULL
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, updateQuery, eventID, status, cause.Error(), nextAttemptAt); err != nil {
		return fmt.Errorf("eventstore: record failure for %s: %w", eventID, err)
	}

	if deadLettered {
		s.log.Warn("event dead-lettered", "event_id", eventID, "attempts", attempts, "cause", cause)
		return ErrDeadLettered
	}
	return nil
}
