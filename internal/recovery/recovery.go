// Package recovery is C10: the background loop that keeps the system
// self-healing without a human in the hot path. It claims and dispatches
// pending webhook events, times out vendor assignments that went
// unanswered, and surfaces anything it cannot resolve automatically to the
// admin queue. Grounded on the teacher's stock service main loop, which
// runs CleanupExpiredReservations off a plain time.Ticker rather than a job
// scheduler.
package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/eventstore"
	"github.com/arvind-mehta/orderflow-core/internal/platform/backoffx"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
	"github.com/arvind-mehta/orderflow-core/internal/workflow"
)

// EventBatchSize is how many pending webhook events one cycle claims at
// once.
const EventBatchSize = 20

// StalledOrderThreshold is how long an order may sit CONFIRMED without a
// vendor assignment before it is surfaced to the admin queue.
const StalledOrderThreshold = 10 * time.Minute

// EventHandler processes one claimed webhook event. Implementations live
// above this package (the httpapi/intake layer) since processing an event
// means running it through C9's parser and C8's dispatcher, both of which
// would otherwise import recovery and create a cycle.
type EventHandler interface {
	Handle(ctx context.Context, event domain.WebhookEvent) error
}

// VendorResponder is the subset of the dispatcher's API the recovery loop
// drives directly: timing out an unanswered vendor assignment is exactly a
// vendor response of accepted=false arriving from the clock instead of a
// webhook.
type VendorResponder interface {
	HandleVendorResponse(ctx context.Context, orderID, vendorID string, accepted bool) error
}

type Worker struct {
	db       *sql.DB
	events   *eventstore.Store
	journal  *workflow.Journal
	adminq   *adminqueue.Queue
	scorer   *scorer.Scorer
	dispatch VendorResponder
	handler  EventHandler
	schedule backoffx.Schedule
	log      *slog.Logger
}

func New(db *sql.DB, events *eventstore.Store, journal *workflow.Journal, adminq *adminqueue.Queue,
	sc *scorer.Scorer, dispatch VendorResponder, handler EventHandler, log *slog.Logger) *Worker {
	return &Worker{
		db: db, events: events, journal: journal, adminq: adminq, scorer: sc,
		dispatch: dispatch, handler: handler, schedule: backoffx.WebhookSchedule(),
		log: log.With("component", "recovery"),
	}
}

// Run ticks Cycle on the given interval until ctx is cancelled, after first
// reclaiming anything an earlier crash left orphaned.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	if err := w.ReclaimOnStartup(ctx); err != nil {
		w.log.Error("startup reclaim failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Cycle(ctx); err != nil {
				w.log.Error("recovery cycle failed", "error", err)
			}
		}
	}
}

// Cycle runs every recovery concern once, fanning the independent ones out
// concurrently the way the teacher's periodic jobs never needed to because
// it only ever had one. Each sub-task is independent of the others'
// outcome, so one failing doesn't block the rest.
func (w *Worker) Cycle(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.processPendingEvents(gctx) })
	g.Go(func() error { return w.expireVendorAssignments(gctx) })
	g.Go(func() error { return w.surfaceStaleWorkflows(gctx) })
	g.Go(func() error { return w.surfaceStalledOrders(gctx) })
	return g.Wait()
}

// ReclaimOnStartup is run once when a worker process boots, picking up
// whatever the previous process left IN_PROGRESS.
func (w *Worker) ReclaimOnStartup(ctx context.Context) error {
	stuck, err := w.journal.ScanIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("recovery: scan incomplete on startup: %w", err)
	}
	for _, wf := range stuck {
		if err := w.escalateStaleWorkflow(ctx, wf); err != nil {
			w.log.Error("failed to escalate orphaned workflow", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) processPendingEvents(ctx context.Context) error {
	claimed, err := w.events.ClaimPending(ctx, EventBatchSize)
	if err != nil {
		return fmt.Errorf("recovery: claim pending events: %w", err)
	}

	for _, event := range claimed {
		if err := w.handler.Handle(ctx, event); err != nil {
			next := w.schedule.At(time.Now(), event.Attempts)
			failErr := w.events.Fail(ctx, event.ID, err, next)
			if errors.Is(failErr, eventstore.ErrDeadLettered) {
				if qerr := w.adminq.Enqueue(ctx, adminqueue.KindDeadLetterEvent, event.ID, err.Error()); qerr != nil {
					w.log.Error("failed to enqueue dead-lettered event", "event_id", event.ID, "error", qerr)
				}
				continue
			}
			if failErr != nil {
				w.log.Error("failed to record event failure", "event_id", event.ID, "error", failErr)
			}
			continue
		}
		if err := w.events.Complete(ctx, event.ID); err != nil {
			w.log.Error("failed to complete processed event", "event_id", event.ID, "error", err)
		}
	}
	return nil
}

// expireVendorAssignments finds vendor_assignment_retries past their
// response deadline, marks them TIMEOUT, emits the LATE_RESPONSE scorer
// event, and drives the same re-selection path a REJECT webhook would.
func (w *Worker) expireVendorAssignments(ctx context.Context) error {
	const query = `
		SELECT order_id, vendor_id FROM vendor_assignment_retries
		WHERE status = 'PENDING' AND response_deadline < NOW()
	`
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("recovery: query expired vendor assignments: %w", err)
	}
	type expired struct{ orderID, vendorID string }
	var timeouts []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.orderID, &e.vendorID); err != nil {
			rows.Close()
			return fmt.Errorf("recovery: scan expired assignment: %w", err)
		}
		timeouts = append(timeouts, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range timeouts {
		const markTimeout = `
			UPDATE vendor_assignment_retries SET status = 'TIMEOUT'
			WHERE order_id = $1 AND vendor_id = $2 AND status = 'PENDING'
		`
		if _, err := w.db.ExecContext(ctx, markTimeout, e.orderID, e.vendorID); err != nil {
			w.log.Error("failed to mark assignment timed out", "order_id", e.orderID, "error", err)
			continue
		}

		if err := w.scorer.Record(ctx, domain.VendorScoreEvent{
			VendorID: e.vendorID, Kind: domain.ScoreEventLateResponse, At: time.Now(),
			Data: map[string]any{"order_id": e.orderID},
		}); err != nil {
			w.log.Error("failed to record late response event", "order_id", e.orderID, "error", err)
		}

		if err := w.dispatch.HandleVendorResponse(ctx, e.orderID, e.vendorID, false); err != nil {
			w.log.Error("failed to re-drive vendor retry after timeout", "order_id", e.orderID, "error", err)
		}
	}
	return nil
}

// surfaceStaleWorkflows hands every workflow whose heartbeat has gone
// silent to the admin queue. Resuming a journal mid-step automatically
// would require replaying the exact side effect that step performs, which
// is only safe for steps already written to be idempotent — the journal's
// current_step and step_state are preserved precisely so an operator can
// make that judgment call through cmd/admin rather than the worker
// guessing at it.
func (w *Worker) surfaceStaleWorkflows(ctx context.Context) error {
	stale, err := w.journal.ScanStale(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("recovery: scan stale workflows: %w", err)
	}
	for _, wf := range stale {
		if err := w.escalateStaleWorkflow(ctx, wf); err != nil {
			w.log.Error("failed to escalate stale workflow", "workflow_id", wf.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) escalateStaleWorkflow(ctx context.Context, wf domain.WorkflowState) error {
	reference := wf.ID
	if wf.OrderID != nil {
		reference = *wf.OrderID
	}
	reason := fmt.Sprintf("workflow %s stuck at step %q (type %s, attempt %d)", wf.ID, wf.CurrentStep, wf.Type, wf.Attempts)
	return w.adminq.Enqueue(ctx, adminqueue.KindStalledOrder, reference, reason)
}

// surfaceStalledOrders catches the other way a dispatch can get stuck:
// CONFIRMED with no journal entry still in flight (its workflow already
// completed or failed outright) but never reaching VENDOR_ASSIGNED.
func (w *Worker) surfaceStalledOrders(ctx context.Context) error {
	const query = `
		SELECT id FROM orders
		WHERE status = 'CONFIRMED' AND needs_admin = false AND last_transition_at < $1
	`
	rows, err := w.db.QueryContext(ctx, query, time.Now().Add(-StalledOrderThreshold))
	if err != nil {
		return fmt.Errorf("recovery: query stalled orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("recovery: scan stalled order: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.adminq.Enqueue(ctx, adminqueue.KindStalledOrder, id, "confirmed order has no vendor assignment in progress"); err != nil {
			w.log.Error("failed to enqueue stalled order", "order_id", id, "error", err)
		}
	}
	return nil
}
