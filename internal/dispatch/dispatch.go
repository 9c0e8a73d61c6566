// Package dispatch executes the side-effect intents the engine records in
// the outbox: remote calendar writes, notifications, CRM sync. Everything
// here runs outside the admission transaction; a collaborator failure is
// logged and flagged, never propagated as an admission failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/slotwise/slotwise/internal/applog"
	"github.com/slotwise/slotwise/internal/calendar"
	"github.com/slotwise/slotwise/internal/model"
)

// Notifier sends confirmation/waitlist/promotion messages. Fire-and-forget
// from the core's point of view.
type Notifier interface {
	Send(ctx context.Context, booking model.Booking, reason string) error
}

// CRMSync pushes booking facts to a CRM or analytics collaborator.
type CRMSync interface {
	SyncBooking(ctx context.Context, booking model.Booking) error
}

// Dispatcher drains the intent outbox with bounded retries.
type Dispatcher struct {
	db          *pgxpool.Pool
	writer      calendar.Writer
	notifier    Notifier
	crm         CRMSync
	maxAttempts int
}

// New constructs a Dispatcher. maxAttempts bounds retries per intent.
func New(db *pgxpool.Pool, writer calendar.Writer, notifier Notifier, crm CRMSync, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{db: db, writer: writer, notifier: notifier, crm: crm, maxAttempts: maxAttempts}
}

const sweepBatch = 50

// staleClaim is how long an intent may sit in running before a sweep assumes
// its executor died and requeues it.
const staleClaim = 5 * time.Minute

// Sweep executes a batch of pending intents concurrently. Called from the
// cron schedule and after each admission. Each intent is claimed by flipping
// it to running first, so overlapping sweeps never execute the same intent
// twice.
func (d *Dispatcher) Sweep(ctx context.Context) {
	d.requeueStale(ctx)

	ids, err := d.pendingIntentIDs(ctx, sweepBatch)
	if err != nil {
		applog.Error("intent sweep query failed", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			d.executeOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// requeueStale returns long-running claims to pending. An executor that died
// mid-call left its intent in running; without this the intent would never
// retry.
func (d *Dispatcher) requeueStale(ctx context.Context) {
	if _, err := d.db.Exec(ctx,
		`UPDATE intents SET status = $1, updated_at = now()
		 WHERE status = $2 AND updated_at < now() - $3::interval`,
		model.IntentPending, model.IntentRunning, staleClaim.String(),
	); err != nil {
		applog.Error("stale intent requeue failed", err)
	}
}

// BookingState reports the aggregate side-effect state for one booking,
// surfaced on admission responses as an advisory flag.
func (d *Dispatcher) BookingState(ctx context.Context, bookingID uuid.UUID) model.SideEffectState {
	var unfinished, failed int
	err := d.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status IN ($2, $3)),
			COUNT(*) FILTER (WHERE status = $4)
		 FROM intents WHERE booking_id = $1`,
		bookingID, model.IntentPending, model.IntentRunning, model.IntentFailed,
	).Scan(&unfinished, &failed)
	if err != nil {
		applog.Error("intent state query failed", err, "booking", bookingID)
		return model.SideEffectsPending
	}
	return aggregateState(unfinished, failed)
}

// aggregateState folds intent counts into the advisory response flag: any
// failure dominates, any unfinished work reads as pending.
func aggregateState(unfinished, failed int) model.SideEffectState {
	switch {
	case failed > 0:
		return model.SideEffectsFailed
	case unfinished > 0:
		return model.SideEffectsPending
	default:
		return model.SideEffectsDone
	}
}

func (d *Dispatcher) pendingIntentIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := d.db.Query(ctx,
		`SELECT id FROM intents WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		model.IntentPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// executeOne claims the intent and runs its collaborator call. The claim
// flips pending to running in one statement, so of two concurrent sweeps
// exactly one gets the row back and the other sees no match.
func (d *Dispatcher) executeOne(ctx context.Context, id uuid.UUID) {
	var (
		intent   model.Intent
		attempts int
	)
	err := d.db.QueryRow(ctx,
		`UPDATE intents SET status = $3, attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING id, booking_id, kind, payload, attempts`,
		id, model.IntentPending, model.IntentRunning,
	).Scan(&intent.ID, &intent.BookingID, &intent.Kind, &intent.Payload, &attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return // claimed by a competing sweep
		}
		applog.Error("intent claim failed", err, "intent", id)
		return
	}

	execErr := d.perform(ctx, intent)
	next := nextStatus(execErr, attempts, d.maxAttempts)
	if execErr == nil {
		d.setStatus(ctx, id, next, "")
		return
	}
	applog.Error("intent execution failed", execErr,
		"intent", id, "kind", intent.Kind, "attempt", attempts)
	d.setStatus(ctx, id, next, execErr.Error())
}

// nextStatus decides the outbox state after one attempt: done on success,
// failed once the attempt budget is spent, otherwise back to pending for
// the next sweep.
func nextStatus(execErr error, attempts, maxAttempts int) model.IntentStatus {
	switch {
	case execErr == nil:
		return model.IntentDone
	case attempts >= maxAttempts:
		return model.IntentFailed
	default:
		return model.IntentPending
	}
}

func (d *Dispatcher) setStatus(ctx context.Context, id uuid.UUID, status model.IntentStatus, lastErr string) {
	if _, err := d.db.Exec(ctx,
		`UPDATE intents SET status = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, status, lastErr,
	); err != nil {
		applog.Error("intent status update failed", err, "intent", id)
	}
}

// perform runs one collaborator call for the intent.
func (d *Dispatcher) perform(ctx context.Context, intent model.Intent) error {
	booking, slot, host, err := d.loadContext(ctx, intent.BookingID)
	if err != nil {
		return err
	}

	switch intent.Kind {
	case model.IntentCalendarCreate:
		remote, err := d.writer.CreateRemoteEvent(ctx, host, *slot, "Booking "+booking.AttendeeName)
		if err != nil {
			return fmt.Errorf("create remote event: %w", err)
		}
		if _, err := d.db.Exec(ctx,
			`UPDATE slots SET remote_event_id = $1 WHERE id = $2 AND remote_event_id IS NULL`,
			remote.ID, slot.ID,
		); err != nil {
			return fmt.Errorf("record remote event id: %w", err)
		}
		return d.writer.AddAttendee(ctx, remote.ID, booking.AttendeeEmail)

	case model.IntentCalendarAttendee:
		if slot.RemoteEventID == nil {
			return fmt.Errorf("slot %s has no remote event", slot.ID)
		}
		return d.writer.AddAttendee(ctx, *slot.RemoteEventID, booking.AttendeeEmail)

	case model.IntentNotify:
		return d.notifier.Send(ctx, *booking, intent.Payload)

	case model.IntentCRMSync:
		return d.crm.SyncBooking(ctx, *booking)

	default:
		return fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
}

func (d *Dispatcher) loadContext(ctx context.Context, bookingID uuid.UUID) (*model.Booking, *model.Slot, model.Host, error) {
	var (
		b model.Booking
		s model.Slot
	)
	err := d.db.QueryRow(ctx,
		`SELECT b.id, b.slot_id, b.attendee_name, b.attendee_email, b.status, b.host_id,
		        s.id, s.event_id, s.host_id, s.starts_at, s.ends_at, s.cancelled, s.remote_event_id
		 FROM bookings b
		 JOIN slots s ON s.id = b.slot_id
		 WHERE b.id = $1`,
		bookingID,
	).Scan(&b.ID, &b.SlotID, &b.AttendeeName, &b.AttendeeEmail, &b.Status, &b.HostID,
		&s.ID, &s.EventID, &s.HostID, &s.StartsAt, &s.EndsAt, &s.Cancelled, &s.RemoteEventID)
	if err != nil {
		return nil, nil, model.Host{}, fmt.Errorf("load intent context: %w", err)
	}

	var host model.Host
	hostID := b.HostID
	if hostID == nil {
		hostID = s.HostID
	}
	if hostID != nil {
		err := d.db.QueryRow(ctx,
			`SELECT id, event_id, name, weight, feed_url, working_hours_rrule, work_day_start, work_day_end, created_at
			 FROM hosts WHERE id = $1`,
			*hostID,
		).Scan(&host.ID, &host.EventID, &host.Name, &host.Weight, &host.FeedURL,
			&host.HoursRule, &host.DayStart, &host.DayEnd, &host.CreatedAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, model.Host{}, fmt.Errorf("load intent host: %w", err)
		}
	}
	return &b, &s, host, nil
}
