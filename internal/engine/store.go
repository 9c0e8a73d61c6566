package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/slotwise/slotwise/internal/assign"
	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/policy"
)

// lockSlotByID acquires the exclusive row lock on a slot, the single point
// of serialization for everything that mutates its bookings.
func lockSlotByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Slot, error) {
	var s model.Slot
	err := tx.QueryRow(ctx,
		`SELECT id, event_id, host_id, starts_at, ends_at, cancelled, remote_event_id
		 FROM slots
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&s.ID, &s.EventID, &s.HostID, &s.StartsAt, &s.EndsAt, &s.Cancelled, &s.RemoteEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSlotNotFound
		}
		return nil, fmt.Errorf("lock slot row: %w", err)
	}
	return &s, nil
}

// materializeSlot implements lazy slot creation race-safely: insert-if-absent
// keyed on (event_id, starts_at), then lock whichever row won. Two
// concurrent first-bookers end up locked on the same single row.
func (e *Engine) materializeSlot(ctx context.Context, tx pgx.Tx, ev *model.Event, start time.Time) (*model.Slot, error) {
	end := start.Add(ev.Duration)
	if _, err := tx.Exec(ctx,
		`INSERT INTO slots (id, event_id, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, starts_at) DO NOTHING`,
		uuid.New(), ev.ID, start, end,
	); err != nil {
		return nil, fmt.Errorf("materialize slot: %w", err)
	}

	var s model.Slot
	err := tx.QueryRow(ctx,
		`SELECT id, event_id, host_id, starts_at, ends_at, cancelled, remote_event_id
		 FROM slots
		 WHERE event_id = $1 AND starts_at = $2
		 FOR UPDATE`,
		ev.ID, start,
	).Scan(&s.ID, &s.EventID, &s.HostID, &s.StartsAt, &s.EndsAt, &s.Cancelled, &s.RemoteEventID)
	if err != nil {
		return nil, fmt.Errorf("lock materialized slot: %w", err)
	}
	return &s, nil
}

// resolveDestinationSlot returns the destination slot id for a reschedule,
// materializing it when the caller supplied a bare start time. No lock is
// taken here; the caller locks both slots in a deterministic order.
func (e *Engine) resolveDestinationSlot(ctx context.Context, tx pgx.Tx, req AdmitRequest) (uuid.UUID, error) {
	if req.SlotID != nil {
		return *req.SlotID, nil
	}
	if req.StartsAt == nil {
		return uuid.Nil, fmt.Errorf("reschedule: neither slot id nor start time given")
	}

	start := *req.StartsAt
	if _, err := tx.Exec(ctx,
		`INSERT INTO slots (id, event_id, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, starts_at) DO NOTHING`,
		uuid.New(), req.Event.ID, start, start.Add(req.Event.Duration),
	); err != nil {
		return uuid.Nil, fmt.Errorf("materialize destination slot: %w", err)
	}

	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM slots WHERE event_id = $1 AND starts_at = $2`,
		req.Event.ID, start,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve destination slot: %w", err)
	}
	return id, nil
}

// readSlotState reads the counts the admission decision depends on, under
// the slot lock already held by the transaction.
func readSlotState(ctx context.Context, tx pgx.Tx, slot *model.Slot, email string, excludeBooking uuid.UUID) (slotState, error) {
	st := slotState{Cancelled: slot.Cancelled}

	var dupCount int
	err := tx.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status IN ($2, $3)),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(MAX(waitlist_position) FILTER (WHERE status = $4), 0),
			COUNT(*) FILTER (WHERE status <> $5 AND lower(attendee_email) = lower($6) AND id <> $7)
		 FROM bookings
		 WHERE slot_id = $1`,
		slot.ID,
		model.BookingConfirmed, model.BookingPendingApproval,
		model.BookingWaitlisted,
		model.BookingCancelled, email, excludeBooking,
	).Scan(&st.SeatsHeld, &st.Waitlisted, &st.MaxWaitlistPos, &dupCount)
	if err != nil {
		return slotState{}, fmt.Errorf("read slot state: %w", err)
	}
	st.DuplicateExists = dupCount > 0
	return st, nil
}

// quotaCounts counts the event's non-cancelled bookings within the
// candidate's calendar day and week, inside the admission transaction.
func quotaCounts(ctx context.Context, tx pgx.Tx, ev *model.Event, start time.Time) (policy.Counts, error) {
	var counts policy.Counts
	if ev.MaxDaily == nil && ev.MaxWeekly == nil {
		return counts, nil
	}

	day := policy.DayWindow(ev, start)
	week := policy.WeekWindow(ev, start)

	err := tx.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE s.starts_at >= $2 AND s.starts_at < $3),
			COUNT(*) FILTER (WHERE s.starts_at >= $4 AND s.starts_at < $5)
		 FROM bookings b
		 JOIN slots s ON s.id = b.slot_id
		 WHERE s.event_id = $1 AND b.status <> $6`,
		ev.ID, day.Start, day.End, week.Start, week.End, model.BookingCancelled,
	).Scan(&counts.Day, &counts.Week)
	if err != nil {
		return policy.Counts{}, fmt.Errorf("count quota usage: %w", err)
	}
	return counts, nil
}

// resolveHost picks the booking's host. A slot that already carries a host
// keeps it; collective events carry none (all hosts attend); distributed
// events run the configured strategy against fairness state read and
// written inside this same transaction.
func (e *Engine) resolveHost(ctx context.Context, tx pgx.Tx, req AdmitRequest, slot *model.Slot, now time.Time) (*uuid.UUID, error) {
	ev := req.Event
	if slot.HostID != nil {
		return slot.HostID, nil
	}

	switch ev.AssignmentMode {
	case model.AssignmentCollective:
		return nil, nil
	case model.AssignmentDistributed:
		if len(req.Candidates) == 0 {
			return nil, model.ErrNoHostAvailable
		}
		pointer, err := lockRotationPointer(ctx, tx, ev.ID)
		if err != nil {
			return nil, err
		}
		counts, err := readAssignmentCounts(ctx, tx, ev, now)
		if err != nil {
			return nil, err
		}

		sel, err := assign.Select(assign.Input{
			Event:      ev,
			Window:     model.Interval{Start: slot.StartsAt, End: slot.EndsAt},
			Candidates: req.Candidates,
			Pointer:    pointer,
			Counts:     counts,
			Preferred:  req.Preferred,
		})
		if err != nil {
			return nil, err
		}
		if sel.NextPointer != nil {
			if err := saveRotationPointer(ctx, tx, ev.ID, *sel.NextPointer); err != nil {
				return nil, err
			}
		}
		return &sel.HostID, nil
	default:
		if len(req.Candidates) > 0 {
			id := req.Candidates[0].Host.ID
			return &id, nil
		}
		return nil, nil
	}
}

// lockRotationPointer reads the persisted cycle position under lock so two
// concurrent admissions cannot both advance from the same pointer.
func lockRotationPointer(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (*uuid.UUID, error) {
	var pointer *uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT pointer FROM rotation_state WHERE event_id = $1 FOR UPDATE`,
		eventID,
	).Scan(&pointer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock rotation pointer: %w", err)
	}
	return pointer, nil
}

func saveRotationPointer(ctx context.Context, tx pgx.Tx, eventID, pointer uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO rotation_state (event_id, pointer, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (event_id) DO UPDATE
		 SET pointer = EXCLUDED.pointer, version = rotation_state.version + 1`,
		eventID, pointer,
	); err != nil {
		return fmt.Errorf("save rotation pointer: %w", err)
	}
	return nil
}

// readAssignmentCounts loads the per-host fairness counters for the active
// distribution period.
func readAssignmentCounts(ctx context.Context, tx pgx.Tx, ev *model.Event, now time.Time) (map[uuid.UUID]int, error) {
	rows, err := tx.Query(ctx,
		`SELECT host_id, assigned FROM assignment_counts
		 WHERE event_id = $1 AND period_start = $2`,
		ev.ID, periodStart(ev, now),
	)
	if err != nil {
		return nil, fmt.Errorf("read assignment counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var hostID uuid.UUID
		var assigned int
		if err := rows.Scan(&hostID, &assigned); err != nil {
			return nil, fmt.Errorf("scan assignment count: %w", err)
		}
		counts[hostID] = assigned
	}
	return counts, rows.Err()
}

func bumpAssignmentCount(ctx context.Context, tx pgx.Tx, ev *model.Event, hostID uuid.UUID, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO assignment_counts (event_id, host_id, period_start, assigned)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (event_id, host_id, period_start) DO UPDATE
		 SET assigned = assignment_counts.assigned + 1`,
		ev.ID, hostID, periodStart(ev, now),
	); err != nil {
		return fmt.Errorf("bump assignment count: %w", err)
	}
	return nil
}

// periodStart buckets fairness counters by the event's distribution period.
// All-time counters share a single zero-time bucket.
func periodStart(ev *model.Event, now time.Time) time.Time {
	loc := ev.Location()
	local := now.In(loc)
	switch ev.Period {
	case model.PeriodDay:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	case model.PeriodWeek:
		return policy.WeekWindow(ev, now).Start
	case model.PeriodMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Unix(0, 0).UTC()
	}
}

// slotIDForToken resolves the slot a managed booking belongs to without
// locking, so the caller can take locks in the canonical order.
func slotIDForToken(ctx context.Context, tx pgx.Tx, token uuid.UUID) (uuid.UUID, error) {
	var slotID uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT slot_id FROM bookings WHERE manage_token = $1`,
		token,
	).Scan(&slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, model.ErrBookingNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve booking slot: %w", err)
	}
	return slotID, nil
}

func lockBookingByToken(ctx context.Context, tx pgx.Tx, token uuid.UUID) (*model.Booking, error) {
	return lockBooking(ctx, tx, `manage_token`, token)
}

func lockBookingByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Booking, error) {
	return lockBooking(ctx, tx, `id`, id)
}

func lockBooking(ctx context.Context, tx pgx.Tx, column string, key uuid.UUID) (*model.Booking, error) {
	var b model.Booking
	err := tx.QueryRow(ctx,
		`SELECT id, slot_id, attendee_name, attendee_email, status, waitlist_position, host_id, manage_token, created_at, cancelled_at
		 FROM bookings
		 WHERE `+column+` = $1
		 FOR UPDATE`,
		key,
	).Scan(&b.ID, &b.SlotID, &b.AttendeeName, &b.AttendeeEmail, &b.Status,
		&b.WaitlistPosition, &b.HostID, &b.ManageToken, &b.CreatedAt, &b.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBookingNotFound
		}
		return nil, fmt.Errorf("lock booking row: %w", err)
	}
	return &b, nil
}

// enqueueIntents records the booking's deferred side effects in the outbox,
// inside the admission transaction: an admitted booking always has its
// intents, a rolled-back one never does.
func enqueueIntents(ctx context.Context, tx pgx.Tx, b *model.Booking, slot *model.Slot, now time.Time) error {
	kinds := []model.IntentKind{model.IntentNotify, model.IntentCRMSync}
	if b.HoldsCapacity() {
		if slot.RemoteEventID == nil {
			kinds = append(kinds, model.IntentCalendarCreate)
		} else {
			kinds = append(kinds, model.IntentCalendarAttendee)
		}
	}

	for _, kind := range kinds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO intents (id, booking_id, kind, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			uuid.New(), b.ID, kind, `{}`, now,
		); err != nil {
			return fmt.Errorf("enqueue %s intent: %w", kind, err)
		}
	}
	return nil
}
