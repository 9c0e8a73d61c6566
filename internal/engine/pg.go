package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwise/slotwise/internal/assign"
	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/policy"
)

// Engine performs admissions, cancellations and reschedules as single
// atomic transactions. The slot row is the point of serialization: every
// mutation takes `SELECT ... FOR UPDATE` on it before reading counts, so
// concurrent callers targeting one slot are totally ordered by commit order.
//
// Correctness holds across processes and machines because the lock lives in
// the store, not in process memory.
type Engine struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	now         func() time.Time
}

// New constructs an Engine. lockTimeout bounds how long one admission may
// wait on a competing transaction before failing with ADMISSION_TIMEOUT.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Engine {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Engine{pool: pool, lockTimeout: lockTimeout, now: time.Now}
}

// AdmitRequest is one admission attempt, prepared by the orchestration
// layer: the event, the attendee, the target (pre-created slot or lazy start
// time), and, for distributed events, the eligible hosts with their busy
// snapshots. Busy snapshots are advisory; everything that must be exact is
// re-read under the lock.
type AdmitRequest struct {
	Event    *model.Event
	Attendee model.Attendee

	SlotID   *uuid.UUID
	StartsAt *time.Time

	Candidates []assign.Candidate
	Preferred  *uuid.UUID
}

// Admit decides accept/waitlist/reject for one attendee, exactly once.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	var booking *model.Booking
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		booking, err = e.admitTx(ctx, tx, req, uuid.Nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// admitTx runs the full admission inside an open transaction. excludeBooking
// is skipped during duplicate detection (used by reschedule, where the
// original booking is about to be tombstoned in the same transaction).
func (e *Engine) admitTx(ctx context.Context, tx pgx.Tx, req AdmitRequest, excludeBooking uuid.UUID) (*model.Booking, error) {
	ev := req.Event
	now := e.now()

	// Serialization point: slot row lock, materializing the slot first if
	// the caller admitted against a bare start time. Insert-if-absent and
	// lock happen in the same transaction, so concurrent first-bookers
	// cannot create two rows for one instant.
	var slot *model.Slot
	var err error
	switch {
	case req.SlotID != nil:
		slot, err = lockSlotByID(ctx, tx, *req.SlotID)
	case req.StartsAt != nil:
		slot, err = e.materializeSlot(ctx, tx, ev, *req.StartsAt)
	default:
		return nil, fmt.Errorf("admit: neither slot id nor start time given")
	}
	if err != nil {
		return nil, err
	}

	// Policy re-check under the lock. The validator itself is pure; the
	// counts must come from this transaction to close the check-then-commit
	// race.
	counts, err := quotaCounts(ctx, tx, ev, slot.StartsAt)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(ev, slot.StartsAt, now, counts); err != nil {
		return nil, err
	}

	st, err := readSlotState(ctx, tx, slot, req.Attendee.Email, excludeBooking)
	if err != nil {
		return nil, err
	}

	d, err := decide(ev, st)
	if err != nil {
		return nil, err
	}

	hostID, err := e.resolveHost(ctx, tx, req, slot, now)
	if err != nil {
		return nil, err
	}
	if hostID != nil && slot.HostID == nil {
		if _, err := tx.Exec(ctx, `UPDATE slots SET host_id = $1 WHERE id = $2`, *hostID, slot.ID); err != nil {
			return nil, fmt.Errorf("assign slot host: %w", err)
		}
		slot.HostID = hostID
	}

	booking := &model.Booking{
		ID:               uuid.New(),
		SlotID:           slot.ID,
		AttendeeName:     req.Attendee.Name,
		AttendeeEmail:    req.Attendee.Email,
		Status:           d.Status,
		WaitlistPosition: d.WaitlistPosition,
		HostID:           hostID,
		ManageToken:      uuid.New(),
		CreatedAt:        now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO bookings (id, slot_id, attendee_name, attendee_email, status, waitlist_position, host_id, manage_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		booking.ID, booking.SlotID, booking.AttendeeName, booking.AttendeeEmail,
		booking.Status, booking.WaitlistPosition, booking.HostID, booking.ManageToken, booking.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	// Fairness accounting for distributed events: the counter increment
	// commits with the booking row or not at all.
	if ev.AssignmentMode == model.AssignmentDistributed && hostID != nil && booking.HoldsCapacity() {
		if err := bumpAssignmentCount(ctx, tx, ev, *hostID, now); err != nil {
			return nil, err
		}
	}

	if err := enqueueIntents(ctx, tx, booking, slot, now); err != nil {
		return nil, err
	}
	return booking, nil
}

// Cancel tombstones the booking behind the management token. If the booking
// held a seat on a non-cancelled slot and a waitlist exists, the lowest
// waitlist position is promoted to confirmed in the same transaction,
// under the same slot lock.
func (e *Engine) Cancel(ctx context.Context, token uuid.UUID) (*model.Booking, *uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	var (
		booking  *model.Booking
		promoted *uuid.UUID
	)
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		booking, promoted, err = e.cancelTx(ctx, tx, token)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, promoted, nil
}

func (e *Engine) cancelTx(ctx context.Context, tx pgx.Tx, token uuid.UUID) (*model.Booking, *uuid.UUID, error) {
	slotID, err := slotIDForToken(ctx, tx, token)
	if err != nil {
		return nil, nil, err
	}

	// Slot lock first, matching the admission path, then the booking row.
	slot, err := lockSlotByID(ctx, tx, slotID)
	if err != nil {
		return nil, nil, err
	}
	booking, err := lockBookingByToken(ctx, tx, token)
	if err != nil {
		return nil, nil, err
	}
	if booking.SlotID != slot.ID {
		// The booking moved to another slot between resolving and locking.
		return nil, nil, model.ErrAdmissionTimeout
	}
	if booking.Status == model.BookingCancelled {
		// Idempotent: a second cancellation is a no-op, never a second
		// promotion.
		return booking, nil, nil
	}

	heldSeat := booking.HoldsCapacity()
	now := e.now()
	booking.Status = model.BookingCancelled
	booking.CancelledAt = &now
	if _, err := tx.Exec(ctx,
		`UPDATE bookings SET status = $1, cancelled_at = $2 WHERE id = $3`,
		model.BookingCancelled, now, booking.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("cancel booking: %w", err)
	}

	var promoted *uuid.UUID
	if heldSeat && !slot.Cancelled {
		promoted, err = promoteLowestWaitlisted(ctx, tx, slot, now)
		if err != nil {
			return nil, nil, err
		}
	}
	return booking, promoted, nil
}

// promoteLowestWaitlisted confirms the active waitlisted booking with the
// lowest position. Remaining positions are left untouched; gaps are
// expected.
func promoteLowestWaitlisted(ctx context.Context, tx pgx.Tx, slot *model.Slot, now time.Time) (*uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM bookings
		 WHERE slot_id = $1 AND status = $2
		 ORDER BY waitlist_position ASC
		 LIMIT 1
		 FOR UPDATE`,
		slot.ID, model.BookingWaitlisted,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find waitlisted booking: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bookings SET status = $1, waitlist_position = NULL WHERE id = $2`,
		model.BookingConfirmed, id,
	); err != nil {
		return nil, fmt.Errorf("promote booking: %w", err)
	}

	intentID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO intents (id, booking_id, kind, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		intentID, id, model.IntentNotify, `{"reason":"promoted"}`, now,
	); err != nil {
		return nil, fmt.Errorf("enqueue promotion intent: %w", err)
	}
	return &id, nil
}

// Reschedule moves the booking behind token to the destination described by
// req, applying the destination the full admission check set. The whole move
// is one transaction: if the destination rejects, nothing changes.
func (e *Engine) Reschedule(ctx context.Context, token uuid.UUID, req AdmitRequest) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	var booking *model.Booking
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		// Resolve both slot ids without locking, then lock the slot rows in
		// ascending id order followed by the booking row. Cancellation takes
		// its locks in the same slots-then-booking order, so a concurrent
		// cancel and reschedule of one booking cannot deadlock; the ordered
		// pair does the same for two opposite reschedules.
		srcID, err := slotIDForToken(ctx, tx, token)
		if err != nil {
			return err
		}
		destID, err := e.resolveDestinationSlot(ctx, tx, req)
		if err != nil {
			return err
		}
		locked := make(map[uuid.UUID]*model.Slot, 2)
		for _, id := range orderedPair(srcID, destID) {
			s, err := lockSlotByID(ctx, tx, id)
			if err != nil {
				return err
			}
			locked[id] = s
		}

		old, err := lockBookingByToken(ctx, tx, token)
		if err != nil {
			return err
		}
		if old.Status == model.BookingCancelled {
			return model.ErrBookingNotFound
		}
		oldSlot := locked[old.SlotID]
		if oldSlot == nil {
			// The booking moved to another slot between resolving and
			// locking. Nothing is written; the caller may retry.
			return model.ErrAdmissionTimeout
		}

		// Full admission against the destination; the original booking is
		// excluded from duplicate detection because it is tombstoned below
		// in this same transaction.
		destReq := req
		destReq.SlotID = &destID
		destReq.StartsAt = nil
		booking, err = e.admitTx(ctx, tx, destReq, old.ID)
		if err != nil {
			return err
		}

		now := e.now()
		heldSeat := old.HoldsCapacity()
		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET status = $1, cancelled_at = $2 WHERE id = $3`,
			model.BookingCancelled, now, old.ID,
		); err != nil {
			return fmt.Errorf("cancel original booking: %w", err)
		}
		if heldSeat && !oldSlot.Cancelled && oldSlot.ID != destID {
			if _, err := promoteLowestWaitlisted(ctx, tx, oldSlot, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// Approve flips a pending-approval booking to confirmed.
func (e *Engine) Approve(ctx context.Context, bookingID uuid.UUID) (*model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	var booking *model.Booking
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBookingByID(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != model.BookingPendingApproval {
			return fmt.Errorf("booking %s is %s, not pending approval", b.ID, b.Status)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET status = $1 WHERE id = $2`,
			model.BookingConfirmed, b.ID,
		); err != nil {
			return fmt.Errorf("approve booking: %w", err)
		}
		b.Status = model.BookingConfirmed
		booking = b

		intentID := uuid.New()
		now := e.now()
		if _, err := tx.Exec(ctx,
			`INSERT INTO intents (id, booking_id, kind, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			intentID, b.ID, model.IntentNotify, `{"reason":"approved"}`, now,
		); err != nil {
			return fmt.Errorf("enqueue approval intent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// inTx runs fn inside a transaction, mapping a deadline hit to the clean
// retryable timeout error. Rollback on any failure leaves no partial write.
func (e *Engine) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return timeoutOr(ctx, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(tx); err != nil {
		return timeoutOr(ctx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return timeoutOr(ctx, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.ErrAdmissionTimeout
	}
	// A deadlock or lock-unavailable abort rolls back with nothing written,
	// so it is as retryable as a lock-wait timeout.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected, pgLockNotAvailable:
			return model.ErrAdmissionTimeout
		}
	}
	return err
}

// Postgres SQLSTATE codes for aborted lock acquisition.
const (
	pgDeadlockDetected = "40P01"
	pgLockNotAvailable = "55P03"
)

func orderedPair(a, b uuid.UUID) []uuid.UUID {
	if a == b {
		return []uuid.UUID{a}
	}
	if a.String() < b.String() {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
