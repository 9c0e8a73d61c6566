// Package repository implements the read-side database queries. Writes to
// the booking ledger belong exclusively to the engine's transactions; this
// layer serves events, hosts and booking lookups to the orchestration and
// API layers. It uses pgx directly, no ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwise/slotwise/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Store bundles the read queries over one connection pool.
type Store struct {
	db *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetEvent returns the event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	var (
		e                             model.Event
		minNotice, horizon            int64
		duration, bufBefore, bufAfter int64
		granularity                   int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, name, capacity, min_notice_secs, horizon_secs, max_daily, max_weekly,
		        requires_approval, waitlist_enabled, waitlist_capacity,
		        assignment_mode, strategy, distribution_period,
		        duration_secs, buffer_before_secs, buffer_after_secs, granularity_secs,
		        ignore_busy, timezone, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Capacity, &minNotice, &horizon, &e.MaxDaily, &e.MaxWeekly,
		&e.RequiresApproval, &e.WaitlistEnabled, &e.WaitlistCapacity,
		&e.AssignmentMode, &e.Strategy, &e.Period,
		&duration, &bufBefore, &bufAfter, &granularity,
		&e.IgnoreBusy, &e.Timezone, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.MinNotice = time.Duration(minNotice) * time.Second
	e.BookingHorizon = time.Duration(horizon) * time.Second
	e.Duration = time.Duration(duration) * time.Second
	e.BufferBefore = time.Duration(bufBefore) * time.Second
	e.BufferAfter = time.Duration(bufAfter) * time.Second
	e.Granularity = time.Duration(granularity) * time.Second
	return &e, nil
}

// ListHosts returns the event's hosts in stable id order.
func (s *Store) ListHosts(ctx context.Context, eventID uuid.UUID) ([]model.Host, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, event_id, name, weight, feed_url, working_hours_rrule, work_day_start, work_day_end, created_at
		 FROM hosts
		 WHERE event_id = $1
		 ORDER BY id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []model.Host
	for rows.Next() {
		var h model.Host
		if err := rows.Scan(&h.ID, &h.EventID, &h.Name, &h.Weight, &h.FeedURL,
			&h.HoursRule, &h.DayStart, &h.DayEnd, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// GetSlot returns a slot without locking it.
func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	var sl model.Slot
	err := s.db.QueryRow(ctx,
		`SELECT id, event_id, host_id, starts_at, ends_at, cancelled, remote_event_id
		 FROM slots WHERE id = $1`,
		id,
	).Scan(&sl.ID, &sl.EventID, &sl.HostID, &sl.StartsAt, &sl.EndsAt, &sl.Cancelled, &sl.RemoteEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &sl, nil
}

// GetBookingByToken resolves a self-service management token.
func (s *Store) GetBookingByToken(ctx context.Context, token uuid.UUID) (*model.Booking, error) {
	var b model.Booking
	err := s.db.QueryRow(ctx,
		`SELECT id, slot_id, attendee_name, attendee_email, status, waitlist_position, host_id, manage_token, created_at, cancelled_at
		 FROM bookings WHERE manage_token = $1`,
		token,
	).Scan(&b.ID, &b.SlotID, &b.AttendeeName, &b.AttendeeEmail, &b.Status,
		&b.WaitlistPosition, &b.HostID, &b.ManageToken, &b.CreatedAt, &b.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking by token: %w", err)
	}
	return &b, nil
}

// SeatsTaken returns, per slot start, how many capacity-holding bookings the
// event already has in the range. The availability calculator uses it as an
// advisory snapshot to drop full starts from the offered sequence.
func (s *Store) SeatsTaken(ctx context.Context, eventID uuid.UUID, from, to time.Time) (map[time.Time]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.starts_at, COUNT(*)
		 FROM bookings b
		 JOIN slots s ON s.id = b.slot_id
		 WHERE s.event_id = $1
		   AND s.starts_at >= $2 AND s.starts_at < $3
		   AND b.status IN ($4, $5)
		 GROUP BY s.starts_at`,
		eventID, from, to, model.BookingConfirmed, model.BookingPendingApproval,
	)
	if err != nil {
		return nil, fmt.Errorf("count seats taken: %w", err)
	}
	defer rows.Close()

	taken := make(map[time.Time]int)
	for rows.Next() {
		var start time.Time
		var n int
		if err := rows.Scan(&start, &n); err != nil {
			return nil, fmt.Errorf("scan seats taken: %w", err)
		}
		taken[start.UTC()] = n
	}
	return taken, rows.Err()
}

// ListWaitlist returns a slot's active waitlisted bookings in position order.
func (s *Store) ListWaitlist(ctx context.Context, slotID uuid.UUID) ([]model.Booking, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, slot_id, attendee_name, attendee_email, status, waitlist_position, host_id, manage_token, created_at, cancelled_at
		 FROM bookings
		 WHERE slot_id = $1 AND status = $2
		 ORDER BY waitlist_position ASC`,
		slotID, model.BookingWaitlisted,
	)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.SlotID, &b.AttendeeName, &b.AttendeeEmail, &b.Status,
			&b.WaitlistPosition, &b.HostID, &b.ManageToken, &b.CreatedAt, &b.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
