// Package service implements validation and orchestration between the HTTP
// handlers and the admission engine: it loads the event and its hosts,
// snapshots host calendars, and hands the engine a fully prepared request.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/applog"
	"github.com/slotwise/slotwise/internal/assign"
	"github.com/slotwise/slotwise/internal/availability"
	"github.com/slotwise/slotwise/internal/calendar"
	"github.com/slotwise/slotwise/internal/dispatch"
	"github.com/slotwise/slotwise/internal/engine"
	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/repository"
)

// ErrBadRequest wraps client-side validation failures so handlers can map
// them to 400 without inspecting messages.
var ErrBadRequest = errors.New("bad request")

// BookingService orchestrates admissions, cancellations, reschedules and
// availability listings.
type BookingService struct {
	repo       *repository.Store
	engine     *engine.Engine
	busy       calendar.BusySource
	dispatcher *dispatch.Dispatcher
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(
	repo *repository.Store,
	eng *engine.Engine,
	busy calendar.BusySource,
	dispatcher *dispatch.Dispatcher,
) *BookingService {
	return &BookingService{repo: repo, engine: eng, busy: busy, dispatcher: dispatcher}
}

// Admit runs one admission attempt against the event.
func (s *BookingService) Admit(ctx context.Context, eventID uuid.UUID, req model.AdmissionRequest) (*model.AdmissionResponse, error) {
	attendee, err := validateAttendee(req.AttendeeName, req.AttendeeEmail)
	if err != nil {
		return nil, err
	}
	if err := exactlyOneTarget(req.SlotID, req.StartsAt); err != nil {
		return nil, err
	}

	ev, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	start, err := s.targetStart(ctx, ev, req.SlotID, req.StartsAt)
	if err != nil {
		return nil, err
	}

	admit := engine.AdmitRequest{
		Event:     ev,
		Attendee:  attendee,
		SlotID:    req.SlotID,
		StartsAt:  req.StartsAt,
		Preferred: req.PreferredHostID,
	}
	if ev.MultiHost() {
		admit.Candidates, err = s.candidates(ctx, ev, start)
		if err != nil {
			return nil, err
		}
	}

	booking, err := s.engine.Admit(ctx, admit)
	if err != nil {
		return nil, err
	}
	return s.admissionResponse(ctx, booking), nil
}

// Cancel tombstones the booking behind token; a freed seat may promote the
// head of the slot's waitlist in the same transaction.
func (s *BookingService) Cancel(ctx context.Context, token uuid.UUID) (*model.CancelResponse, error) {
	booking, promoted, err := s.engine.Cancel(ctx, token)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Sweep(ctx)
	return &model.CancelResponse{Status: booking.Status, Promoted: promoted}, nil
}

// Reschedule moves the booking behind token to a new slot or start time. The
// destination gets the full admission check set; on rejection nothing moves.
func (s *BookingService) Reschedule(ctx context.Context, token uuid.UUID, req model.RescheduleRequest) (*model.AdmissionResponse, error) {
	if err := exactlyOneTarget(req.NewSlotID, req.NewStartsAt); err != nil {
		return nil, err
	}

	old, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		return nil, mapNotFound(err, model.ErrBookingNotFound)
	}
	oldSlot, err := s.repo.GetSlot(ctx, old.SlotID)
	if err != nil {
		return nil, err
	}
	ev, err := s.repo.GetEvent(ctx, oldSlot.EventID)
	if err != nil {
		return nil, err
	}

	start, err := s.targetStart(ctx, ev, req.NewSlotID, req.NewStartsAt)
	if err != nil {
		return nil, err
	}

	admit := engine.AdmitRequest{
		Event:    ev,
		Attendee: model.Attendee{Name: old.AttendeeName, Email: old.AttendeeEmail},
		SlotID:   req.NewSlotID,
		StartsAt: req.NewStartsAt,
	}
	if ev.MultiHost() {
		admit.Candidates, err = s.candidates(ctx, ev, start)
		if err != nil {
			return nil, err
		}
	}

	booking, err := s.engine.Reschedule(ctx, token, admit)
	if err != nil {
		return nil, err
	}
	return s.admissionResponse(ctx, booking), nil
}

// Approve confirms a pending-approval booking.
func (s *BookingService) Approve(ctx context.Context, bookingID uuid.UUID) (*model.AdmissionResponse, error) {
	booking, err := s.engine.Approve(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.admissionResponse(ctx, booking), nil
}

// GetBooking resolves a management token.
func (s *BookingService) GetBooking(ctx context.Context, token uuid.UUID) (*model.Booking, error) {
	booking, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		return nil, mapNotFound(err, model.ErrBookingNotFound)
	}
	return booking, nil
}

// Waitlist returns a slot's active waitlisted bookings in position order.
func (s *BookingService) Waitlist(ctx context.Context, slotID uuid.UUID) ([]model.Booking, error) {
	if _, err := s.repo.GetSlot(ctx, slotID); err != nil {
		return nil, mapNotFound(err, model.ErrSlotNotFound)
	}
	return s.repo.ListWaitlist(ctx, slotID)
}

// Openings lists the event's bookable start times in [from, to), computed
// from host working hours and busy calendars, minus starts that are already
// at capacity.
func (s *BookingService) Openings(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", ErrBadRequest)
	}
	if to.Sub(from) > 90*24*time.Hour {
		return nil, fmt.Errorf("%w: range cannot exceed 90 days", ErrBadRequest)
	}

	ev, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	hosts, err := s.repo.ListHosts(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	calendars := make([]availability.HostCalendar, 0, len(hosts))
	for _, h := range hosts {
		busy, err := s.busy.GetBusyIntervals(ctx, h, from, to)
		if err != nil {
			// An unreachable feed hides the host's openings rather than
			// offering times that may collide.
			applog.Error("busy feed unavailable, skipping host", err, "host", h.ID)
			continue
		}
		calendars = append(calendars, availability.HostCalendar{Host: h, Busy: busy})
	}

	taken, err := s.repo.SeatsTaken(ctx, ev.ID, from, to)
	if err != nil {
		return nil, err
	}
	return availability.Starts(ev, calendars, from, to, taken)
}

// candidates snapshots the event's hosts with their busy intervals around
// the target start. The snapshot is advisory; the engine re-checks every
// exact fact under the slot lock.
func (s *BookingService) candidates(ctx context.Context, ev *model.Event, start time.Time) ([]assign.Candidate, error) {
	hosts, err := s.repo.ListHosts(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	windowStart := start.Add(-ev.BufferBefore)
	windowEnd := start.Add(ev.Duration + ev.BufferAfter)

	out := make([]assign.Candidate, 0, len(hosts))
	for _, h := range hosts {
		busy, err := s.busy.GetBusyIntervals(ctx, h, windowStart, windowEnd)
		if err != nil {
			applog.Error("busy feed unavailable, skipping host", err, "host", h.ID)
			continue
		}
		out = append(out, assign.Candidate{Host: h, Busy: busy})
	}
	return out, nil
}

// targetStart resolves the start time behind either admission target.
func (s *BookingService) targetStart(ctx context.Context, ev *model.Event, slotID *uuid.UUID, startsAt *time.Time) (time.Time, error) {
	if startsAt != nil {
		return *startsAt, nil
	}
	slot, err := s.repo.GetSlot(ctx, *slotID)
	if err != nil {
		return time.Time{}, mapNotFound(err, model.ErrSlotNotFound)
	}
	if slot.EventID != ev.ID {
		return time.Time{}, model.ErrSlotNotFound
	}
	return slot.StartsAt, nil
}

// admissionResponse drains the booking's freshly enqueued intents and
// reports the outcome with the aggregate side-effect state.
func (s *BookingService) admissionResponse(ctx context.Context, b *model.Booking) *model.AdmissionResponse {
	s.dispatcher.Sweep(ctx)
	return &model.AdmissionResponse{
		Status:           b.Status,
		BookingID:        &b.ID,
		ManageToken:      &b.ManageToken,
		WaitlistPosition: b.WaitlistPosition,
		HostID:           b.HostID,
		SideEffects:      s.dispatcher.BookingState(ctx, b.ID),
	}
}

func validateAttendee(name, email string) (model.Attendee, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" {
		return model.Attendee{}, fmt.Errorf("%w: attendee_name is required", ErrBadRequest)
	}
	if email == "" {
		return model.Attendee{}, fmt.Errorf("%w: attendee_email is required", ErrBadRequest)
	}
	if !isValidEmail(email) {
		return model.Attendee{}, fmt.Errorf("%w: attendee_email is not a valid email address", ErrBadRequest)
	}
	return model.Attendee{Name: name, Email: email}, nil
}

func exactlyOneTarget(slotID *uuid.UUID, startsAt *time.Time) error {
	if (slotID == nil) == (startsAt == nil) {
		return fmt.Errorf("%w: exactly one of slot_id and starts_at must be set", ErrBadRequest)
	}
	return nil
}

func mapNotFound(err, domain error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain
	}
	return err
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
