// Package policy implements the event-level booking constraints: notice
// window, booking horizon, and per-day/per-week admission quotas.
//
// Validation is pure and re-entrant. The counts passed in are advisory
// snapshots; the admission engine re-counts inside its transaction before
// committing, so a stale snapshot here can never oversubscribe a quota.
package policy

import (
	"fmt"
	"time"

	"github.com/slotwise/slotwise/internal/model"
)

// Counts carries the advisory admission counts for the candidate's calendar
// day and week.
type Counts struct {
	Day  int
	Week int
}

// Validate checks a candidate start time against the event's policy.
// Checks run in a fixed order and stop at the first failure:
// minimum notice, booking horizon, daily cap, weekly cap.
func Validate(ev *model.Event, start, now time.Time, counts Counts) error {
	if ev.MinNotice > 0 && start.Before(now.Add(ev.MinNotice)) {
		return &model.ConstraintViolation{
			Kind:   model.ViolationMinNotice,
			Reason: fmt.Sprintf("bookings require at least %s notice", ev.MinNotice),
		}
	}
	if ev.BookingHorizon > 0 && start.After(now.Add(ev.BookingHorizon)) {
		return &model.ConstraintViolation{
			Kind:   model.ViolationBookingHorizon,
			Reason: fmt.Sprintf("bookings may be made at most %s in advance", ev.BookingHorizon),
		}
	}
	if ev.MaxDaily != nil && counts.Day >= *ev.MaxDaily {
		return &model.ConstraintViolation{
			Kind:   model.ViolationDailyLimit,
			Reason: fmt.Sprintf("daily booking limit of %d reached", *ev.MaxDaily),
		}
	}
	if ev.MaxWeekly != nil && counts.Week >= *ev.MaxWeekly {
		return &model.ConstraintViolation{
			Kind:   model.ViolationWeeklyLimit,
			Reason: fmt.Sprintf("weekly booking limit of %d reached", *ev.MaxWeekly),
		}
	}
	return nil
}

// DayWindow returns the calendar-day window containing t in the event's
// timezone.
func DayWindow(ev *model.Event, t time.Time) model.Interval {
	loc := ev.Location()
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return model.Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

// WeekWindow returns the week window containing t, starting Sunday 00:00 in
// the event's timezone.
func WeekWindow(ev *model.Event, t time.Time) model.Interval {
	loc := ev.Location()
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return model.Interval{Start: start, End: start.AddDate(0, 0, 7)}
}
