package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/slotwise/slotwise/internal/model"
)

func intPtr(n int) *int { return &n }

func testEvent() *model.Event {
	return &model.Event{
		Capacity:       1,
		MinNotice:      24 * time.Hour,
		BookingHorizon: 30 * 24 * time.Hour,
		Timezone:       "UTC",
	}
}

func violationKind(t *testing.T, err error) model.ViolationKind {
	t.Helper()
	var cv *model.ConstraintViolation
	if !errors.As(err, &cv) {
		t.Fatalf("expected ConstraintViolation, got %v", err)
	}
	return cv.Kind
}

func TestValidate_OK(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)

	if err := Validate(testEvent(), start, now, Counts{}); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidate_MinNotice(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Hour) // min notice is 24h

	err := Validate(testEvent(), start, now, Counts{})
	if kind := violationKind(t, err); kind != model.ViolationMinNotice {
		t.Fatalf("expected MIN_NOTICE, got %s", kind)
	}
}

func TestValidate_BookingHorizon(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(60 * 24 * time.Hour) // horizon is 30d

	err := Validate(testEvent(), start, now, Counts{})
	if kind := violationKind(t, err); kind != model.ViolationBookingHorizon {
		t.Fatalf("expected BOOKING_HORIZON, got %s", kind)
	}
}

func TestValidate_DailyCap(t *testing.T) {
	ev := testEvent()
	ev.MaxDaily = intPtr(3)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)

	if err := Validate(ev, start, now, Counts{Day: 2}); err != nil {
		t.Fatalf("under the cap should pass, got %v", err)
	}
	err := Validate(ev, start, now, Counts{Day: 3})
	if kind := violationKind(t, err); kind != model.ViolationDailyLimit {
		t.Fatalf("expected DAILY_LIMIT, got %s", kind)
	}
}

func TestValidate_WeeklyCap(t *testing.T) {
	ev := testEvent()
	ev.MaxWeekly = intPtr(5)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)

	err := Validate(ev, start, now, Counts{Week: 5})
	if kind := violationKind(t, err); kind != model.ViolationWeeklyLimit {
		t.Fatalf("expected WEEKLY_LIMIT, got %s", kind)
	}
}

func TestValidate_OrderShortCircuits(t *testing.T) {
	// A candidate violating both notice and the daily cap must report the
	// notice failure, which is checked first.
	ev := testEvent()
	ev.MaxDaily = intPtr(1)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	err := Validate(ev, now.Add(time.Hour), now, Counts{Day: 5})
	if kind := violationKind(t, err); kind != model.ViolationMinNotice {
		t.Fatalf("expected MIN_NOTICE first, got %s", kind)
	}
}

func TestWeekWindow_StartsSunday(t *testing.T) {
	ev := testEvent()
	// Wednesday 2025-03-12.
	w := WeekWindow(ev, time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC))

	if w.Start.Weekday() != time.Sunday {
		t.Fatalf("expected Sunday start, got %s", w.Start.Weekday())
	}
	if !w.Start.Equal(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %s", w.Start)
	}
	if !w.End.Equal(w.Start.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected week end %s", w.End)
	}
}

func TestDayWindow_UsesEventTimezone(t *testing.T) {
	ev := testEvent()
	ev.Timezone = "America/New_York"
	// 03:00 UTC is still the previous day in New York.
	w := DayWindow(ev, time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC))

	if got := w.Start.In(ev.Location()).Day(); got != 9 {
		t.Fatalf("expected local day 9, got %d", got)
	}
}
