package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotwise/slotwise/internal/model"
)

func TestPeriodStart_Buckets(t *testing.T) {
	now := time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC) // Wednesday

	ev := &model.Event{Timezone: "UTC", Period: model.PeriodDay}
	if got := periodStart(ev, now); !got.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day bucket: %s", got)
	}

	ev.Period = model.PeriodWeek
	if got := periodStart(ev, now); !got.Equal(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week bucket should start Sunday: %s", got)
	}

	ev.Period = model.PeriodMonth
	if got := periodStart(ev, now); !got.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month bucket: %s", got)
	}

	ev.Period = model.PeriodAllTime
	first := periodStart(ev, now)
	second := periodStart(ev, now.AddDate(1, 0, 0))
	if !first.Equal(second) {
		t.Fatal("all-time counters must share one bucket")
	}
}

func TestOrderedPair_Deterministic(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	ab := orderedPair(a, b)
	ba := orderedPair(b, a)
	if len(ab) != 2 || len(ba) != 2 {
		t.Fatalf("expected pairs, got %d/%d", len(ab), len(ba))
	}
	if ab[0] != ba[0] || ab[1] != ba[1] {
		t.Fatal("lock order must not depend on argument order")
	}

	same := orderedPair(a, a)
	if len(same) != 1 {
		t.Fatal("identical slots must be locked once")
	}
}

func TestTimeoutOr_MapsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := timeoutOr(ctx, errors.New("lock slot row: canceled"))
	if !errors.Is(err, model.ErrAdmissionTimeout) {
		t.Fatalf("expected ErrAdmissionTimeout, got %v", err)
	}

	plain := errors.New("boom")
	if got := timeoutOr(context.Background(), plain); !errors.Is(got, plain) {
		t.Fatalf("non-deadline errors must pass through, got %v", got)
	}
}

func TestTimeoutOr_MapsLockAborts(t *testing.T) {
	// A deadlock abort leaves no partial write, so callers get the
	// retryable code instead of INTERNAL.
	deadlock := fmt.Errorf("lock slot row: %w", &pgconn.PgError{Code: pgDeadlockDetected})
	if got := timeoutOr(context.Background(), deadlock); !errors.Is(got, model.ErrAdmissionTimeout) {
		t.Fatalf("deadlock abort must map to ErrAdmissionTimeout, got %v", got)
	}

	noLock := &pgconn.PgError{Code: pgLockNotAvailable}
	if got := timeoutOr(context.Background(), noLock); !errors.Is(got, model.ErrAdmissionTimeout) {
		t.Fatalf("lock-unavailable must map to ErrAdmissionTimeout, got %v", got)
	}

	other := &pgconn.PgError{Code: "23505"}
	if got := timeoutOr(context.Background(), other); errors.Is(got, model.ErrAdmissionTimeout) {
		t.Fatal("unrelated SQLSTATEs must pass through")
	}
}
