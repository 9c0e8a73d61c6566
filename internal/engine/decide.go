// Package engine is the transactional core of the booking platform: it
// decides accept/waitlist/reject under concurrency and owns every write to
// the booking ledger and the fairness counters.
package engine

import (
	"github.com/slotwise/slotwise/internal/model"
)

// slotState is the snapshot of a slot read under its row lock. All counts
// reflect committed state at lock time; no other transaction can change them
// before ours commits.
type slotState struct {
	Cancelled       bool
	SeatsHeld       int // confirmed + pending_approval
	Waitlisted      int // active waitlisted bookings
	MaxWaitlistPos  int // highest position among active waitlisted bookings
	DuplicateExists bool
}

// decision is the outcome of the pure admission rules for one candidate.
type decision struct {
	Status           model.BookingStatus
	WaitlistPosition *int
}

// decide applies the admission rules to a locked slot snapshot. It is pure
// so the rules are testable without a database; the transactional wrapper
// guarantees the snapshot cannot go stale before the booking row is written.
//
// Rules, in order: a cancelled slot admits nobody; a duplicate (same slot,
// same email, non-cancelled) is rejected; free capacity admits as confirmed
// (or pending approval); otherwise the waitlist takes the booking if enabled
// and not at its cap. New positions extend past the highest live position,
// not the count: promotions and mid-list cancellations leave gaps, and a
// count-based position would collide with a booking still holding it.
func decide(ev *model.Event, st slotState) (decision, error) {
	if st.Cancelled {
		return decision{}, model.ErrSlotCancelled
	}
	if st.DuplicateExists {
		return decision{}, model.ErrDuplicateBooking
	}

	if st.SeatsHeld < ev.Capacity {
		status := model.BookingConfirmed
		if ev.RequiresApproval {
			status = model.BookingPendingApproval
		}
		return decision{Status: status}, nil
	}

	if !ev.WaitlistEnabled {
		return decision{}, model.ErrSlotFull
	}
	if ev.WaitlistCapacity != nil && st.Waitlisted >= *ev.WaitlistCapacity {
		return decision{}, model.ErrWaitlistFull
	}

	pos := st.MaxWaitlistPos + 1
	return decision{Status: model.BookingWaitlisted, WaitlistPosition: &pos}, nil
}
