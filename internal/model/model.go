// Package model defines the core domain types for the booking-admission
// and host-assignment engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentMode controls how a host is attached to an admitted booking.
type AssignmentMode string

const (
	// AssignmentSingle: the event has exactly one host; no selection runs.
	AssignmentSingle AssignmentMode = "single"
	// AssignmentDistributed: any eligible host may take the booking; a
	// selection strategy picks one per admission.
	AssignmentDistributed AssignmentMode = "distributed"
	// AssignmentCollective: all hosts attend every booking; availability is
	// the intersection of their calendars.
	AssignmentCollective AssignmentMode = "collective"
)

// StrategyKind names a host-selection strategy for distributed events.
type StrategyKind string

const (
	StrategyCycle                StrategyKind = "cycle"
	StrategyLeastBookings        StrategyKind = "least_bookings"
	StrategyAvailabilityWeighted StrategyKind = "availability_weighted"
)

// DistributionPeriod is the window over which fairness counters accumulate.
type DistributionPeriod string

const (
	PeriodDay     DistributionPeriod = "day"
	PeriodWeek    DistributionPeriod = "week"
	PeriodMonth   DistributionPeriod = "month"
	PeriodAllTime DistributionPeriod = "all_time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingConfirmed       BookingStatus = "confirmed"
	BookingPendingApproval BookingStatus = "pending_approval"
	BookingWaitlisted      BookingStatus = "waitlisted"
	BookingCancelled       BookingStatus = "cancelled"
)

// Event is a bookable offering. Read-only to the engine; created by
// administrative surfaces that are out of scope here.
type Event struct {
	ID               uuid.UUID          `json:"id"`
	Name             string             `json:"name"`
	Capacity         int                `json:"capacity"`
	MinNotice        time.Duration      `json:"min_notice"`
	BookingHorizon   time.Duration      `json:"booking_horizon"`
	MaxDaily         *int               `json:"max_daily,omitempty"`
	MaxWeekly        *int               `json:"max_weekly,omitempty"`
	RequiresApproval bool               `json:"requires_approval"`
	WaitlistEnabled  bool               `json:"waitlist_enabled"`
	WaitlistCapacity *int               `json:"waitlist_capacity,omitempty"`
	AssignmentMode   AssignmentMode     `json:"assignment_mode"`
	Strategy         StrategyKind       `json:"strategy,omitempty"`
	Period           DistributionPeriod `json:"distribution_period,omitempty"`
	Duration         time.Duration      `json:"duration"`
	BufferBefore     time.Duration      `json:"buffer_before"`
	BufferAfter      time.Duration      `json:"buffer_after"`
	Granularity      time.Duration      `json:"granularity"`
	IgnoreBusy       bool               `json:"ignore_busy"`
	Timezone         string             `json:"timezone"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Location resolves the event's IANA timezone, falling back to UTC.
func (e *Event) Location() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MultiHost reports whether host selection applies to this event.
func (e *Event) MultiHost() bool {
	return e.AssignmentMode == AssignmentDistributed || e.AssignmentMode == AssignmentCollective
}

// Host is a person who can receive bookings for an event.
type Host struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Name      string    `json:"name"`
	Weight    int       `json:"weight"` // 1..10, availability_weighted only
	FeedURL   string    `json:"feed_url,omitempty"`
	HoursRule string    `json:"working_hours_rrule,omitempty"`
	DayStart  string    `json:"work_day_start,omitempty"` // "09:00"
	DayEnd    string    `json:"work_day_end,omitempty"`   // "17:00"
	CreatedAt time.Time `json:"created_at"`
}

// Slot is a concrete bookable window for one event. It may be materialized
// lazily on the first admission attempt against its start time.
type Slot struct {
	ID            uuid.UUID  `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	HostID        *uuid.UUID `json:"host_id,omitempty"`
	StartsAt      time.Time  `json:"starts_at"`
	EndsAt        time.Time  `json:"ends_at"`
	Cancelled     bool       `json:"cancelled"`
	RemoteEventID *string    `json:"remote_event_id,omitempty"`
}

// Booking is one attendee's reservation against one slot. Never hard-deleted:
// cancellation sets CancelledAt so history survives for fairness accounting.
type Booking struct {
	ID               uuid.UUID     `json:"id"`
	SlotID           uuid.UUID     `json:"slot_id"`
	AttendeeName     string        `json:"attendee_name"`
	AttendeeEmail    string        `json:"attendee_email"`
	Status           BookingStatus `json:"status"`
	WaitlistPosition *int          `json:"waitlist_position,omitempty"`
	HostID           *uuid.UUID    `json:"host_id,omitempty"`
	ManageToken      uuid.UUID     `json:"manage_token"`
	CreatedAt        time.Time     `json:"created_at"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
}

// Active reports whether the booking still counts for duplicate suppression.
func (b *Booking) Active() bool {
	return b.Status != BookingCancelled
}

// HoldsCapacity reports whether the booking consumes a seat of the slot's
// capacity. Pending-approval bookings hold their seat while awaiting review.
func (b *Booking) HoldsCapacity() bool {
	return b.Status == BookingConfirmed || b.Status == BookingPendingApproval
}

// Interval is a half-open [Start, End) time window.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Attendee identifies the person requesting admission. The email, together
// with the slot, is the duplicate-suppression key.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
