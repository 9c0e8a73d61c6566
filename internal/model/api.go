package model

import (
	"time"

	"github.com/google/uuid"
)

// SideEffectState summarises the collaborator work attached to an admission.
// A confirmed booking with failed side effects still reads as booked; the
// flag is advisory only.
type SideEffectState string

const (
	SideEffectsPending SideEffectState = "pending"
	SideEffectsDone    SideEffectState = "done"
	SideEffectsFailed  SideEffectState = "failed"
)

// AdmissionRequest is the payload for requesting a booking. Exactly one of
// SlotID or StartsAt must be set; StartsAt admits against a lazily
// materialized slot.
type AdmissionRequest struct {
	AttendeeName    string     `json:"attendee_name"`
	AttendeeEmail   string     `json:"attendee_email"`
	SlotID          *uuid.UUID `json:"slot_id,omitempty"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	PreferredHostID *uuid.UUID `json:"preferred_host_id,omitempty"`
}

// AdmissionResponse reports the discriminated admission outcome.
type AdmissionResponse struct {
	Status           BookingStatus   `json:"status"`
	BookingID        *uuid.UUID      `json:"booking_id,omitempty"`
	ManageToken      *uuid.UUID      `json:"manage_token,omitempty"`
	WaitlistPosition *int            `json:"waitlist_position,omitempty"`
	HostID           *uuid.UUID      `json:"host_id,omitempty"`
	SideEffects      SideEffectState `json:"side_effects,omitempty"`
	ErrorCode        ErrorCode       `json:"error_code,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// CancelResponse reports a cancellation and, when a vacancy promotion fired,
// the booking that took the freed seat.
type CancelResponse struct {
	Status   BookingStatus `json:"status"`
	Promoted *uuid.UUID    `json:"promoted,omitempty"`
}

// RescheduleRequest moves a booking to a new slot or start time, subject to
// the full admission check set on the destination.
type RescheduleRequest struct {
	NewSlotID   *uuid.UUID `json:"new_slot_id,omitempty"`
	NewStartsAt *time.Time `json:"new_starts_at,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
}
