package model

import (
	"time"

	"github.com/google/uuid"
)

// IntentKind names a deferred collaborator side effect. Intents are written
// to the outbox inside the admission transaction and executed by the
// dispatcher outside it; their failure never unwinds an admission.
type IntentKind string

const (
	IntentCalendarCreate   IntentKind = "calendar_create"
	IntentCalendarAttendee IntentKind = "calendar_attendee"
	IntentNotify           IntentKind = "notify"
	IntentCRMSync          IntentKind = "crm_sync"
)

// IntentStatus is the outbox lifecycle state.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentRunning IntentStatus = "running"
	IntentDone    IntentStatus = "done"
	IntentFailed  IntentStatus = "failed"
)

// Intent is one queued side effect for one booking.
type Intent struct {
	ID        uuid.UUID    `json:"id"`
	BookingID uuid.UUID    `json:"booking_id"`
	Kind      IntentKind   `json:"kind"`
	Payload   string       `json:"payload"`
	Attempts  int          `json:"attempts"`
	Status    IntentStatus `json:"status"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
