package model

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable code returned for every terminal
// admission outcome. Callers branch on codes, never on message text.
type ErrorCode string

const (
	CodeSlotNotFound        ErrorCode = "SLOT_NOT_FOUND"
	CodeSlotCancelled       ErrorCode = "SLOT_CANCELLED"
	CodeDuplicateBooking    ErrorCode = "DUPLICATE_BOOKING"
	CodeSlotFull            ErrorCode = "SLOT_FULL"
	CodeWaitlistFull        ErrorCode = "WAITLIST_FULL"
	CodeNoHostAvailable     ErrorCode = "NO_HOST_AVAILABLE"
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	CodeAdmissionTimeout    ErrorCode = "ADMISSION_TIMEOUT"
	CodeBookingNotFound     ErrorCode = "BOOKING_NOT_FOUND"
	CodeInternal            ErrorCode = "INTERNAL"
)

// ErrSlotNotFound is returned when the target slot (or event) does not exist.
var ErrSlotNotFound = errors.New("slot not found")

// ErrSlotCancelled is returned when the target slot no longer accepts admissions.
var ErrSlotCancelled = errors.New("slot is cancelled")

// ErrDuplicateBooking is returned when the same email already holds a
// non-cancelled booking on the slot.
var ErrDuplicateBooking = errors.New("attendee already booked for this slot")

// ErrSlotFull is returned when capacity is exhausted and no waitlist seat exists.
var ErrSlotFull = errors.New("slot is fully booked")

// ErrWaitlistFull is returned when capacity and the waitlist cap are both exhausted.
var ErrWaitlistFull = errors.New("waitlist is full")

// ErrNoHostAvailable is returned when no eligible host is free for the window.
var ErrNoHostAvailable = errors.New("no host available for the requested window")

// ErrAdmissionTimeout is returned when the admission transaction could not
// acquire its lock in time. The request left no partial write and is safe to
// retry thanks to duplicate suppression.
var ErrAdmissionTimeout = errors.New("admission timed out waiting for slot lock")

// ErrBookingNotFound is returned when no booking matches a management token.
var ErrBookingNotFound = errors.New("booking not found")

// ViolationKind identifies which policy rule a candidate booking broke.
type ViolationKind string

const (
	ViolationMinNotice      ViolationKind = "MIN_NOTICE"
	ViolationBookingHorizon ViolationKind = "BOOKING_HORIZON"
	ViolationDailyLimit     ViolationKind = "DAILY_LIMIT"
	ViolationWeeklyLimit    ViolationKind = "WEEKLY_LIMIT"
)

// ConstraintViolation is a policy failure with its rule kind and a
// human-readable reason.
type ConstraintViolation struct {
	Kind   ViolationKind
	Reason string
}

func (v *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violated (%s): %s", v.Kind, v.Reason)
}

// CodeFor maps an engine error to its stable wire code.
func CodeFor(err error) ErrorCode {
	var cv *ConstraintViolation
	switch {
	case errors.Is(err, ErrSlotNotFound):
		return CodeSlotNotFound
	case errors.Is(err, ErrSlotCancelled):
		return CodeSlotCancelled
	case errors.Is(err, ErrDuplicateBooking):
		return CodeDuplicateBooking
	case errors.Is(err, ErrSlotFull):
		return CodeSlotFull
	case errors.Is(err, ErrWaitlistFull):
		return CodeWaitlistFull
	case errors.Is(err, ErrNoHostAvailable):
		return CodeNoHostAvailable
	case errors.Is(err, ErrAdmissionTimeout):
		return CodeAdmissionTimeout
	case errors.Is(err, ErrBookingNotFound):
		return CodeBookingNotFound
	case errors.As(err, &cv):
		return CodeConstraintViolation
	default:
		return CodeInternal
	}
}
