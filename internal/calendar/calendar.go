// Package calendar defines the external calendar-provider collaborators and
// the default ICS-feed implementation of the busy-time source.
//
// All calendar calls are best-effort with respect to admission: a failed
// remote-event write is reported alongside a committed booking, never used
// to unwind it.
package calendar

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/internal/model"
)

// BusySource reports a host's busy intervals within a range.
type BusySource interface {
	GetBusyIntervals(ctx context.Context, host model.Host, rangeStart, rangeEnd time.Time) ([]model.Interval, error)
}

// RemoteEvent is the provider-side record created for a confirmed booking.
type RemoteEvent struct {
	ID          string
	MeetingLink string
}

// Writer creates and amends events on the remote calendar provider.
type Writer interface {
	CreateRemoteEvent(ctx context.Context, host model.Host, slot model.Slot, title string) (RemoteEvent, error)
	AddAttendee(ctx context.Context, remoteEventID, email string) error
}
