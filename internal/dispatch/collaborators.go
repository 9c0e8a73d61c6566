package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/applog"
	"github.com/slotwise/slotwise/internal/calendar"
	"github.com/slotwise/slotwise/internal/model"
)

// LogNotifier logs notifications instead of sending them. Default until a
// mail or webhook provider is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, b model.Booking, reason string) error {
	applog.Info("notify attendee",
		"booking", b.ID, "email", b.AttendeeEmail, "status", b.Status, "payload", reason)
	return nil
}

// LogCRM logs CRM sync calls instead of performing them.
type LogCRM struct{}

func (LogCRM) SyncBooking(_ context.Context, b model.Booking) error {
	applog.Info("crm sync", "booking", b.ID, "email", b.AttendeeEmail, "status", b.Status)
	return nil
}

// LogWriter satisfies calendar.Writer with locally generated event ids.
// Stands in for a real provider integration.
type LogWriter struct{}

func (LogWriter) CreateRemoteEvent(_ context.Context, host model.Host, slot model.Slot, title string) (calendar.RemoteEvent, error) {
	id := "local-" + uuid.NewString()
	applog.Info("create remote event",
		"remote", id, "host", host.Name, "slot", slot.ID, "title", title)
	return calendar.RemoteEvent{ID: id}, nil
}

func (LogWriter) AddAttendee(_ context.Context, remoteEventID, email string) error {
	applog.Info("add attendee", "remote", remoteEventID, "email", email)
	return nil
}
