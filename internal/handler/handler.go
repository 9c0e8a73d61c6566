// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the booking service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/repository"
	"github.com/slotwise/slotwise/internal/service"
)

// BookingAPI is the service surface the handlers need. Kept as an interface
// so handler tests can run against a stub.
type BookingAPI interface {
	Admit(ctx context.Context, eventID uuid.UUID, req model.AdmissionRequest) (*model.AdmissionResponse, error)
	Cancel(ctx context.Context, token uuid.UUID) (*model.CancelResponse, error)
	Reschedule(ctx context.Context, token uuid.UUID, req model.RescheduleRequest) (*model.AdmissionResponse, error)
	Approve(ctx context.Context, bookingID uuid.UUID) (*model.AdmissionResponse, error)
	GetBooking(ctx context.Context, token uuid.UUID) (*model.Booking, error)
	Waitlist(ctx context.Context, slotID uuid.UUID) ([]model.Booking, error)
	Openings(ctx context.Context, eventID uuid.UUID, from, to time.Time) ([]time.Time, error)
}

// BookingHandler holds all HTTP handlers for the booking API.
type BookingHandler struct {
	svc BookingAPI
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc BookingAPI) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code model.ErrorCode) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, ErrorCode: code})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// writeDomainError maps service and engine errors to HTTP statuses with the
// stable wire code in the body.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrBadRequest) {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}

	code := model.CodeFor(err)
	writeError(w, statusFor(code), err.Error(), code)
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.CodeSlotNotFound, model.CodeBookingNotFound:
		return http.StatusNotFound
	case model.CodeSlotCancelled, model.CodeDuplicateBooking, model.CodeSlotFull,
		model.CodeWaitlistFull, model.CodeNoHostAvailable:
		return http.StatusConflict
	case model.CodeConstraintViolation:
		return http.StatusUnprocessableEntity
	case model.CodeAdmissionTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Admit handles POST /events/{id}/admissions
// Runs one atomic admission attempt and returns the discriminated outcome.
func (h *BookingHandler) Admit(w http.ResponseWriter, r *http.Request) {
	eventID, ok := urlUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id", "")
		return
	}

	var req model.AdmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	resp, err := h.svc.Admit(r.Context(), eventID, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Openings handles GET /events/{id}/openings?from=&to=
// Returns the event's bookable start times in the range.
func (h *BookingHandler) Openings(w http.ResponseWriter, r *http.Request) {
	eventID, ok := urlUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id", "")
		return
	}

	now := time.Now().UTC()
	from, to := now, now.AddDate(0, 0, 14)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp", "")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp", "")
			return
		}
		to = t
	}

	starts, err := h.svc.Openings(r.Context(), eventID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if starts == nil {
		starts = []time.Time{}
	}
	writeJSON(w, http.StatusOK, map[string][]time.Time{"starts": starts})
}

// Cancel handles POST /bookings/{token}/cancel
// Cancels the booking behind a management token. Idempotent.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	token, ok := urlUUID(r, "token")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid management token", "")
		return
	}

	resp, err := h.svc.Cancel(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reschedule handles POST /bookings/{token}/reschedule
// Moves the booking to a new slot or start, all-or-nothing.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	token, ok := urlUUID(r, "token")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid management token", "")
		return
	}

	var req model.RescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	resp, err := h.svc.Reschedule(r.Context(), token, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Approve handles POST /admin/bookings/{id}/approve
// Confirms a pending-approval booking.
func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id", "")
		return
	}

	resp, err := h.svc.Approve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBooking handles GET /bookings/{token}
// Returns the booking behind a management token.
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	token, ok := urlUUID(r, "token")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid management token", "")
		return
	}

	booking, err := h.svc.GetBooking(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Waitlist handles GET /slots/{id}/waitlist
// Returns the slot's active waitlisted bookings in position order.
func (h *BookingHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	slotID, ok := urlUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slot id", "")
		return
	}

	bookings, err := h.svc.Waitlist(r.Context(), slotID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
