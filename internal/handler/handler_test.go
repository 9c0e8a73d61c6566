package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/service"
)

type stubService struct {
	admit      func(eventID uuid.UUID, req model.AdmissionRequest) (*model.AdmissionResponse, error)
	cancel     func(token uuid.UUID) (*model.CancelResponse, error)
	reschedule func(token uuid.UUID, req model.RescheduleRequest) (*model.AdmissionResponse, error)
	approve    func(id uuid.UUID) (*model.AdmissionResponse, error)
	getBooking func(token uuid.UUID) (*model.Booking, error)
	waitlist   func(slotID uuid.UUID) ([]model.Booking, error)
	openings   func(eventID uuid.UUID, from, to time.Time) ([]time.Time, error)
}

func (s *stubService) Admit(_ context.Context, eventID uuid.UUID, req model.AdmissionRequest) (*model.AdmissionResponse, error) {
	return s.admit(eventID, req)
}
func (s *stubService) Cancel(_ context.Context, token uuid.UUID) (*model.CancelResponse, error) {
	return s.cancel(token)
}
func (s *stubService) Reschedule(_ context.Context, token uuid.UUID, req model.RescheduleRequest) (*model.AdmissionResponse, error) {
	return s.reschedule(token, req)
}
func (s *stubService) Approve(_ context.Context, id uuid.UUID) (*model.AdmissionResponse, error) {
	return s.approve(id)
}
func (s *stubService) GetBooking(_ context.Context, token uuid.UUID) (*model.Booking, error) {
	return s.getBooking(token)
}
func (s *stubService) Waitlist(_ context.Context, slotID uuid.UUID) ([]model.Booking, error) {
	return s.waitlist(slotID)
}
func (s *stubService) Openings(_ context.Context, eventID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	return s.openings(eventID, from, to)
}

func newRouter(svc BookingAPI) http.Handler {
	h := NewBookingHandler(svc)
	r := chi.NewRouter()
	r.Post("/events/{id}/admissions", h.Admit)
	r.Get("/events/{id}/openings", h.Openings)
	r.Post("/bookings/{token}/cancel", h.Cancel)
	r.Post("/bookings/{token}/reschedule", h.Reschedule)
	r.Post("/admin/bookings/{id}/approve", h.Approve)
	r.Get("/slots/{id}/waitlist", h.Waitlist)
	r.Get("/bookings/{token}", h.GetBooking)
	r.Get("/health", HealthCheck)
	return r
}

func TestAdmit_Created(t *testing.T) {
	bookingID, token := uuid.New(), uuid.New()
	svc := &stubService{
		admit: func(_ uuid.UUID, req model.AdmissionRequest) (*model.AdmissionResponse, error) {
			if req.AttendeeEmail != "ada@example.com" {
				t.Fatalf("request not decoded: %+v", req)
			}
			return &model.AdmissionResponse{
				Status:      model.BookingConfirmed,
				BookingID:   &bookingID,
				ManageToken: &token,
				SideEffects: model.SideEffectsDone,
			}, nil
		},
	}

	body := `{"attendee_name":"Ada","attendee_email":"ada@example.com","starts_at":"2026-09-01T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/events/"+uuid.NewString()+"/admissions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp model.AdmissionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != model.BookingConfirmed || resp.BookingID == nil || *resp.BookingID != bookingID {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdmit_DomainErrorStatuses(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		wireCode model.ErrorCode
	}{
		{model.ErrSlotFull, http.StatusConflict, model.CodeSlotFull},
		{model.ErrWaitlistFull, http.StatusConflict, model.CodeWaitlistFull},
		{model.ErrDuplicateBooking, http.StatusConflict, model.CodeDuplicateBooking},
		{model.ErrSlotCancelled, http.StatusConflict, model.CodeSlotCancelled},
		{model.ErrNoHostAvailable, http.StatusConflict, model.CodeNoHostAvailable},
		{model.ErrSlotNotFound, http.StatusNotFound, model.CodeSlotNotFound},
		{model.ErrBookingNotFound, http.StatusNotFound, model.CodeBookingNotFound},
		{model.ErrAdmissionTimeout, http.StatusServiceUnavailable, model.CodeAdmissionTimeout},
		{&model.ConstraintViolation{Kind: model.ViolationMinNotice, Reason: "too soon"}, http.StatusUnprocessableEntity, model.CodeConstraintViolation},
	}

	for _, c := range cases {
		svc := &stubService{
			admit: func(uuid.UUID, model.AdmissionRequest) (*model.AdmissionResponse, error) {
				return nil, c.err
			},
		}
		body := `{"attendee_name":"Ada","attendee_email":"ada@example.com","starts_at":"2026-09-01T10:00:00Z"}`
		req := httptest.NewRequest(http.MethodPost, "/events/"+uuid.NewString()+"/admissions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(rec, req)

		if rec.Code != c.status {
			t.Fatalf("%v: expected %d, got %d", c.err, c.status, rec.Code)
		}
		var resp model.ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.ErrorCode != c.wireCode {
			t.Fatalf("%v: expected code %s, got %s", c.err, c.wireCode, resp.ErrorCode)
		}
	}
}

func TestAdmit_BadRequests(t *testing.T) {
	svc := &stubService{
		admit: func(uuid.UUID, model.AdmissionRequest) (*model.AdmissionResponse, error) {
			return nil, service.ErrBadRequest
		},
	}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/events/not-a-uuid/admissions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad event id: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/events/"+uuid.NewString()+"/admissions", strings.NewReader(`{"unknown_field":1}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/events/"+uuid.NewString()+"/admissions",
		strings.NewReader(`{"attendee_name":"Ada","attendee_email":"ada@example.com","starts_at":"2026-09-01T10:00:00Z"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("service validation: expected 400, got %d", rec.Code)
	}
}

func TestCancel_ReportsPromotion(t *testing.T) {
	promoted := uuid.New()
	svc := &stubService{
		cancel: func(token uuid.UUID) (*model.CancelResponse, error) {
			return &model.CancelResponse{Status: model.BookingCancelled, Promoted: &promoted}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp model.CancelResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Promoted == nil || *resp.Promoted != promoted {
		t.Fatalf("expected promoted booking in response: %+v", resp)
	}
}

func TestReschedule_RoundTrip(t *testing.T) {
	newSlot := uuid.New()
	svc := &stubService{
		reschedule: func(_ uuid.UUID, req model.RescheduleRequest) (*model.AdmissionResponse, error) {
			if req.NewSlotID == nil || *req.NewSlotID != newSlot {
				t.Fatalf("request not decoded: %+v", req)
			}
			return &model.AdmissionResponse{Status: model.BookingConfirmed}, nil
		},
	}

	body := `{"new_slot_id":"` + newSlot.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/bookings/"+uuid.NewString()+"/reschedule", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOpenings_ParsesRange(t *testing.T) {
	var gotFrom, gotTo time.Time
	svc := &stubService{
		openings: func(_ uuid.UUID, from, to time.Time) ([]time.Time, error) {
			gotFrom, gotTo = from, to
			return nil, nil
		},
	}

	url := "/events/" + uuid.NewString() + "/openings?from=2026-09-01T00:00:00Z&to=2026-09-08T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !gotFrom.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) ||
		!gotTo.Equal(time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("range not parsed: %s .. %s", gotFrom, gotTo)
	}
	if !strings.Contains(rec.Body.String(), `"starts":[]`) {
		t.Fatalf("empty result must serialize as array: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/events/"+uuid.NewString()+"/openings?from=yesterday", nil)
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid timestamp: expected 400, got %d", rec.Code)
	}
}

func TestGetBooking(t *testing.T) {
	token := uuid.New()
	svc := &stubService{
		getBooking: func(got uuid.UUID) (*model.Booking, error) {
			if got != token {
				t.Fatalf("wrong token: %s", got)
			}
			return &model.Booking{ID: uuid.New(), ManageToken: token, Status: model.BookingConfirmed}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/bookings/"+token.String(), nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	svc.getBooking = func(uuid.UUID) (*model.Booking, error) {
		return nil, model.ErrBookingNotFound
	}
	req = httptest.NewRequest(http.MethodGet, "/bookings/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWaitlist_ListsSlotQueue(t *testing.T) {
	slotID := uuid.New()
	pos := 2
	svc := &stubService{
		waitlist: func(got uuid.UUID) ([]model.Booking, error) {
			if got != slotID {
				t.Fatalf("wrong slot id: %s", got)
			}
			return []model.Booking{
				{ID: uuid.New(), SlotID: slotID, Status: model.BookingWaitlisted, WaitlistPosition: &pos},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/slots/"+slotID.String()+"/waitlist", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bookings []model.Booking
	if err := json.NewDecoder(rec.Body).Decode(&bookings); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(bookings) != 1 || bookings[0].WaitlistPosition == nil || *bookings[0].WaitlistPosition != 2 {
		t.Fatalf("unexpected listing: %+v", bookings)
	}

	svc.waitlist = func(uuid.UUID) ([]model.Booking, error) { return nil, nil }
	req = httptest.NewRequest(http.MethodGet, "/slots/"+uuid.NewString()+"/waitlist", nil)
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "[") {
		t.Fatalf("empty waitlist must serialize as array: %d %s", rec.Code, rec.Body.String())
	}

	svc.waitlist = func(uuid.UUID) ([]model.Booking, error) { return nil, model.ErrSlotNotFound }
	req = httptest.NewRequest(http.MethodGet, "/slots/"+uuid.NewString()+"/waitlist", nil)
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing slot: expected 404, got %d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	newRouter(&stubService{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
