package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/model"
	"github.com/slotwise/slotwise/internal/repository"
)

func TestValidateAttendee(t *testing.T) {
	a, err := validateAttendee("  Ada Lovelace ", " Ada@Example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name != "Ada Lovelace" {
		t.Fatalf("name not trimmed: %q", a.Name)
	}
	if a.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", a.Email)
	}

	cases := []struct{ name, email string }{
		{"", "ada@example.com"},
		{"Ada", ""},
		{"Ada", "not-an-email"},
		{"Ada", "a@b"},
		{"Ada", "@example.com"},
	}
	for _, c := range cases {
		if _, err := validateAttendee(c.name, c.email); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest for %q/%q, got %v", c.name, c.email, err)
		}
	}
}

func TestExactlyOneTarget(t *testing.T) {
	id := uuid.New()
	at := time.Now()

	if err := exactlyOneTarget(&id, nil); err != nil {
		t.Fatalf("slot id alone must pass: %v", err)
	}
	if err := exactlyOneTarget(nil, &at); err != nil {
		t.Fatalf("start time alone must pass: %v", err)
	}
	if err := exactlyOneTarget(nil, nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("neither target must fail, got %v", err)
	}
	if err := exactlyOneTarget(&id, &at); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("both targets must fail, got %v", err)
	}
}

func TestMapNotFound(t *testing.T) {
	if got := mapNotFound(repository.ErrNotFound, model.ErrBookingNotFound); !errors.Is(got, model.ErrBookingNotFound) {
		t.Fatalf("expected domain error, got %v", got)
	}
	boom := errors.New("boom")
	if got := mapNotFound(boom, model.ErrBookingNotFound); !errors.Is(got, boom) {
		t.Fatalf("unrelated errors must pass through, got %v", got)
	}
}
