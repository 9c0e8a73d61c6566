package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/model"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:one@test
DTSTART:20250310T090000Z
DTEND:20250310T100000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:two@test
DTSTART:20250310T093000Z
DTEND:20250310T110000Z
SUMMARY:Overlapping review
END:VEVENT
BEGIN:VEVENT
UID:three@test
DTSTART:20250312T090000Z
DTEND:20250312T100000Z
SUMMARY:Outside range
END:VEVENT
END:VCALENDAR
`

func TestBusyFromICS_ClipsAndMerges(t *testing.T) {
	rangeStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rangeEnd := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	busy, err := BusyFromICS([]byte(sampleICS), rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// The two overlapping events merge; the third falls outside the range.
	if len(busy) != 1 {
		t.Fatalf("expected 1 merged interval, got %d", len(busy))
	}
	if !busy[0].Start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", busy[0].Start)
	}
	if !busy[0].End.Equal(time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %s", busy[0].End)
	}
}

func TestBusyFromICS_EmptyBody(t *testing.T) {
	if _, err := BusyFromICS(nil, time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestICSFeedSource_FetchesHostFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	src := NewICSFeedSource(5 * time.Second)
	host := model.Host{ID: uuid.New(), FeedURL: srv.URL}

	busy, err := src.GetBusyIntervals(context.Background(),
		host,
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("get busy: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(busy))
	}
}

func TestICSFeedSource_NoFeedURLMeansFree(t *testing.T) {
	src := NewICSFeedSource(time.Second)
	busy, err := src.GetBusyIntervals(context.Background(), model.Host{ID: uuid.New()}, time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if busy != nil {
		t.Fatalf("expected no busy intervals, got %v", busy)
	}
}

func TestMergeIntervals_KeepsDisjoint(t *testing.T) {
	a := model.Interval{Start: time.Unix(0, 0), End: time.Unix(100, 0)}
	b := model.Interval{Start: time.Unix(200, 0), End: time.Unix(300, 0)}

	merged := MergeIntervals([]model.Interval{b, a})
	if len(merged) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(merged))
	}
	if !merged[0].Start.Equal(a.Start) {
		t.Fatal("expected sorted order")
	}
}
