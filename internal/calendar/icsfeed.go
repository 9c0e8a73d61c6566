package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/slotwise/slotwise/internal/applog"
	"github.com/slotwise/slotwise/internal/model"
)

// ICSFeedSource is a BusySource backed by per-host ICS subscription feeds.
// Every VEVENT on the host's feed counts as busy time; transparency and
// free/busy markers are not consulted.
type ICSFeedSource struct {
	client *http.Client
}

// NewICSFeedSource builds a feed source with the given fetch timeout.
func NewICSFeedSource(timeout time.Duration) *ICSFeedSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ICSFeedSource{
		client: &http.Client{Timeout: timeout},
	}
}

// GetBusyIntervals fetches the host's feed and returns its events clipped to
// [rangeStart, rangeEnd), merged and sorted. A host without a feed URL has
// no reported busy time.
func (s *ICSFeedSource) GetBusyIntervals(ctx context.Context, host model.Host, rangeStart, rangeEnd time.Time) ([]model.Interval, error) {
	if host.FeedURL == "" {
		return nil, nil
	}

	body, err := s.fetch(ctx, host.FeedURL)
	if err != nil {
		applog.Error("busy feed fetch failed", err, "host", host.ID)
		return nil, err
	}

	busy, err := BusyFromICS(body, rangeStart, rangeEnd)
	if err != nil {
		applog.Error("busy feed parse failed", err, "host", host.ID)
		return nil, err
	}
	return busy, nil
}

func (s *ICSFeedSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// BusyFromICS parses an ICS payload into busy intervals clipped to the
// requested range. Unparseable VEVENTs are skipped, not fatal.
func BusyFromICS(body []byte, rangeStart, rangeEnd time.Time) ([]model.Interval, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	intervals := make([]model.Interval, 0)
	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil {
			continue
		}
		end, err := ve.GetEndAt()
		if err != nil {
			continue
		}
		if !end.After(start) {
			continue
		}
		iv := clip(model.Interval{Start: start, End: end}, rangeStart, rangeEnd)
		if iv.End.After(iv.Start) {
			intervals = append(intervals, iv)
		}
	}

	return MergeIntervals(intervals), nil
}

func clip(iv model.Interval, rangeStart, rangeEnd time.Time) model.Interval {
	if iv.Start.Before(rangeStart) {
		iv.Start = rangeStart
	}
	if iv.End.After(rangeEnd) {
		iv.End = rangeEnd
	}
	return iv
}

// MergeIntervals sorts intervals by start and coalesces overlapping or
// touching neighbours.
func MergeIntervals(in []model.Interval) []model.Interval {
	if len(in) <= 1 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := make([]model.Interval, 0, len(in))
	cur := in[0]
	for _, iv := range in[1:] {
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	return append(out, cur)
}
