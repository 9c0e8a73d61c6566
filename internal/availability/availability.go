// Package availability derives candidate start times for an event by
// combining host working hours with externally-reported busy intervals.
//
// The computation is pure: it reads calendar snapshots and produces a finite
// sequence of starts bounded by the query range. Recomputing is always safe;
// nothing here depends on internal counters. The snapshots may be stale by
// commit time; the admission engine re-validates capacity under its lock
// regardless of what this package suggested.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/slotwise/slotwise/internal/calendar"
	"github.com/slotwise/slotwise/internal/model"
)

// HostCalendar pairs a host with its busy snapshot for the query range.
type HostCalendar struct {
	Host model.Host
	Busy []model.Interval
}

// WorkingWindows expands the host's declared working hours over the range.
// Host.HoursRule is an RRULE whose occurrences mark working days (e.g.
// "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"); DayStart/DayEnd bound each day's
// window. A host without a rule works every day.
func WorkingWindows(host model.Host, loc *time.Location, rangeStart, rangeEnd time.Time) ([]model.Interval, error) {
	startH, startM, err := parseClock(host.DayStart, 9, 0)
	if err != nil {
		return nil, fmt.Errorf("work day start: %w", err)
	}
	endH, endM, err := parseClock(host.DayEnd, 17, 0)
	if err != nil {
		return nil, fmt.Errorf("work day end: %w", err)
	}

	days, err := workingDays(host.HoursRule, loc, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	windows := make([]model.Interval, 0, len(days))
	for _, day := range days {
		w := model.Interval{
			Start: time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc),
			End:   time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc),
		}
		if !w.End.After(w.Start) {
			continue
		}
		if w.End.Before(rangeStart) || w.Start.After(rangeEnd) {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func workingDays(rule string, loc *time.Location, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	first := rangeStart.In(loc)
	firstDay := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	if rule == "" {
		days := make([]time.Time, 0)
		for d := firstDay; d.Before(rangeEnd); d = d.AddDate(0, 0, 1) {
			days = append(days, d)
		}
		return days, nil
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("working hours rrule: %w", err)
	}
	// Anchor the rule well before the range so weekly patterns line up.
	r.DTStart(firstDay.AddDate(0, 0, -7))
	return r.Between(firstDay.Add(-time.Second), rangeEnd.In(loc), true), nil
}

// FreeWindows subtracts the host's busy intervals, padded with the event's
// buffers, from the host's working windows.
func FreeWindows(hc HostCalendar, ev *model.Event, rangeStart, rangeEnd time.Time) ([]model.Interval, error) {
	working, err := WorkingWindows(hc.Host, ev.Location(), rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	busy := hc.Busy
	if ev.IgnoreBusy {
		busy = nil
	}
	padded := make([]model.Interval, 0, len(busy))
	for _, b := range busy {
		padded = append(padded, model.Interval{
			Start: b.Start.Add(-ev.BufferBefore),
			End:   b.End.Add(ev.BufferAfter),
		})
	}
	return Subtract(working, calendar.MergeIntervals(padded)), nil
}

// Subtract removes every interval in cut from the windows, keeping the
// remaining fragments.
func Subtract(windows, cut []model.Interval) []model.Interval {
	out := make([]model.Interval, 0, len(windows))
	for _, w := range windows {
		fragments := []model.Interval{w}
		for _, c := range cut {
			next := fragments[:0:0]
			for _, f := range fragments {
				if !f.Overlaps(c) {
					next = append(next, f)
					continue
				}
				if c.Start.After(f.Start) {
					next = append(next, model.Interval{Start: f.Start, End: c.Start})
				}
				if c.End.Before(f.End) {
					next = append(next, model.Interval{Start: c.End, End: f.End})
				}
			}
			fragments = next
		}
		out = append(out, fragments...)
	}
	return out
}

// Intersect returns the pairwise overlap of two window sets.
func Intersect(a, b []model.Interval) []model.Interval {
	out := make([]model.Interval, 0)
	for _, x := range a {
		for _, y := range b {
			if !x.Overlaps(y) {
				continue
			}
			iv := x
			if y.Start.After(iv.Start) {
				iv.Start = y.Start
			}
			if y.End.Before(iv.End) {
				iv.End = y.End
			}
			out = append(out, iv)
		}
	}
	return calendar.MergeIntervals(out)
}

// Starts computes the candidate start times for the event over the range.
//
// Single-host and distributed events expose the union of the hosts' free
// windows (any eligible host may take the booking); collective events expose
// the intersection (all hosts must be free). Starts already held by a
// capacity-full slot are excluded via the seatsTaken snapshot.
func Starts(ev *model.Event, hosts []HostCalendar, rangeStart, rangeEnd time.Time, seatsTaken map[time.Time]int) ([]time.Time, error) {
	if len(hosts) == 0 {
		return nil, nil
	}

	var windows []model.Interval
	switch ev.AssignmentMode {
	case model.AssignmentCollective:
		for i, hc := range hosts {
			free, err := FreeWindows(hc, ev, rangeStart, rangeEnd)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				windows = free
			} else {
				windows = Intersect(windows, free)
			}
		}
	default:
		for _, hc := range hosts {
			free, err := FreeWindows(hc, ev, rangeStart, rangeEnd)
			if err != nil {
				return nil, err
			}
			windows = append(windows, free...)
		}
		windows = calendar.MergeIntervals(windows)
	}

	step := ev.Granularity
	if step <= 0 {
		step = ev.Duration
	}
	if step <= 0 {
		return nil, fmt.Errorf("event %s has no duration", ev.ID)
	}

	starts := make([]time.Time, 0)
	seen := make(map[time.Time]struct{})
	for _, w := range windows {
		for c := alignUp(w.Start, step); !c.Add(ev.Duration).After(w.End); c = c.Add(step) {
			if c.Before(rangeStart) || c.Add(ev.Duration).After(rangeEnd) {
				continue
			}
			key := c.UTC()
			if _, dup := seen[key]; dup {
				continue
			}
			if taken, ok := seatsTaken[key]; ok && taken >= ev.Capacity {
				continue
			}
			seen[key] = struct{}{}
			starts = append(starts, c)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts, nil
}

// alignUp rounds t up to the next multiple of step (epoch-aligned).
func alignUp(t time.Time, step time.Duration) time.Time {
	aligned := t.Truncate(step)
	if aligned.Before(t) {
		aligned = aligned.Add(step)
	}
	return aligned
}

func parseClock(s string, defH, defM int) (int, int, error) {
	if s == "" {
		return defH, defM, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h, m, nil
}
