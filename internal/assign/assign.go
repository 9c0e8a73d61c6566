// Package assign chooses which host receives a booking on a multi-host
// event. Strategies are a closed set selected by event configuration.
//
// Selection is pure: it reads host calendars, the persisted rotation
// pointer, and period-bucketed assignment counts, and returns a decision.
// The admission engine persists the pointer advance and the counter
// increment inside its transaction so fairness state stays consistent with
// the booking row.
package assign

import (
	"sort"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/internal/model"
)

// Candidate is an eligible host with its busy snapshot for the window.
type Candidate struct {
	Host model.Host
	Busy []model.Interval
}

// Input carries everything a strategy may need for one selection.
type Input struct {
	Event  *model.Event
	Window model.Interval

	Candidates []Candidate

	// Pointer is the persisted cycle position: the next host to try.
	// Nil means rotation starts at the first host in stable order.
	Pointer *uuid.UUID

	// Counts are per-host assignments within the event's distribution
	// period. Missing hosts count as zero.
	Counts map[uuid.UUID]int

	// Preferred, when set and eligible, bypasses the strategy entirely.
	Preferred *uuid.UUID
}

// Selection is the strategy's decision. NextPointer is non-nil only for the
// cycle strategy and names the host the rotation should try next.
type Selection struct {
	HostID      uuid.UUID
	NextPointer *uuid.UUID
}

// Select applies the event's strategy to the input.
// Returns model.ErrNoHostAvailable when no calendar-free host remains.
func Select(in Input) (Selection, error) {
	free := freeHosts(in)
	if len(free) == 0 {
		return Selection{}, model.ErrNoHostAvailable
	}

	// Hard override: a preferred host that survived the free-time filter
	// wins outright, without consulting the strategy or moving its state.
	if in.Preferred != nil {
		for _, h := range free {
			if h.ID == *in.Preferred {
				return Selection{HostID: h.ID}, nil
			}
		}
	}

	switch in.Event.Strategy {
	case model.StrategyCycle:
		return selectCycle(in, free)
	case model.StrategyLeastBookings:
		return selectLeastBookings(in, free), nil
	case model.StrategyAvailabilityWeighted:
		return selectWeighted(free), nil
	default:
		// Unconfigured strategy: stable first-free host.
		return Selection{HostID: free[0].ID}, nil
	}
}

// freeHosts filters candidates to those whose calendar is free for the
// window, in stable host-id order. The event's ignore-busy override skips
// the calendar check entirely.
func freeHosts(in Input) []model.Host {
	hosts := make([]model.Host, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		if !in.Event.IgnoreBusy && overlapsAny(in.Window, c.Busy) {
			continue
		}
		hosts = append(hosts, c.Host)
	}
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].ID.String() < hosts[j].ID.String()
	})
	return hosts
}

func overlapsAny(w model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if w.Overlaps(b) {
			return true
		}
	}
	return false
}

// selectCycle walks the stable ordering of all eligible hosts starting at
// the persisted pointer, picks the first free one, and advances the pointer
// past it. The full candidate set (not just the free subset) defines the
// rotation order so a temporarily busy host keeps its place in line.
func selectCycle(in Input, free []model.Host) (Selection, error) {
	order := make([]uuid.UUID, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		order = append(order, c.Host.ID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	freeSet := make(map[uuid.UUID]struct{}, len(free))
	for _, h := range free {
		freeSet[h.ID] = struct{}{}
	}

	start := 0
	if in.Pointer != nil {
		for i, id := range order {
			if id == *in.Pointer {
				start = i
				break
			}
		}
	}

	for i := 0; i < len(order); i++ {
		idx := (start + i) % len(order)
		id := order[idx]
		if _, ok := freeSet[id]; !ok {
			continue
		}
		next := order[(idx+1)%len(order)]
		return Selection{HostID: id, NextPointer: &next}, nil
	}
	return Selection{}, model.ErrNoHostAvailable
}

// selectLeastBookings picks the free host with the fewest assignments in the
// period window; ties break by stable host-id order (free is already sorted).
func selectLeastBookings(in Input, free []model.Host) Selection {
	best := free[0]
	bestCount := in.Counts[best.ID]
	for _, h := range free[1:] {
		if c := in.Counts[h.ID]; c < bestCount {
			best, bestCount = h, c
		}
	}
	return Selection{HostID: best.ID}
}

// selectWeighted deterministically prefers the highest-weight free host;
// equal weights break by stable host-id order. Repeated calls with identical
// state return the identical host.
func selectWeighted(free []model.Host) Selection {
	best := free[0]
	for _, h := range free[1:] {
		if h.Weight > best.Weight {
			best = h
		}
	}
	return Selection{HostID: best.ID}
}
