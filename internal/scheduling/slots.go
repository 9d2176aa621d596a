package scheduling

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps is the booking conflict rule: a.start < b.end && a.end > b.start.
// Touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

// HasConflict reports whether candidate overlaps any of booked.
func HasConflict(candidate Interval, booked []Interval) bool {
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// GenerateSlots cuts window into consecutive slots of length d starting at
// window.Start. A trailing remainder shorter than d is dropped.
func GenerateSlots(window Interval, d time.Duration) []Interval {
	if d <= 0 || !window.End.After(window.Start) {
		return nil
	}

	var slots []Interval
	for start := window.Start; !start.Add(d).After(window.End); start = start.Add(d) {
		slots = append(slots, Interval{Start: start, End: start.Add(d)})
	}
	return slots
}

// FilterBookedStarts removes candidates whose start instant equals the start
// of a booked interval. Only exact starts are compared, so a booking that
// begins in the middle of a candidate leaves that candidate listed; Book
// still rejects it through the overlap rule.
func FilterBookedStarts(candidates, booked []Interval) []Interval {
	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.Start.UnixNano()] = struct{}{}
	}

	free := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := taken[c.Start.UnixNano()]; ok {
			continue
		}
		free = append(free, c)
	}
	return free
}

// DayWindow resolves a working day on the given calendar date into absolute
// instants in loc.
func DayWindow(day WorkingDay, date time.Time, loc *time.Location) (Interval, error) {
	start, err := clockOn(date, day.Start, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("working day start: %w", err)
	}
	end, err := clockOn(date, day.End, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("working day end: %w", err)
	}
	if !end.After(start) {
		return Interval{}, fmt.Errorf("working day ends at %s before it starts at %s", day.End, day.Start)
	}
	return Interval{Start: start, End: end}, nil
}

// DayBounds is the whole calendar day of date in loc.
func DayBounds(date time.Time, loc *time.Location) Interval {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

func clockOn(date time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}
