// Package billing turns recurring subscriptions into a deterministic,
// non-duplicated stream of expenses.
package billing

import (
	"fmt"
	"time"

	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// Advance returns the anchor of the occurrence after anchor. Month-based
// cycles clamp to the last day of the target month, so Jan 31 advances to
// Feb 28 (or 29) and Feb 29 advances yearly to Feb 28.
//
// Callers must reject unrecognized cycles first; Advance panics on them.
func Advance(anchor time.Time, cycle models.BillingCycle) time.Time {
	switch cycle {
	case models.CycleDaily:
		return anchor.AddDate(0, 0, 1)
	case models.CycleWeekly:
		return anchor.AddDate(0, 0, 7)
	case models.CycleMonthly:
		return addMonthsClamped(anchor, 1)
	case models.CycleQuarterly:
		return addMonthsClamped(anchor, 3)
	case models.CycleBiannually:
		return addMonthsClamped(anchor, 6)
	case models.CycleYearly:
		return addMonthsClamped(anchor, 12)
	}
	panic(fmt.Sprintf("billing: unrecognized cycle %q", cycle))
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Occurrences lists anchors starting at from, advancing by cycle, up to and
// including through. At most limit anchors are returned.
func Occurrences(from time.Time, cycle models.BillingCycle, through time.Time, limit int) []time.Time {
	var out []time.Time
	for anchor := from; !After(anchor, through) && len(out) < limit; anchor = Advance(anchor, cycle) {
		out = append(out, anchor)
	}
	return out
}

// DateOf returns the calendar date of t in loc, as UTC midnight.
// A nil loc keeps t's own location.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return Normalize(t)
}

// Normalize drops the time of day, keeping the date t shows in its own location.
func Normalize(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether a falls on an earlier calendar date than b.
func Before(a, b time.Time) bool {
	return Normalize(a).Before(Normalize(b))
}

// After reports whether a falls on a later calendar date than b.
func After(a, b time.Time) bool {
	return Normalize(a).After(Normalize(b))
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return Normalize(a).Equal(Normalize(b))
}

// Today returns the current calendar date in loc.
func Today(loc *time.Location) time.Time {
	return DateOf(time.Now(), loc)
}
