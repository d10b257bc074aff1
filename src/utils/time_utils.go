package utils

import (
	"time"
)

// ResetTime resets the time component based on the granularity specified.
// Pass "minute" to reset seconds to zero.
// Pass "hour" to reset minutes and seconds to zero.
// Unknown granularities return t unchanged.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	default:
		return t
	}
}

// CurrentHour is the UTC start of the hour containing t.
func CurrentHour(t time.Time) time.Time {
	return ResetTime(t.UTC(), "hour")
}

// LastCompleteHour is the start of the last hour that has fully closed at t.
func LastCompleteHour(t time.Time) time.Time {
	return CurrentHour(t).Add(-time.Hour)
}

// UntilNextHour returns the wait until the next top of the hour.
func UntilNextHour(t time.Time) time.Duration {
	return CurrentHour(t).Add(time.Hour).Sub(t.UTC())
}

// HourRange lists every hour in [from, to], both truncated to the hour.
func HourRange(from, to time.Time) []time.Time {
	from, to = CurrentHour(from), CurrentHour(to)
	if to.Before(from) {
		return nil
	}
	out := make([]time.Time, 0, int(to.Sub(from)/time.Hour)+1)
	for h := from; !h.After(to); h = h.Add(time.Hour) {
		out = append(out, h)
	}
	return out
}
