package routine

import "time"

// EligibleOn reports whether the routine may fire on the given date: true iff
// the date's weekday name is in the routine's day set. Pure and deterministic;
// only the date part of ref matters.
func EligibleOn(r Routine, ref time.Time) bool {
	day := ref.Weekday().String()
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}
