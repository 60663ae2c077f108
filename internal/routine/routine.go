package routine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDefinition is wrapped by every draft validation failure.
var ErrInvalidDefinition = errors.New("invalid routine definition")

// Routine is a user-defined schedule: fire the ordered action list at Time
// on every weekday in Days, while Active.
//
// ID is assigned at creation and never changes. Name is display-only and not
// required to be unique; name-based lookup lives in the registry.
type Routine struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Time        string        `json:"time"` // "HH:MM", 24h wall clock, no timezone
	Days        []string      `json:"days"` // canonical weekday names ("Monday", ...)
	Actions     []string      `json:"actions"`
	ActionDelay time.Duration `json:"action_delay"` // between consecutive actions
	Active      bool          `json:"active"`
}

// Clone returns a deep copy so callers can hand routines across goroutines
// without sharing slices.
func (r Routine) Clone() Routine {
	cp := r
	cp.Days = append([]string(nil), r.Days...)
	cp.Actions = append([]string(nil), r.Actions...)
	return cp
}

// Draft carries the caller-settable fields of an add/edit request.
type Draft struct {
	Name        string
	Time        string
	Days        []string
	Actions     []string
	ActionDelay time.Duration
}

// Weekdays lists the canonical day names accepted in Draft.Days,
// Monday-first to match how users state schedules.
var Weekdays = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// CanonicalDay maps a case-insensitive weekday name to its canonical
// capitalized form. ok is false for anything that is not a weekday.
func CanonicalDay(s string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	for _, d := range Weekdays {
		if strings.ToLower(d) == t {
			return d, true
		}
	}
	return "", false
}

// ParseClock parses a strict 24h "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ValidateDraft rejects malformed drafts before they reach the registry.
// Day names are normalized to canonical form and de-duplicated in place.
func ValidateDraft(d *Draft) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if _, _, err := ParseClock(d.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if len(d.Days) == 0 {
		return fmt.Errorf("%w: at least one weekday is required", ErrInvalidDefinition)
	}
	seen := map[string]bool{}
	days := make([]string, 0, len(d.Days))
	for _, raw := range d.Days {
		day, ok := CanonicalDay(raw)
		if !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidDefinition, raw)
		}
		if seen[day] {
			continue
		}
		seen[day] = true
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return dayIndex(days[i]) < dayIndex(days[j]) })
	d.Days = days

	if len(d.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidDefinition)
	}
	for i, a := range d.Actions {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("%w: action %d is empty", ErrInvalidDefinition, i+1)
		}
	}
	if d.ActionDelay < 0 {
		return fmt.Errorf("%w: action delay must be >= 0", ErrInvalidDefinition)
	}
	return nil
}

// Validate checks a stored routine. It catches records that predate a schema
// change or were edited on disk by hand; the sweep skips (not aborts on) them.
func (r Routine) Validate() error {
	d := Draft{Name: r.Name, Time: r.Time, Days: r.Days, Actions: r.Actions, ActionDelay: r.ActionDelay}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDefinition)
	}
	return ValidateDraft(&d)
}

func dayIndex(day string) int {
	for i, d := range Weekdays {
		if d == day {
			return i
		}
	}
	return len(Weekdays)
}
