package telegram

import (
	"reflect"
	"testing"
	"time"

	"routined/internal/eventbus"
	"routined/internal/runner"
)

func TestParseAddArgs(t *testing.T) {
	t.Parallel()
	d, err := parseAddArgs("morning | 07:30 | mon,tue | lights on; start coffee | 10s")
	if err != nil {
		t.Fatalf("parseAddArgs: %v", err)
	}
	if d.Name != "morning" || d.Time != "07:30" {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if !reflect.DeepEqual(d.Days, []string{"Monday", "Tuesday"}) {
		t.Fatalf("unexpected days: %v", d.Days)
	}
	if !reflect.DeepEqual(d.Actions, []string{"lights on", "start coffee"}) {
		t.Fatalf("unexpected actions: %v", d.Actions)
	}
	if d.ActionDelay != 10*time.Second {
		t.Fatalf("unexpected delay: %v", d.ActionDelay)
	}
}

func TestParseAddArgsDelayOptional(t *testing.T) {
	t.Parallel()
	d, err := parseAddArgs("night | 22:00 | daily | lights off")
	if err != nil {
		t.Fatalf("parseAddArgs: %v", err)
	}
	if d.ActionDelay != 0 {
		t.Fatalf("expected zero delay, got %v", d.ActionDelay)
	}
	if len(d.Days) != 7 {
		t.Fatalf("daily should expand to 7 days, got %v", d.Days)
	}
}

func TestParseAddArgsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
	}{
		{"too few segments", "a | 07:00 | mon"},
		{"too many segments", "a | 07:00 | mon | x | 5s | extra"},
		{"bad time", "a | 7am | mon | x"},
		{"bad day", "a | 07:00 | xyz | x"},
		{"no actions", "a | 07:00 | mon |  ;  "},
		{"bad delay", "a | 07:00 | mon | x | soonish"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseAddArgs(tt.payload); err == nil {
				t.Fatalf("expected error for payload %q", tt.payload)
			}
		})
	}
}

func TestParseDays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"weekdays", []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}},
		{"weekend", []string{"Saturday", "Sunday"}},
		{"mon, wednesday, fri", []string{"Friday", "Monday", "Wednesday"}},
		{"tues", []string{"Tuesday"}},
	}
	for _, tt := range tests {
		got, err := parseDays(tt.in)
		if err != nil {
			t.Fatalf("parseDays(%q): %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseDays(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExpandDayAmbiguousPrefix(t *testing.T) {
	t.Parallel()
	if _, err := expandDay("s"); err == nil {
		t.Fatal("expected error for one-letter prefix")
	}
	// "tu" is unique; "su" and "sa" disambiguate the S days; "t" never would.
	if day, err := expandDay("tu"); err != nil || day != "Tuesday" {
		t.Fatalf("expandDay(tu) = %q, %v", day, err)
	}
	if day, err := expandDay("sa"); err != nil || day != "Saturday" {
		t.Fatalf("expandDay(sa) = %q, %v", day, err)
	}
	if day, err := expandDay("su"); err != nil || day != "Sunday" {
		t.Fatalf("expandDay(su) = %q, %v", day, err)
	}
	if day, err := expandDay("th"); err != nil || day != "Thursday" {
		t.Fatalf("expandDay(th) = %q, %v", day, err)
	}
}

func TestShortID(t *testing.T) {
	t.Parallel()
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}

func TestFormatDispatch(t *testing.T) {
	t.Parallel()
	msg := formatDispatch(eventbus.Event{
		Type: runner.EventDispatch,
		Data: runner.DispatchEvent{Action: "lights on"},
	})
	if msg != "▸ lights on" {
		t.Fatalf("formatDispatch = %q", msg)
	}
	if formatDispatch(eventbus.Event{Type: runner.EventDispatch, Data: 42}) != "" {
		t.Fatal("non-dispatch payload should format to empty")
	}
}
