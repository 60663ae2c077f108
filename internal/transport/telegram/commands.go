package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"routined/internal/eventbus"
	"routined/internal/routine"
	"routined/internal/runner"
	logx "routined/pkg/logx"
)

const helpText = `Routine commands:
/routines - list all routines
/add name | HH:MM | days | action; action2 | delay - create a routine
    e.g. /add morning | 07:30 | mon,tue,wed | lights on; start coffee | 10s
/del <id or name> - delete a routine
/enable <id or name> - activate a routine
/disable <id or name> - deactivate a routine`

func (s *Service) registerHandlers() {
	s.bot.Handle("/help", s.ownerOnly(s.handleHelp))
	s.bot.Handle("/start", s.ownerOnly(s.handleHelp))
	s.bot.Handle("/routines", s.ownerOnly(s.handleList))
	s.bot.Handle("/add", s.ownerOnly(s.handleAdd))
	s.bot.Handle("/del", s.ownerOnly(s.handleRemove))
	s.bot.Handle("/enable", s.ownerOnly(s.handleEnable))
	s.bot.Handle("/disable", s.ownerOnly(s.handleDisable))
}

func (s *Service) handleHelp(c tele.Context) error {
	return c.Send(helpText)
}

func (s *Service) handleList(c tele.Context) error {
	listing := s.svc.List()
	if len(listing.All) == 0 {
		return c.Send("No routines yet. /add to create one.")
	}

	armedAt := map[string]time.Time{}
	for _, a := range s.svc.ArmedSnapshot() {
		armedAt[a.ID] = a.At
	}

	var b strings.Builder
	for _, r := range listing.All {
		state := "off"
		if r.Active {
			state = "on"
		}
		fmt.Fprintf(&b, "%s  %s  [%s]\n", shortID(r.ID), r.Name, state)
		fmt.Fprintf(&b, "    %s on %s\n", r.Time, strings.Join(r.Days, ", "))
		fmt.Fprintf(&b, "    %d action(s), %s between\n", len(r.Actions), r.ActionDelay)
		if at, ok := armedAt[r.ID]; ok {
			fmt.Fprintf(&b, "    armed, fires %s\n", at.Format("15:04"))
		}
	}
	return c.Send(b.String())
}

func (s *Service) handleAdd(c tele.Context) error {
	draft, err := parseAddArgs(c.Message().Payload)
	if err != nil {
		return c.Send(fmt.Sprintf("Cannot add: %v\n\n%s", err, helpText))
	}
	if draft.ActionDelay == 0 {
		draft.ActionDelay = s.cfg.DefaultActionDelay
	}
	r, err := s.svc.Add(context.Background(), draft)
	if err != nil {
		return c.Send(fmt.Sprintf("Cannot add: %v", err))
	}
	s.log.Info("routine added via telegram", logx.String("id", r.ID))
	return c.Send(fmt.Sprintf("Added %q (%s), fires %s on %s.",
		r.Name, shortID(r.ID), r.Time, strings.Join(r.Days, ", ")))
}

func (s *Service) handleRemove(c tele.Context) error {
	id, err := s.resolve(c.Message().Payload)
	if err != nil {
		return c.Send(err.Error())
	}
	if err := s.svc.Remove(context.Background(), id); err != nil {
		return c.Send(fmt.Sprintf("Cannot delete: %v", err))
	}
	return c.Send("Deleted.")
}

func (s *Service) handleEnable(c tele.Context) error {
	id, err := s.resolve(c.Message().Payload)
	if err != nil {
		return c.Send(err.Error())
	}
	if err := s.svc.Activate(context.Background(), id); err != nil {
		return c.Send(fmt.Sprintf("Cannot enable: %v", err))
	}
	return c.Send("Enabled.")
}

func (s *Service) handleDisable(c tele.Context) error {
	id, err := s.resolve(c.Message().Payload)
	if err != nil {
		return c.Send(err.Error())
	}
	if err := s.svc.Deactivate(context.Background(), id); err != nil {
		return c.Send(fmt.Sprintf("Cannot disable: %v", err))
	}
	return c.Send("Disabled.")
}

// resolve maps a user-typed reference to a routine id: exact id, unique id
// prefix, or unique display name, in that order.
func (s *Service) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("which routine? give an id or name")
	}

	all := s.svc.List().All

	var prefixMatches []string
	for _, r := range all {
		if r.ID == ref {
			return r.ID, nil
		}
		if len(ref) >= 6 && strings.HasPrefix(r.ID, ref) {
			prefixMatches = append(prefixMatches, r.ID)
		}
	}
	if len(prefixMatches) == 1 {
		return prefixMatches[0], nil
	}
	if len(prefixMatches) > 1 {
		return "", fmt.Errorf("id prefix %q matches %d routines", ref, len(prefixMatches))
	}

	var nameMatches []string
	for _, r := range all {
		if r.Name == ref {
			nameMatches = append(nameMatches, r.ID)
		}
	}
	switch len(nameMatches) {
	case 0:
		return "", fmt.Errorf("no routine matches %q", ref)
	case 1:
		return nameMatches[0], nil
	default:
		return "", fmt.Errorf("%d routines are named %q, use the id", len(nameMatches), ref)
	}
}

// parseAddArgs parses the pipe-separated /add payload:
//
//	name | HH:MM | days | action; action | delay
//
// The delay segment is optional.
func parseAddArgs(payload string) (routine.Draft, error) {
	parts := strings.Split(payload, "|")
	if len(parts) < 4 || len(parts) > 5 {
		return routine.Draft{}, errors.New("expected: name | HH:MM | days | actions [| delay]")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	days, err := parseDays(parts[2])
	if err != nil {
		return routine.Draft{}, err
	}

	var actions []string
	for _, a := range strings.Split(parts[3], ";") {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}

	d := routine.Draft{
		Name:    parts[0],
		Time:    parts[1],
		Days:    days,
		Actions: actions,
	}
	if len(parts) == 5 && parts[4] != "" {
		delay, err := time.ParseDuration(parts[4])
		if err != nil {
			return routine.Draft{}, fmt.Errorf("bad delay %q: %v", parts[4], err)
		}
		d.ActionDelay = delay
	}
	if err := routine.ValidateDraft(&d); err != nil {
		return routine.Draft{}, err
	}
	return d, nil
}

// parseDays accepts comma-separated weekday names or unambiguous prefixes
// ("mon", "tues"), plus "daily" and "weekdays" shorthands.
func parseDays(s string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "everyday", "every day":
		return append([]string(nil), routine.Weekdays...), nil
	case "weekdays":
		return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}, nil
	case "weekends", "weekend":
		return []string{"Saturday", "Sunday"}, nil
	}

	var days []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		day, err := expandDay(raw)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	sort.Strings(days) // ValidateDraft re-sorts canonically; dedupe happens there too
	return days, nil
}

func expandDay(raw string) (string, error) {
	if day, ok := routine.CanonicalDay(raw); ok {
		return day, nil
	}
	if len(raw) >= 2 {
		lower := strings.ToLower(raw)
		var matches []string
		for _, d := range routine.Weekdays {
			if strings.HasPrefix(strings.ToLower(d), lower) {
				matches = append(matches, d)
			}
		}
		if len(matches) == 1 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("unknown weekday %q", raw)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatDispatch(e eventbus.Event) string {
	d, ok := e.Data.(runner.DispatchEvent)
	if !ok {
		return ""
	}
	return "▸ " + d.Action
}
