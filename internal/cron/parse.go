package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ParseScheduleArg turns the user-facing schedule syntax into a Schedule:
//
//	at 2026-03-14T10:30:00Z
//	every 5m          (units: s, m, h)
//	cron "*/15 9-17 * * 1-5"
func ParseScheduleArg(arg string) (Schedule, error) {
	arg = strings.TrimSpace(arg)
	switch {
	case strings.HasPrefix(arg, "at "):
		return parseAt(strings.TrimSpace(arg[3:]))
	case strings.HasPrefix(arg, "every "):
		return parseEvery(strings.TrimSpace(arg[6:]))
	case strings.HasPrefix(arg, "cron "):
		return parseCron(strings.TrimSpace(arg[5:]))
	}
	return Schedule{}, fmt.Errorf("unrecognized schedule %q (want: at <ISO-8601> | every <N>{s|m|h} | cron \"<expr>\")", arg)
}

func parseAt(s string) (Schedule, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Schedule{}, fmt.Errorf("parse at-time %q: %w", s, err)
	}
	ms := ts.UnixMilli()
	return Schedule{At: &ms}, nil
}

func parseEvery(s string) (Schedule, error) {
	if len(s) < 2 {
		return Schedule{}, fmt.Errorf("parse interval %q: too short", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return Schedule{}, fmt.Errorf("parse interval %q: want positive integer before unit", s)
	}
	var ms int64
	switch unit {
	case 's':
		ms = n * 1000
	case 'm':
		ms = n * 60_000
	case 'h':
		ms = n * 3_600_000
	default:
		return Schedule{}, fmt.Errorf("parse interval %q: unit must be s, m or h", s)
	}
	return Schedule{Every: &ms}, nil
}

func parseCron(s string) (Schedule, error) {
	expr := strings.Trim(s, `"`)
	if len(strings.Fields(expr)) != 5 {
		return Schedule{}, fmt.Errorf("cron expression %q: want 5 fields", expr)
	}
	if !gronx.New().IsValid(expr) {
		return Schedule{}, fmt.Errorf("cron expression %q is invalid", expr)
	}
	return Schedule{Cron: expr}, nil
}

// FormatSchedule renders a Schedule back into the canonical argument form.
// Parse-then-format is idempotent for canonical inputs.
func FormatSchedule(s Schedule) string {
	switch {
	case s.At != nil:
		return "at " + time.UnixMilli(*s.At).UTC().Format(time.RFC3339)
	case s.Every != nil:
		return "every " + formatInterval(*s.Every)
	case s.Cron != "":
		return fmt.Sprintf("cron %q", s.Cron)
	}
	return "(unset)"
}

func formatInterval(ms int64) string {
	switch {
	case ms%3_600_000 == 0:
		return fmt.Sprintf("%dh", ms/3_600_000)
	case ms%60_000 == 0:
		return fmt.Sprintf("%dm", ms/60_000)
	default:
		return fmt.Sprintf("%ds", ms/1000)
	}
}

// location resolves the schedule's time zone, falling back to local.
func (s Schedule) location() *time.Location {
	if s.Cron != "" && s.TZ != "" {
		if loc, err := time.LoadLocation(s.TZ); err == nil {
			return loc
		}
	}
	return time.Local
}

// NextAfter computes the next fire time strictly after ref, or nil when the
// schedule is exhausted (a past one-shot).
func (s Schedule) NextAfter(ref time.Time) *int64 {
	switch {
	case s.At != nil:
		if *s.At > ref.UnixMilli() {
			return s.At
		}
		return nil
	case s.Every != nil:
		next := ref.UnixMilli() + *s.Every
		return &next
	case s.Cron != "":
		next, err := gronx.NextTickAfter(s.Cron, ref.In(s.location()), false)
		if err != nil {
			return nil
		}
		ms := next.UnixMilli()
		return &ms
	}
	return nil
}

// MissedBetween returns the fire instants strictly inside (afterMs, beforeMs].
// Used at startup to collapse runs missed while the process was down. The
// result is capped; one catch-up invocation represents them all anyway.
func (s Schedule) MissedBetween(afterMs, beforeMs int64) []int64 {
	const maxMissed = 1000
	var missed []int64
	switch {
	case s.At != nil:
		if *s.At > afterMs && *s.At <= beforeMs {
			missed = append(missed, *s.At)
		}
	case s.Every != nil:
		for t := afterMs + *s.Every; t <= beforeMs && len(missed) < maxMissed; t += *s.Every {
			missed = append(missed, t)
		}
	case s.Cron != "":
		ref := time.UnixMilli(afterMs).In(s.location())
		for len(missed) < maxMissed {
			next, err := gronx.NextTickAfter(s.Cron, ref, false)
			if err != nil {
				break
			}
			ms := next.UnixMilli()
			if ms > beforeMs {
				break
			}
			missed = append(missed, ms)
			ref = next
		}
	}
	return missed
}
