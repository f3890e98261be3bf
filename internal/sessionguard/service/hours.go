package service

import (
	"fmt"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// BusinessHours is a daily opening window on a set of weekdays in one time zone.
// An end before the start wraps past midnight; the window belongs to the day it opens.
type BusinessHours struct {
	start   int
	end     int
	days    map[time.Weekday]bool
	loc     *time.Location
	enforce bool
}

// AlwaysOpen never reports out-of-hours.
func AlwaysOpen() *BusinessHours {
	return &BusinessHours{loc: time.UTC}
}

// ParseBusinessHours builds hours from "HH:MM" bounds, a comma list of
// three-letter weekdays and an IANA zone name.
func ParseBusinessHours(start, end, days, timezone string, enforce bool) (*BusinessHours, error) {
	if !enforce {
		return AlwaysOpen(), nil
	}
	startMin, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("business hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("business hours end: %w", err)
	}
	if startMin == endMin {
		return nil, fmt.Errorf("business hours start and end are equal")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("business hours timezone: %w", err)
	}
	set := make(map[time.Weekday]bool)
	for _, d := range strings.Split(days, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		wd, ok := weekdays[d]
		if !ok {
			return nil, fmt.Errorf("unknown business day %q", d)
		}
		set[wd] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no business days configured")
	}
	return &BusinessHours{start: startMin, end: endMin, days: set, loc: loc, enforce: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t falls inside business hours.
func (b *BusinessHours) Contains(t time.Time) bool {
	if b == nil || !b.enforce {
		return true
	}
	local := t.In(b.loc)
	minute := local.Hour()*60 + local.Minute()
	if b.start < b.end {
		return b.days[local.Weekday()] && minute >= b.start && minute < b.end
	}
	if minute >= b.start {
		return b.days[local.Weekday()]
	}
	if minute < b.end {
		return b.days[local.AddDate(0, 0, -1).Weekday()]
	}
	return false
}
