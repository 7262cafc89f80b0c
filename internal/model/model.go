package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StudyPeriod is one enrollment period offered by the portal, e.g.
// code "2024-S1" named "Session 1, 2024".
type StudyPeriod struct {
	Code string
	Name string
	// Selected reports whether the portal currently shows this period by
	// default. Other periods need filtered lookups.
	Selected bool
}

// Year returns the 4-digit year prefix of the period code.
func (p StudyPeriod) Year() (int, error) {
	i := strings.IndexAny(p.Code, "-_/ ")
	if i != 4 {
		return 0, fmt.Errorf("study period %q: code has no 4-digit year prefix", p.Code)
	}
	y, err := strconv.Atoi(p.Code[:i])
	if err != nil {
		return 0, fmt.Errorf("study period %q: %w", p.Code, err)
	}
	return y, nil
}

// ClassBound is the first class start and last class end of one enrolled
// unit. It is only used to bound the fetch window.
type ClassBound struct {
	UnitCode string
	First    time.Time
	Last     time.Time
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a 24h "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// On returns the instant at this time of day on the given date. Only the
// date part of day is used; loc decides the zone.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// RawWeekEntry is one class occurrence as scraped from a weekly view.
type RawWeekEntry struct {
	UnitCode string
	Activity string
	Location string
	Start    TimeOfDay
	End      TimeOfDay
}

// WeekTable maps an English weekday name ("Monday", ...) to that day's
// entries in the portal's display order.
type WeekTable map[string][]RawWeekEntry

// CalendarEvent is a single dated class.
type CalendarEvent struct {
	UnitCode    string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// Duration returns End - Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// ScheduleWindow is the fetch range: WeekStart is local midnight of a
// week's first day, LastClass the end of the latest class.
type ScheduleWindow struct {
	WeekStart time.Time
	LastClass time.Time
}
