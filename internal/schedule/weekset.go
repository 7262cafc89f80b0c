package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// WeekSet is a set of weeks known to contain no classes. Membership is by
// week, so any date inside a week marks the whole week. The zero value is
// an empty set in time.Local.
type WeekSet struct {
	cal   Calendar
	weeks map[string]struct{}
}

// NewWeekSet returns a set holding the weeks of the given dates.
func NewWeekSet(cal Calendar, dates ...time.Time) *WeekSet {
	s := &WeekSet{cal: cal, weeks: make(map[string]struct{}, len(dates))}
	for _, d := range dates {
		s.Add(d)
	}
	return s
}

// Add marks the week containing t as empty.
func (s *WeekSet) Add(t time.Time) {
	if s.weeks == nil {
		s.weeks = make(map[string]struct{})
	}
	s.weeks[s.cal.WeekKey(t)] = struct{}{}
}

// AddBreak marks weeks consecutive weeks, starting with the week of start.
func (s *WeekSet) AddBreak(start time.Time, weeks int) error {
	if weeks <= 0 {
		return errors.New("schedule: break must last at least one week")
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.WEEKLY,
		Dtstart: s.cal.FloorToWeekStart(start),
		Count:   weeks,
	})
	if err != nil {
		return fmt.Errorf("schedule: break rule: %w", err)
	}
	for _, w := range r.All() {
		s.Add(w)
	}
	return nil
}

// Contains reports whether the week containing t is known to be empty.
// A nil set contains nothing.
func (s *WeekSet) Contains(t time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s.weeks[s.cal.WeekKey(t)]
	return ok
}

func (s *WeekSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.weeks)
}

// Keys returns the sorted week keys (YYYY-MM-DD of each week start).
func (s *WeekSet) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.weeks))
	for k := range s.weeks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
