package schedule

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"semcal/internal/model"
)

const weekKeyLayout = "2006-01-02"

// Calendar fixes the local conventions all date arithmetic runs in: the
// portal's timezone and the weekday a timetable week starts on.
type Calendar struct {
	// Location is the named timezone of the portal. If nil, time.Local is used.
	Location *time.Location
	// FirstDay is the first weekday of a week (time.Monday for most portals).
	FirstDay time.Weekday
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// FloorToWeekStart returns local midnight of the most recent FirstDay on or
// before t.
func (c Calendar) FloorToWeekStart(t time.Time) time.Time {
	local := t.In(c.loc())
	back := (int(local.Weekday()) - int(c.FirstDay) + 7) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-back, 0, 0, 0, 0, c.loc())
}

// AddDays returns local midnight n calendar days after day's date. Built
// with time.Date so DST changes never move it off midnight.
func (c Calendar) AddDays(day time.Time, n int) time.Time {
	y, m, d := day.In(c.loc()).Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, c.loc())
}

// Weekdays returns the seven weekdays in week order starting at FirstDay.
func (c Calendar) Weekdays() []time.Weekday {
	out := make([]time.Weekday, 7)
	for i := range out {
		out[i] = time.Weekday((int(c.FirstDay) + i) % 7)
	}
	return out
}

// WeekKey is the canonical string for the week containing t.
func (c Calendar) WeekKey(t time.Time) string {
	return c.FloorToWeekStart(t).Format(weekKeyLayout)
}

// Weeks lists every week start from window.WeekStart up to and including
// window.LastClass, one week apart. The window must already be aligned.
func (c Calendar) Weeks(window model.ScheduleWindow) ([]time.Time, error) {
	start := window.WeekStart.In(c.loc())
	if !start.Equal(c.FloorToWeekStart(start)) {
		return nil, fmt.Errorf("%w: %s", ErrUnalignedWindow, start.Format(time.RFC3339))
	}
	if window.LastClass.Before(start) {
		return nil, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.WEEKLY,
		Dtstart: start,
		Until:   window.LastClass.In(c.loc()),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule: week rule: %w", err)
	}
	return r.All(), nil
}
