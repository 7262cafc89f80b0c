package schedule

import (
	"time"

	"semcal/internal/model"
)

// ComputeWindow derives the fetch window from per-unit class bounds.
//
// The window ends at the latest class end. It starts at the week boundary
// of the earliest class start, or of now when the semester has already
// begun, so elapsed weeks are never fetched.
func ComputeWindow(bounds []model.ClassBound, now time.Time, cal Calendar) (model.ScheduleWindow, error) {
	if len(bounds) == 0 {
		return model.ScheduleWindow{}, ErrEmptyEnrollment
	}

	first := bounds[0].First
	last := bounds[0].Last
	for _, b := range bounds[1:] {
		if b.First.Before(first) {
			first = b.First
		}
		if b.Last.After(last) {
			last = b.Last
		}
	}

	from := first
	if now.After(first) {
		from = now
	}

	return model.ScheduleWindow{
		WeekStart: cal.FloorToWeekStart(from),
		LastClass: last.In(cal.loc()),
	}, nil
}
