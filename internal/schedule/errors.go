package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyEnrollment means there were no unit bounds to derive a
	// window from. It points at a resolver or data problem, not at an
	// empty semester.
	ErrEmptyEnrollment = errors.New("no enrolled units found for the study period")

	// ErrUnalignedWindow means a window's WeekStart is not local midnight of
	// the first weekday.
	ErrUnalignedWindow = errors.New("schedule: window does not start on a week boundary")
)

// MalformedWeekTableError reports a fetched week missing a weekday.
type MalformedWeekTableError struct {
	Week time.Time
	Day  string
}

func (e *MalformedWeekTableError) Error() string {
	return fmt.Sprintf("schedule: week of %s has no %s column", e.Week.Format(weekKeyLayout), e.Day)
}

// UnknownUnitError reports an entry whose unit code has no name.
type UnknownUnitError struct {
	UnitCode string
	Week     time.Time
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("schedule: unit %q in week of %s has no known name", e.UnitCode, e.Week.Format(weekKeyLayout))
}
