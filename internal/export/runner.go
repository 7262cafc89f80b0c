// Package export runs one end-to-end timetable export: log in, pick a study
// period, compute its schedule window, aggregate every week and render the
// result envelope.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"semcal/internal/config"
	appLog "semcal/internal/log"
	"semcal/internal/model"
	"semcal/internal/output"
	"semcal/internal/period"
	"semcal/internal/portal"
	"semcal/internal/schedule"
)

// Portal is the subset of a portal session the pipeline needs.
type Portal interface {
	schedule.WeekSource
	Login(ctx context.Context, username, password string) error
	StudyPeriods(ctx context.Context) ([]model.StudyPeriod, error)
	// Enrollment returns unit names and class bounds for p in one lookup.
	Enrollment(ctx context.Context, p model.StudyPeriod) (map[string]string, []model.ClassBound, error)
}

// Outcome is the rendered result of one run.
type Outcome struct {
	// Data is the serialized envelope, ready to write.
	Data []byte
	// Failed reports that Data is an error envelope.
	Failed bool
	// Period is the resolved study period; zero when resolution failed.
	Period model.StudyPeriod
	// Events is the number of classes in Data.
	Events int
	// Err is the error Data reports when Failed is set.
	Err error
}

// Runner holds everything needed to run an export. A Runner may be reused;
// every Run opens a new portal session through Connect.
type Runner struct {
	Connect  func() (Portal, error)
	Resolver *period.Resolver
	Calendar schedule.Calendar
	Skip     *schedule.WeekSet
	Output   output.Options

	Username string
	Password string
	// Period is the requested study period name or code. Empty asks the
	// Resolver's prompter, or without one takes the portal's current period.
	Period string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Run performs one export.
//
// Login failures, unknown study periods and empty enrollments produce an
// error envelope in Outcome with a nil error. Every other failure is
// returned and no output is produced.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	events, p, err := r.collect(ctx)
	if err != nil {
		if !enveloped(err) {
			return Outcome{}, err
		}
		appLog.Warn("export produced an error envelope", "reason", err.Error())
		data, rerr := output.RenderError(err)
		if rerr != nil {
			return Outcome{}, fmt.Errorf("export: render error envelope: %w", rerr)
		}
		return Outcome{Data: data, Failed: true, Period: p, Err: err}, nil
	}

	data, err := output.Render(p.Name, events, r.Output)
	if err != nil {
		return Outcome{}, fmt.Errorf("export: render: %w", err)
	}
	appLog.Info("export complete", "period", p.Code, "classes", len(events), "format", r.Output.Format)
	return Outcome{Data: data, Period: p, Events: len(events)}, nil
}

func (r *Runner) collect(ctx context.Context) ([]model.CalendarEvent, model.StudyPeriod, error) {
	if r.Connect == nil {
		return nil, model.StudyPeriod{}, errors.New("export: no portal configured")
	}
	src, err := r.Connect()
	if err != nil {
		return nil, model.StudyPeriod{}, fmt.Errorf("export: connect: %w", err)
	}

	if err := src.Login(ctx, r.Username, r.Password); err != nil {
		return nil, model.StudyPeriod{}, err
	}

	periods, err := src.StudyPeriods(ctx)
	if err != nil {
		return nil, model.StudyPeriod{}, fmt.Errorf("export: list study periods: %w", err)
	}
	resolver := r.Resolver
	if resolver == nil {
		resolver = &period.Resolver{}
	}
	p, err := resolver.Resolve(ctx, periods, r.Period)
	if err != nil {
		return nil, model.StudyPeriod{}, err
	}
	appLog.Info("study period resolved", "code", p.Code, "name", p.Name, "selected", p.Selected)

	names, bounds, err := src.Enrollment(ctx, p)
	if err != nil {
		return nil, p, fmt.Errorf("export: enrollment: %w", err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	window, err := schedule.ComputeWindow(bounds, now(), r.Calendar)
	if err != nil {
		return nil, p, err
	}
	appLog.Info("schedule window",
		"week_start", window.WeekStart.Format(time.DateOnly),
		"last_class", window.LastClass.Format(time.DateTime),
		"skipped_weeks", r.Skip.Len(),
	)

	agg := schedule.Aggregator{Calendar: r.Calendar, Skip: r.Skip}
	events, err := agg.Aggregate(ctx, src, p.Code, window, names)
	if err != nil {
		return nil, p, err
	}
	return events, p, nil
}

// enveloped reports whether err is reported to the caller as an error
// envelope rather than aborting the run.
func enveloped(err error) bool {
	var unknown *period.UnknownStudyPeriodError
	switch {
	case errors.Is(err, portal.ErrLoginFailed),
		errors.Is(err, period.ErrNoStudyPeriods),
		errors.Is(err, period.ErrNoSelectedPeriod),
		errors.Is(err, schedule.ErrEmptyEnrollment),
		errors.As(err, &unknown):
		return true
	}
	return false
}

// SkipWeeks builds the set of known empty weeks from the config's
// no_class_weeks and breaks.
func SkipWeeks(cfg *config.Config, cal schedule.Calendar) (*schedule.WeekSet, error) {
	loc := cal.Location
	if loc == nil {
		loc = time.Local
	}
	set := schedule.NewWeekSet(cal)
	for _, d := range cfg.NoClassWeeks {
		t, err := time.ParseInLocation(time.DateOnly, d, loc)
		if err != nil {
			return nil, fmt.Errorf("export: no_class_weeks %q: %w", d, err)
		}
		set.Add(t)
	}
	for _, b := range cfg.Breaks {
		t, err := time.ParseInLocation(time.DateOnly, b.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("export: break start %q: %w", b.Start, err)
		}
		if err := set.AddBreak(t, b.Weeks); err != nil {
			return nil, fmt.Errorf("export: break %s: %w", b.Start, err)
		}
	}
	return set, nil
}
