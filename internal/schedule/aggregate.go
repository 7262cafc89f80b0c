package schedule

import (
	"context"
	"fmt"
	"time"

	appLog "semcal/internal/log"
	"semcal/internal/model"
)

// WeekSource returns one week of raw timetable data at a time.
type WeekSource interface {
	GetWeek(ctx context.Context, periodCode string, weekStart time.Time) (model.WeekTable, error)
}

// Aggregator stitches weekly snapshots into dated events.
type Aggregator struct {
	Calendar Calendar
	// Skip holds weeks known to have no classes. They are never fetched.
	// nil skips nothing.
	Skip *WeekSet
}

// Aggregate walks the window one week at a time, fetching each week not in
// Skip from src, and returns all events in week, then weekday order.
//
// Fetch errors are returned as-is (wrapped); nothing is retried here. A
// week missing a weekday yields *MalformedWeekTableError and a unit absent
// from names yields *UnknownUnitError. No partial result is returned.
func (a *Aggregator) Aggregate(ctx context.Context, src WeekSource, periodCode string, window model.ScheduleWindow, names map[string]string) ([]model.CalendarEvent, error) {
	weeks, err := a.Calendar.Weeks(window)
	if err != nil {
		return nil, err
	}

	result := make([]model.CalendarEvent, 0)
	for _, week := range weeks {
		key := week.Format(weekKeyLayout)

		if a.Skip.Contains(week) {
			appLog.Info("skipping week known to have no classes", "week", key)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		table, err := src.GetWeek(ctx, periodCode, week)
		if err != nil {
			return nil, fmt.Errorf("schedule: fetch week %s: %w", key, err)
		}

		events, err := a.normalizeWeek(week, table, names)
		if err != nil {
			return nil, err
		}
		appLog.Debug("week aggregated", "week", key, "events", len(events))
		result = append(result, events...)
	}

	appLog.Info("schedule aggregated",
		"period", periodCode,
		"weeks", len(weeks),
		"events", len(result),
	)
	return result, nil
}

// normalizeWeek converts one week table into events anchored to the actual
// date of each weekday.
func (a *Aggregator) normalizeWeek(week time.Time, table model.WeekTable, names map[string]string) ([]model.CalendarEvent, error) {
	loc := a.Calendar.loc()
	var out []model.CalendarEvent

	for offset, wd := range a.Calendar.Weekdays() {
		entries, ok := table[wd.String()]
		if !ok {
			return nil, &MalformedWeekTableError{Week: week, Day: wd.String()}
		}
		day := a.Calendar.AddDays(week, offset)

		for _, e := range reverseEntries(entries) {
			name, ok := names[e.UnitCode]
			if !ok {
				return nil, &UnknownUnitError{UnitCode: e.UnitCode, Week: week}
			}
			out = append(out, model.CalendarEvent{
				UnitCode:    e.UnitCode,
				Description: describe(e.Activity, name),
				Location:    e.Location,
				Start:       e.Start.On(day, loc),
				End:         e.End.On(day, loc),
			})
		}
	}
	return out, nil
}

// reverseEntries returns a day's entries in reverse of the portal's
// display order, which lists a day's classes latest first.
func reverseEntries(entries []model.RawWeekEntry) []model.RawWeekEntry {
	out := make([]model.RawWeekEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func describe(activity, unitName string) string {
	if activity == "" {
		return unitName
	}
	return activity + " - " + unitName
}
