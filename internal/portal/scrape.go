package portal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"semcal/internal/model"
)

// Page structure the scraper relies on:
//
//	login:     form#login with hidden inputs, input[name=username], input[name=password]
//	           a failed attempt re-renders it with .login-error
//	timetable: select#studyPeriod > option[value=<code>][selected]
//	           table#units tbody tr > td.code, td.name, td.first, td.last
//	week:      div.day[data-day=<Weekday>] > div.class >
//	           .unit, .activity, .location, .start, .end
const (
	usernameField = "username"
	passwordField = "password"

	boundLayout = "2006-01-02 15:04"
)

type loginForm struct {
	Action *url.URL
	Fields url.Values
}

type unitRow struct {
	Code  string
	Name  string
	First time.Time
	Last  time.Time
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("form#login").Length() > 0
}

func isTimetablePage(doc *goquery.Document) bool {
	return doc.Find("select#studyPeriod").Length() > 0
}

func loginErrorMessage(doc *goquery.Document) string {
	return squash(doc.Find(".login-error").First().Text())
}

func parseLoginForm(doc *goquery.Document, pageURL *url.URL) (loginForm, error) {
	form := doc.Find("form#login").First()
	if form.Length() == 0 {
		return loginForm{}, errors.New("portal: login page has no login form")
	}

	action := pageURL
	if a, ok := form.Attr("action"); ok && strings.TrimSpace(a) != "" {
		ref, err := url.Parse(strings.TrimSpace(a))
		if err != nil {
			return loginForm{}, fmt.Errorf("portal: login form action: %w", err)
		}
		action = pageURL.ResolveReference(ref)
	}

	fields := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		fields.Set(name, in.AttrOr("value", ""))
	})
	return loginForm{Action: action, Fields: fields}, nil
}

func parseStudyPeriods(doc *goquery.Document) ([]model.StudyPeriod, error) {
	sel := doc.Find("select#studyPeriod")
	if sel.Length() == 0 {
		return nil, errors.New("portal: timetable page has no study period selector")
	}

	var periods []model.StudyPeriod
	sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
		code := strings.TrimSpace(opt.AttrOr("value", ""))
		if code == "" {
			return
		}
		_, selected := opt.Attr("selected")
		periods = append(periods, model.StudyPeriod{
			Code:     code,
			Name:     squash(opt.Text()),
			Selected: selected,
		})
	})
	return periods, nil
}

func parseUnits(doc *goquery.Document, loc *time.Location) ([]unitRow, error) {
	table := doc.Find("table#units")
	if table.Length() == 0 {
		return nil, errors.New("portal: timetable page has no units table")
	}

	var (
		rows     []unitRow
		parseErr error
	)
	table.Find("tbody tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		row := unitRow{
			Code: squash(tr.Find("td.code").Text()),
			Name: squash(tr.Find("td.name").Text()),
		}
		if row.Code == "" {
			return true
		}
		var err error
		if row.First, err = parseBound(tr.Find("td.first").Text(), loc); err != nil {
			parseErr = fmt.Errorf("portal: unit %s first class: %w", row.Code, err)
			return false
		}
		if row.Last, err = parseBound(tr.Find("td.last").Text(), loc); err != nil {
			parseErr = fmt.Errorf("portal: unit %s last class: %w", row.Code, err)
			return false
		}
		rows = append(rows, row)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return rows, nil
}

// parseBound parses a unit's first/last class cell. An empty cell means
// the unit has no scheduled classes.
func parseBound(s string, loc *time.Location) (time.Time, error) {
	s = squash(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(boundLayout, s, loc)
}

// parseWeek reads the weekly view. Only days present in the page are
// returned; a missing day is left for the caller to reject.
func parseWeek(doc *goquery.Document) (model.WeekTable, error) {
	days := doc.Find("div.day[data-day]")
	if days.Length() == 0 {
		return nil, errors.New("page has no day columns")
	}

	table := model.WeekTable{}
	var parseErr error
	days.EachWithBreak(func(_ int, day *goquery.Selection) bool {
		name := strings.TrimSpace(day.AttrOr("data-day", ""))
		entries := make([]model.RawWeekEntry, 0)

		day.Find("div.class").EachWithBreak(func(_ int, cls *goquery.Selection) bool {
			e, err := parseEntry(cls)
			if err != nil {
				parseErr = fmt.Errorf("%s: %w", name, err)
				return false
			}
			entries = append(entries, e)
			return true
		})
		if parseErr != nil {
			return false
		}
		table[name] = entries
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return table, nil
}

func parseEntry(cls *goquery.Selection) (model.RawWeekEntry, error) {
	e := model.RawWeekEntry{
		UnitCode: squash(cls.Find(".unit").Text()),
		Activity: squash(cls.Find(".activity").Text()),
		Location: squash(cls.Find(".location").Text()),
	}
	if e.UnitCode == "" {
		return e, errors.New("class without unit code")
	}
	var err error
	if e.Start, err = model.ParseTimeOfDay(cls.Find(".start").Text()); err != nil {
		return e, err
	}
	if e.End, err = model.ParseTimeOfDay(cls.Find(".end").Text()); err != nil {
		return e, err
	}
	return e, nil
}

// squash trims s and collapses inner whitespace runs to one space.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
