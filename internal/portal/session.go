package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"semcal/internal/config"
	appLog "semcal/internal/log"
	"semcal/internal/model"
)

const (
	loginPath     = "/login"
	timetablePath = "/timetable"
	weekPath      = "/timetable/week"

	dateLayout = "2006-01-02"
)

var (
	// ErrLoginFailed means the portal rejected the credentials.
	ErrLoginFailed = errors.New("login failed")

	// ErrNotLoggedIn means the portal answered with its login page.
	ErrNotLoggedIn = errors.New("portal: session is not logged in")

	// ErrSessionInUse means Login was called with a different user on a
	// session that already belongs to someone.
	ErrSessionInUse = errors.New("portal: session already logged in as another user")
)

// StatusError is a non-2xx response the session will not retry.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal: GET %s: HTTP %d", e.URL, e.Code)
}

// LoginError wraps ErrLoginFailed with the portal's own message.
type LoginError struct {
	Message string
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return ErrLoginFailed.Error()
	}
	return ErrLoginFailed.Error() + ": " + e.Message
}

func (e *LoginError) Unwrap() error { return ErrLoginFailed }

// Session is an authenticated portal session bound to a single user.
// Create one per run. It is not safe for concurrent use.
type Session struct {
	base      *url.URL
	client    *http.Client
	loc       *time.Location
	userAgent string
	timeout   time.Duration
	retries   int
	backoff   time.Duration

	user string
}

// New creates a logged-out session for the portal at cfg.BaseURL. Times
// scraped from the portal are interpreted in loc.
func New(cfg config.PortalConfig, loc *time.Location) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal: invalid base URL %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Session{
		base:      base,
		client:    &http.Client{Jar: jar, Timeout: timeout},
		loc:       loc,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		retries:   cfg.Retries,
		backoff:   time.Second,
	}, nil
}

// User returns the logged-in username, or "" before Login.
func (s *Session) User() string {
	return s.user
}

func (s *Session) claim(username string) error {
	if s.user != "" && s.user != username {
		return ErrSessionInUse
	}
	return nil
}

// Login posts the portal's login form with the given credentials.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if err := s.claim(username); err != nil {
		return err
	}

	loginURL := s.resolve(loginPath, nil)
	page, err := s.getDocument(ctx, loginURL, false)
	if err != nil {
		return fmt.Errorf("portal: load login page: %w", err)
	}

	form, err := parseLoginForm(page, loginURL)
	if err != nil {
		return err
	}
	form.Fields.Set(usernameField, username)
	form.Fields.Set(passwordField, password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.Action.String(), strings.NewReader(form.Fields.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("portal: submit login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{URL: form.Action.String(), Code: resp.StatusCode}
	}

	landing, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("portal: read login response: %w", err)
	}
	if !isTimetablePage(landing) {
		return &LoginError{Message: loginErrorMessage(landing)}
	}

	s.user = username
	appLog.Info("portal login succeeded", "portal", s.base.Host)
	return nil
}

// StudyPeriods lists the periods offered on the timetable page.
func (s *Session) StudyPeriods(ctx context.Context) ([]model.StudyPeriod, error) {
	doc, err := s.getDocument(ctx, s.resolve(timetablePath, nil), true)
	if err != nil {
		return nil, err
	}
	return parseStudyPeriods(doc)
}

// Enrollment reads the units table once and returns both the unit names
// and the class bounds of every unit that has classes.
func (s *Session) Enrollment(ctx context.Context, period model.StudyPeriod) (map[string]string, []model.ClassBound, error) {
	units, err := s.units(ctx, period)
	if err != nil {
		return nil, nil, err
	}
	return unitNames(units), classBounds(units), nil
}

// UnitNames maps unit code to unit name for the given period.
func (s *Session) UnitNames(ctx context.Context, period model.StudyPeriod) (map[string]string, error) {
	units, err := s.units(ctx, period)
	if err != nil {
		return nil, err
	}
	return unitNames(units), nil
}

// ClassBounds returns the first and last class of every enrolled unit
// that has classes.
func (s *Session) ClassBounds(ctx context.Context, period model.StudyPeriod) ([]model.ClassBound, error) {
	units, err := s.units(ctx, period)
	if err != nil {
		return nil, err
	}
	return classBounds(units), nil
}

func unitNames(units []unitRow) map[string]string {
	names := make(map[string]string, len(units))
	for _, u := range units {
		names[u.Code] = u.Name
	}
	return names
}

func classBounds(units []unitRow) []model.ClassBound {
	bounds := make([]model.ClassBound, 0, len(units))
	for _, u := range units {
		if u.First.IsZero() || u.Last.IsZero() {
			continue
		}
		bounds = append(bounds, model.ClassBound{UnitCode: u.Code, First: u.First, Last: u.Last})
	}
	return bounds
}

// GetWeek fetches the weekly view starting at weekStart.
func (s *Session) GetWeek(ctx context.Context, periodCode string, weekStart time.Time) (model.WeekTable, error) {
	q := url.Values{}
	q.Set("period", periodCode)
	q.Set("start", weekStart.In(s.loc).Format(dateLayout))

	doc, err := s.getDocument(ctx, s.resolve(weekPath, q), true)
	if err != nil {
		return nil, err
	}
	table, err := parseWeek(doc)
	if err != nil {
		return nil, fmt.Errorf("portal: week of %s: %w", q.Get("start"), err)
	}
	appLog.Debug("portal week fetched", "period", periodCode, "week", q.Get("start"), "days", len(table))
	return table, nil
}

// units fetches the enrolled-units table. The portal's default view only
// covers its currently selected period, so any other period is fetched
// through a filtered lookup.
func (s *Session) units(ctx context.Context, period model.StudyPeriod) ([]unitRow, error) {
	var q url.Values
	if !period.Selected {
		year, err := period.Year()
		if err != nil {
			return nil, err
		}
		q = url.Values{}
		q.Set("period", period.Code)
		q.Set("year", strconv.Itoa(year))
	}

	doc, err := s.getDocument(ctx, s.resolve(timetablePath, q), true)
	if err != nil {
		return nil, err
	}
	return parseUnits(doc, s.loc)
}

func (s *Session) resolve(path string, q url.Values) *url.URL {
	u := *s.base
	u.Path = strings.TrimRight(s.base.Path, "/") + path
	u.RawQuery = ""
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return &u
}

func (s *Session) setHeaders(req *http.Request) {
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
}

// getDocument GETs u and parses it as HTML. GETs are idempotent, so
// transport errors and 5xx answers are retried with linear backoff.
func (s *Session) getDocument(ctx context.Context, u *url.URL, needLogin bool) (*goquery.Document, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			appLog.Warn("portal request retry", "url", u.Path, "attempt", attempt, "err", lastErr.Error())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}

		doc, retry, err := s.fetch(ctx, u)
		if err == nil {
			if needLogin && isLoginPage(doc) {
				return nil, ErrNotLoggedIn
			}
			return doc, nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("portal: giving up after %d attempts: %w", s.retries+1, lastErr)
}

func (s *Session) fetch(ctx context.Context, u *url.URL) (doc *goquery.Document, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("portal: GET %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, &StatusError{URL: u.Path, Code: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, false, &StatusError{URL: u.Path, Code: resp.StatusCode}
	}

	doc, err = goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("portal: read %s: %w", u.Path, err)
	}
	return doc, false, nil
}
