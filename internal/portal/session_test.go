package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semcal/internal/config"
	"semcal/internal/model"
)

const (
	testUser     = "45123456"
	testPassword = "correct horse"
	sessionValue = "s3cr3t"
)

// fakePortal serves the fixtures under testdata the way the real portal
// lays out its pages.
type fakePortal struct {
	t *testing.T

	mu           sync.Mutex
	weekFailures int // 503s to answer before a week succeeds
	weekStatus   int // when set, always answer weeks with this status
	weekFixture  string
	weekQueries  []url.Values
	unitQueries  []url.Values
}

func (f *fakePortal) page(w http.ResponseWriter, name string) {
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(f.t, err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (f *fakePortal) authed(r *http.Request) bool {
	c, err := r.Cookie("session")
	return err == nil && c.Value == sessionValue
}

func (f *fakePortal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/estudent/login", func(w http.ResponseWriter, r *http.Request) {
		f.page(w, "login.html")
	})
	mux.HandleFunc("/estudent/login/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		if r.Method != http.MethodPost ||
			r.PostForm.Get("__VIEWSTATE") != "dDwtMTA4MTY" ||
			r.PostForm.Get("__EVENTVALIDATION") != "ev42" ||
			r.PostForm.Get("username") != testUser ||
			r.PostForm.Get("password") != testPassword {
			f.page(w, "login_failed.html")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: sessionValue, Path: "/"})
		f.page(w, "timetable.html")
	})
	mux.HandleFunc("/estudent/timetable", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			f.page(w, "login.html")
			return
		}
		f.mu.Lock()
		f.unitQueries = append(f.unitQueries, r.URL.Query())
		f.mu.Unlock()
		if r.URL.Query().Get("period") == "2024-S2" {
			f.page(w, "timetable_s2.html")
			return
		}
		f.page(w, "timetable.html")
	})
	mux.HandleFunc("/estudent/timetable/week", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			f.page(w, "login.html")
			return
		}
		f.mu.Lock()
		f.weekQueries = append(f.weekQueries, r.URL.Query())
		status := f.weekStatus
		if status == 0 && f.weekFailures > 0 {
			f.weekFailures--
			status = http.StatusServiceUnavailable
		}
		fixture := f.weekFixture
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		if fixture == "" {
			fixture = "week.html"
		}
		f.page(w, fixture)
	})
	return mux
}

func (f *fakePortal) set(fn func(f *fakePortal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePortal) weekCalls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.weekQueries...)
}

func (f *fakePortal) unitCalls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.unitQueries...)
}

func newTestSession(t *testing.T) (*Session, *fakePortal, *time.Location) {
	t.Helper()
	fake := &fakePortal{t: t}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)

	s, err := New(config.PortalConfig{
		BaseURL:        srv.URL + "/estudent/",
		TimeoutSeconds: 5,
		Retries:        2,
		UserAgent:      "semcal-test",
	}, loc)
	require.NoError(t, err)
	s.backoff = time.Millisecond
	return s, fake, loc
}

func login(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Login(context.Background(), testUser, testPassword))
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s, _, _ := newTestSession(t)
		login(t, s)
		assert.Equal(t, testUser, s.User())
	})

	t.Run("bad password", func(t *testing.T) {
		s, _, _ := newTestSession(t)
		err := s.Login(context.Background(), testUser, "wrong")
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.EqualError(t, err, "login failed: Invalid student ID or password.")
		assert.Empty(t, s.User())
	})

	t.Run("session is bound to one user", func(t *testing.T) {
		s, _, _ := newTestSession(t)
		login(t, s)
		assert.ErrorIs(t, s.Login(context.Background(), "46000000", "x"), ErrSessionInUse)
		assert.NoError(t, s.Login(context.Background(), testUser, testPassword))
	})
}

func TestNotLoggedIn(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.StudyPeriods(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestStudyPeriods(t *testing.T) {
	s, _, _ := newTestSession(t)
	login(t, s)

	periods, err := s.StudyPeriods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.StudyPeriod{
		{Code: "2024-S1", Name: "Session 1, 2024", Selected: true},
		{Code: "2024-S2", Name: "Session 2, 2024"},
	}, periods)
}

func TestEnrollmentLookups(t *testing.T) {
	s, fake, loc := newTestSession(t)
	login(t, s)
	ctx := context.Background()

	t.Run("selected period uses the default view", func(t *testing.T) {
		fake.set(func(f *fakePortal) { f.unitQueries = nil })
		current := model.StudyPeriod{Code: "2024-S1", Name: "Session 1, 2024", Selected: true}

		names, err := s.UnitNames(ctx, current)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"COMP1000": "Introduction to Computer Programming",
			"MATH1010": "Calculus I",
			"PICX1000": "Professional Practice (online)",
		}, names)

		bounds, err := s.ClassBounds(ctx, current)
		require.NoError(t, err)
		require.Len(t, bounds, 2, "units without classes have no bounds")
		assert.Equal(t, "COMP1000", bounds[0].UnitCode)
		assert.True(t, time.Date(2024, 2, 26, 9, 0, 0, 0, loc).Equal(bounds[0].First))
		assert.True(t, time.Date(2024, 6, 4, 15, 0, 0, 0, loc).Equal(bounds[1].Last))

		for _, q := range fake.unitCalls() {
			assert.Empty(t, q.Get("period"))
		}
	})

	t.Run("other period uses a filtered lookup", func(t *testing.T) {
		fake.set(func(f *fakePortal) { f.unitQueries = nil })
		other := model.StudyPeriod{Code: "2024-S2", Name: "Session 2, 2024"}

		names, err := s.UnitNames(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"COMP2010": "Algorithms and Data Structures"}, names)

		calls := fake.unitCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "2024-S2", calls[0].Get("period"))
		assert.Equal(t, "2024", calls[0].Get("year"))
	})

	t.Run("enrollment reads the units page once", func(t *testing.T) {
		fake.set(func(f *fakePortal) { f.unitQueries = nil })
		current := model.StudyPeriod{Code: "2024-S1", Name: "Session 1, 2024", Selected: true}

		names, bounds, err := s.Enrollment(ctx, current)
		require.NoError(t, err)
		assert.Len(t, names, 3)
		assert.Len(t, bounds, 2)
		assert.Len(t, fake.unitCalls(), 1)
	})

	t.Run("other period with malformed code", func(t *testing.T) {
		_, err := s.ClassBounds(ctx, model.StudyPeriod{Code: "S2", Name: "Session 2"})
		assert.Error(t, err)
	})
}

func TestGetWeek(t *testing.T) {
	s, fake, loc := newTestSession(t)
	login(t, s)

	table, err := s.GetWeek(context.Background(), "2024-S1", time.Date(2024, 2, 26, 0, 0, 0, 0, loc))
	require.NoError(t, err)

	calls := fake.weekCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "2024-S1", calls[0].Get("period"))
	assert.Equal(t, "2024-02-26", calls[0].Get("start"))

	assert.Len(t, table, 7)
	assert.Empty(t, table["Sunday"])
	assert.NotNil(t, table["Sunday"], "empty days are present, not missing")
	assert.Equal(t, []model.RawWeekEntry{
		{UnitCode: "COMP1000", Activity: "Practical", Location: "4 Research Park Dr 210", Start: model.TimeOfDay{Hour: 14}, End: model.TimeOfDay{Hour: 16}},
		{UnitCode: "COMP1000", Activity: "Lecture", Location: "14 Sir Christopher Ondaatje Ave T1", Start: model.TimeOfDay{Hour: 9}, End: model.TimeOfDay{Hour: 11}},
	}, table["Monday"], "display order is preserved")
	assert.Equal(t, "12 Wally's Walk 100", table["Tuesday"][0].Location)
}

func TestGetWeekBadTime(t *testing.T) {
	s, fake, loc := newTestSession(t)
	login(t, s)
	fake.set(func(f *fakePortal) { f.weekFixture = "week_bad_time.html" })

	_, err := s.GetWeek(context.Background(), "2024-S1", time.Date(2024, 2, 26, 0, 0, 0, 0, loc))
	assert.ErrorContains(t, err, "Monday")
}

func TestGetWeekRetries(t *testing.T) {
	week := func(loc *time.Location) time.Time { return time.Date(2024, 3, 4, 0, 0, 0, 0, loc) }

	t.Run("recovers from transient 5xx", func(t *testing.T) {
		s, fake, loc := newTestSession(t)
		login(t, s)
		fake.set(func(f *fakePortal) { f.weekFailures = 2 })

		_, err := s.GetWeek(context.Background(), "2024-S1", week(loc))
		require.NoError(t, err)
		assert.Len(t, fake.weekCalls(), 3)
	})

	t.Run("gives up after configured retries", func(t *testing.T) {
		s, fake, loc := newTestSession(t)
		login(t, s)
		fake.set(func(f *fakePortal) { f.weekStatus = http.StatusBadGateway })

		_, err := s.GetWeek(context.Background(), "2024-S1", week(loc))
		var status *StatusError
		require.ErrorAs(t, err, &status)
		assert.Equal(t, http.StatusBadGateway, status.Code)
		assert.Len(t, fake.weekCalls(), 3)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		s, fake, loc := newTestSession(t)
		login(t, s)
		fake.set(func(f *fakePortal) { f.weekStatus = http.StatusForbidden })

		_, err := s.GetWeek(context.Background(), "2024-S1", week(loc))
		var status *StatusError
		require.ErrorAs(t, err, &status)
		assert.Equal(t, http.StatusForbidden, status.Code)
		assert.Len(t, fake.weekCalls(), 1)
	})
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(config.PortalConfig{BaseURL: "portal.example.edu"}, time.UTC)
	assert.Error(t, err)
}
