package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "semcal/internal/log"
)

// LoginWithBrowser logs in through headless Chromium and copies the
// resulting cookies into the session, for portals whose login page needs
// JavaScript. Later requests still go through the plain HTTP client.
//
// Outcome detection:
//   - success: the landing page renders select#studyPeriod
//   - failure: the login form is shown again with .login-error
func (s *Session) LoginWithBrowser(parentCtx context.Context, username, password string) error {
	if err := s.claim(username); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(s.userAgent))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, opts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Chromium start-up plus one form round-trip.
	ctx, timeoutCancel := context.WithTimeout(ctx, 2*s.timeout)
	defer timeoutCancel()

	const settled = `document.querySelector("select#studyPeriod") !== null || document.querySelector(".login-error") !== null`

	var (
		ready    bool
		loggedIn bool
		message  string
		cookies  []*network.Cookie
	)
	tasks := chromedp.Tasks{
		chromedp.Navigate(s.resolve(loginPath, nil).String()),
		chromedp.WaitVisible(`form#login`, chromedp.ByQuery),
		chromedp.SendKeys(`form#login input[name="`+usernameField+`"]`, username, chromedp.ByQuery),
		chromedp.SendKeys(`form#login input[name="`+passwordField+`"]`, password, chromedp.ByQuery),
		chromedp.Submit(`form#login`, chromedp.ByQuery),
		chromedp.Poll(settled, &ready, chromedp.WithPollingInterval(200*time.Millisecond)),
		chromedp.Evaluate(`document.querySelector("select#studyPeriod") !== null`, &loggedIn),
		chromedp.Evaluate(`(document.querySelector(".login-error") || {}).textContent || ""`, &message),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("portal: browser login: %w", err)
	}
	if !loggedIn {
		return &LoginError{Message: squash(message)}
	}

	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		jarCookies = append(jarCookies, hc)
	}
	s.client.Jar.SetCookies(s.base, jarCookies)

	s.user = username
	appLog.Info("portal browser login succeeded", "portal", s.base.Host, "cookies", len(jarCookies))
	return nil
}
