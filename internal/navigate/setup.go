package navigate

import (
	"context"
	"fmt"
	"time"

	"sucupira/internal/browser"
	"sucupira/internal/site"
)

// DefaultSetupTimeout bounds each wait while the institution is chosen.
const DefaultSetupTimeout = 10 * time.Second

// InstitutionSetup brings a fresh tab to the state the Controller starts
// from: the query page loaded, cookie banner gone, the first institution
// matching Query selected and the program select on screen.
type InstitutionSetup struct {
	URL       string
	Query     string
	Selectors site.Selectors

	// Timeout bounds each wait. If <= 0, DefaultSetupTimeout.
	Timeout time.Duration

	// Settle is waited between the match list appearing and selecting from
	// it. If <= 0, DefaultSettle.
	Settle time.Duration

	Logger Logger
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Run performs the setup and returns the selected institution's label.
// Any failure is fatal: without an institution there is nothing to walk.
func (s *InstitutionSetup) Run(ctx context.Context, sess browser.Session) (string, error) {
	c := Controller{Logger: s.Logger, Settle: s.Settle, Sleep: s.Sleep}
	logf := c.logger()
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSetupTimeout
	}
	url := s.URL
	if url == "" {
		url = site.URL
	}

	if err := sess.Navigate(ctx, url); err != nil {
		return "", fmt.Errorf("setup: %w", err)
	}

	// The banner only shows on a first visit.
	if h, err := sess.Locate(ctx, s.Selectors.CookieButton); err == nil {
		if err := sess.Click(ctx, h); err != nil {
			return "", fmt.Errorf("setup: dismiss cookie banner: %w", err)
		}
		logf("stage=setup cookie_banner=dismissed")
	} else if browser.IsAbsent(err) {
		logf("stage=setup cookie_banner=absent")
	} else {
		return "", fmt.Errorf("setup: cookie banner: %w", err)
	}

	in, err := sess.Locate(ctx, s.Selectors.InstitutionInput)
	if err != nil {
		return "", fmt.Errorf("setup: institution input: %w", err)
	}
	if err := sess.SendKeys(ctx, in, s.Query); err != nil {
		return "", fmt.Errorf("setup: type institution query: %w", err)
	}

	if _, err := sess.WaitClickable(ctx, s.Selectors.InstitutionList, timeout); err != nil {
		return "", fmt.Errorf("setup: no institution matches %q: %w", s.Query, err)
	}
	if err := c.sleep(ctx, c.settle()); err != nil {
		return "", err
	}

	list, err := sess.Locate(ctx, s.Selectors.InstitutionList)
	if err != nil {
		return "", fmt.Errorf("setup: institution list: %w", err)
	}
	institution, err := sess.Select(ctx, list, 0)
	if err != nil {
		return "", fmt.Errorf("setup: select institution: %w", err)
	}

	// The program select is sometimes visible before it is enabled.
	if _, err := sess.WaitClickable(ctx, s.Selectors.ProgramSelect, timeout); err != nil {
		if !browser.IsAbsent(err) {
			return "", fmt.Errorf("setup: program select: %w", err)
		}
		if _, err := sess.WaitVisible(ctx, s.Selectors.ProgramSelect, timeout); err != nil {
			return "", fmt.Errorf("setup: program select: %w", err)
		}
	}

	logf("stage=setup ok institution=%q", institution)
	return institution, nil
}
