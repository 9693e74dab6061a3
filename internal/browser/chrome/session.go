// Package chrome implements browser.Session on top of a real Chrome tab
// driven through the DevTools protocol.
//
// Elements are never cached: a handle is an XPath plus the render generation
// it was located in, and every action re-queries the selector. Using a handle
// from an older generation fails with browser.ErrStale before any protocol
// traffic happens.
package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"sucupira/internal/browser"
)

// Engines accepted by New.
const (
	EngineChrome = "chrome"
	EngineRemote = "remote"
)

// ErrUnsupportedEngine is returned by New for engines it cannot drive.
var ErrUnsupportedEngine = errors.New("chrome: unsupported browser engine")

// DefaultActionTimeout bounds actions on an already located element.
const DefaultActionTimeout = 5 * time.Second

// Logger is the minimal logging interface used by the session.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configures New.
type Options struct {
	// Engine is EngineChrome (launch a local Chrome) or EngineRemote (attach to
	// a running DevTools endpoint at RemoteURL).
	Engine   string
	Headless bool

	// ExecPath overrides the Chrome binary lookup. Optional.
	ExecPath string

	// RemoteURL is the DevTools websocket or http endpoint for EngineRemote.
	RemoteURL string

	// ActionTimeout bounds clicks, reads and typing on located elements.
	// If <= 0, DefaultActionTimeout is used.
	ActionTimeout time.Duration

	Logger Logger
}

// Session is a single Chrome tab.
type Session struct {
	tab           context.Context
	cancel        func()
	gens          browser.Generations
	actionTimeout time.Duration
	logf          func(format string, v ...any)
}

var _ browser.Session = (*Session)(nil)

// New starts (or attaches to) a browser and opens one tab.
//
// The browser lives until Close is called or parent is cancelled.
func New(parent context.Context, opt Options) (*Session, error) {
	logf := log.New(io.Discard, "", 0).Printf
	if opt.Logger != nil {
		logf = opt.Logger.Printf
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	switch opt.Engine {
	case EngineChrome, "":
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocatorOptions(opt)...)
	case EngineRemote:
		if opt.RemoteURL == "" {
			return nil, fmt.Errorf("chrome: remote engine requires a remote url")
		}
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opt.RemoteURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, opt.Engine)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logf))

	// The first Run starts the browser.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome: start %s: %w", engineName(opt.Engine), err)
	}
	logf("stage=browser engine=%s headless=%t ok", engineName(opt.Engine), opt.Headless)

	at := opt.ActionTimeout
	if at <= 0 {
		at = DefaultActionTimeout
	}
	return &Session{
		tab: tab,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		actionTimeout: at,
		logf:          logf,
	}, nil
}

func engineName(e string) string {
	if e == "" {
		return EngineChrome
	}
	return e
}

func allocatorOptions(opt Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", opt.Headless),
		chromedp.WindowSize(1366, 900),
	)
	if opt.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(opt.ExecPath))
	}
	return opts
}

// Close shuts the tab and the browser it started.
func (s *Session) Close() error {
	if s.cancel == nil {
		return nil
	}
	err := chromedp.Cancel(s.tab)
	s.cancel()
	s.cancel = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("chrome: close: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	defer s.gens.Advance()
	if err := s.run(ctx, 60*time.Second, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Locate(ctx context.Context, selector string) (browser.Handle, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, s.actionTimeout, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return browser.Handle{}, classify("locate", selector, err, browser.ErrNotFound)
	}
	if len(nodes) == 0 {
		return browser.Handle{}, fmt.Errorf("locate %s: %w", selector, browser.ErrNotFound)
	}
	return s.gens.Acquire(selector), nil
}

func (s *Session) WaitClickable(ctx context.Context, selector string, timeout time.Duration) (browser.Handle, error) {
	err := s.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.WaitEnabled(selector, chromedp.BySearch),
	)
	if err != nil {
		return browser.Handle{}, classify("wait clickable", selector, err, browser.ErrTimeout)
	}
	return s.gens.Acquire(selector), nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (browser.Handle, error) {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.BySearch)); err != nil {
		return browser.Handle{}, classify("wait visible", selector, err, browser.ErrTimeout)
	}
	return s.gens.Acquire(selector), nil
}

// selectResult is what selectScript evaluates to.
type selectResult struct {
	Found bool   `json:"found"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

func (s *Session) Select(ctx context.Context, h browser.Handle, index int) (string, error) {
	if err := s.gens.Check(h); err != nil {
		return "", err
	}
	var res selectResult
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(selectScript(h.Selector, index), &res)); err != nil {
		return "", classify("select", h.Selector, err, browser.ErrStale)
	}
	// The element existed when the handle was taken; if it is gone now it was
	// replaced by a re-render.
	if !res.Found {
		return "", fmt.Errorf("select %s: %w", h.Selector, browser.ErrStale)
	}
	if index < 0 || index >= res.Count {
		return "", fmt.Errorf("select %s: index %d out of range (%d options): %w", h.Selector, index, res.Count, browser.ErrNotFound)
	}
	s.gens.Advance()
	return res.Text, nil
}

type optionsResult struct {
	Found bool     `json:"found"`
	Texts []string `json:"texts"`
}

func (s *Session) Options(ctx context.Context, h browser.Handle) ([]string, error) {
	if err := s.gens.Check(h); err != nil {
		return nil, err
	}
	var res optionsResult
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(optionsScript(h.Selector), &res)); err != nil {
		return nil, classify("options", h.Selector, err, browser.ErrStale)
	}
	if !res.Found {
		return nil, fmt.Errorf("options %s: %w", h.Selector, browser.ErrStale)
	}
	return res.Texts, nil
}

func (s *Session) Click(ctx context.Context, h browser.Handle) error {
	if err := s.gens.Check(h); err != nil {
		return err
	}
	if err := s.run(ctx, s.actionTimeout, chromedp.Click(h.Selector, chromedp.BySearch)); err != nil {
		return classify("click", h.Selector, err, browser.ErrStale)
	}
	s.gens.Advance()
	return nil
}

func (s *Session) ForceClick(ctx context.Context, h browser.Handle) error {
	if err := s.gens.Check(h); err != nil {
		return err
	}
	var found bool
	if err := s.run(ctx, s.actionTimeout, chromedp.Evaluate(clickScript(h.Selector), &found)); err != nil {
		return classify("force click", h.Selector, err, browser.ErrStale)
	}
	if !found {
		return fmt.Errorf("force click %s: %w", h.Selector, browser.ErrStale)
	}
	s.gens.Advance()
	return nil
}

func (s *Session) SendKeys(ctx context.Context, h browser.Handle, text string) error {
	if err := s.gens.Check(h); err != nil {
		return err
	}
	if err := s.run(ctx, s.actionTimeout, chromedp.SendKeys(h.Selector, text, chromedp.BySearch)); err != nil {
		return classify("send keys", h.Selector, err, browser.ErrStale)
	}
	s.gens.Advance()
	return nil
}

func (s *Session) OuterHTML(ctx context.Context, h browser.Handle) (string, error) {
	if err := s.gens.Check(h); err != nil {
		return "", err
	}
	var html string
	if err := s.run(ctx, s.actionTimeout, chromedp.OuterHTML(h.Selector, &html, chromedp.BySearch)); err != nil {
		return "", classify("outer html", h.Selector, err, browser.ErrStale)
	}
	return html, nil
}

// classify maps an expired action deadline to onDeadline and leaves every
// other error (caller cancellation included) as is.
//
// chromedp query actions poll until the selector matches, so for a wait the
// deadline means "never appeared" and for an action on a located element it
// means the element went away under us.
func classify(op, selector string, err, onDeadline error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, selector, onDeadline)
	}
	return fmt.Errorf("%s %s: %w", op, selector, err)
}

// lookup is a JS expression evaluating to the first node matching xpath.
func lookup(xpath string) string {
	q, _ := json.Marshal(xpath)
	return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", q)
}

// selectScript selects option index and fires the change event the page's
// AJAX handlers listen to.
func selectScript(xpath string, index int) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el || !el.options) return {found: false, count: 0, text: ""};
  const n = el.options.length;
  if (%d < 0 || %d >= n) return {found: true, count: n, text: ""};
  el.selectedIndex = %d;
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return {found: true, count: n, text: el.options[%d].text.trim()};
})()`, lookup(xpath), index, index, index, index)
}

func optionsScript(xpath string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el || !el.options) return {found: false, texts: []};
  return {found: true, texts: Array.from(el.options, o => o.text.trim())};
})()`, lookup(xpath))
}

func clickScript(xpath string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return false;
  el.click();
  return true;
})()`, lookup(xpath))
}
