// Package browser defines the browser-automation collaborator the extraction
// engine drives, plus the render-generation bookkeeping that makes stale
// element references explicit.
//
// Selectors are XPath expressions. Handles are cheap values naming a selector
// and the render generation they were acquired in; any action that makes the
// page re-render (navigation, selection, click, typing) advances the
// generation and invalidates every handle acquired before it.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no element matched the selector.
	ErrNotFound = errors.New("browser: element not found")

	// ErrTimeout means a bounded wait expired before the element reached the
	// required state.
	ErrTimeout = errors.New("browser: wait timed out")

	// ErrStale means a handle was used after the page re-rendered the element
	// it refers to.
	ErrStale = errors.New("browser: stale element reference")
)

// IsAbsent reports whether err means "the element is structurally not there":
// either it could not be found or a bounded wait for it expired.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeout)
}

// Handle refers to an element located in one render generation.
type Handle struct {
	Selector string
	Gen      uint64
}

// Session is one live, single-tab automation session.
//
// Implementations are not safe for concurrent use; the engine drives a
// session strictly sequentially.
//
// Navigate, Select, Click, ForceClick and SendKeys advance the render
// generation. Using an older handle returns ErrStale.
type Session interface {
	// Navigate loads url in the session's tab.
	Navigate(ctx context.Context, url string) error

	// Locate returns a handle for the first element matching selector, or
	// ErrNotFound.
	Locate(ctx context.Context, selector string) (Handle, error)

	// WaitClickable waits up to timeout for selector to be visible and
	// enabled. Returns ErrTimeout when the wait expires.
	WaitClickable(ctx context.Context, selector string, timeout time.Duration) (Handle, error)

	// WaitVisible waits up to timeout for selector to be visible.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Handle, error)

	// Select picks the option at index in a <select> element and returns the
	// text of the selected option.
	Select(ctx context.Context, h Handle, index int) (string, error)

	// Options returns the option texts of a <select> element in order.
	Options(ctx context.Context, h Handle) ([]string, error)

	// Click performs a native click.
	Click(ctx context.Context, h Handle) error

	// ForceClick clicks through script, for elements covered by overlays.
	ForceClick(ctx context.Context, h Handle) error

	// SendKeys types text into an input element.
	SendKeys(ctx context.Context, h Handle, text string) error

	// OuterHTML returns the outer markup of the element.
	OuterHTML(ctx context.Context, h Handle) (string, error)

	// Close releases the session and its browser resources.
	Close() error
}
