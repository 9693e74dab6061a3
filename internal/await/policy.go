// Package await classifies UI reads into Ready, Empty or Fatal.
//
// Every read of a freshly re-rendered page can race the render: the element
// exists but the reference obtained for it is already stale. Those reads are
// retried immediately. A read that cannot find its element inside the bounded
// wait means the branch genuinely has no data. Everything else is fatal for the
// branch being read.
package await

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/avast/retry-go/v4"

	"sucupira/internal/browser"
)

// Outcome is the classification of a read.
type Outcome int

const (
	// Ready means the read succeeded and Result.Value holds its content.
	Ready Outcome = iota
	// Empty means the element was not found inside the bounded wait.
	Empty
	// Fatal means the read could not complete: the stale-retry cap was hit,
	// the context ended, or the driver failed.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ErrStaleExhausted is reported in Result.Err when every attempt came back stale.
var ErrStaleExhausted = errors.New("await: stale retries exhausted")

const (
	// DefaultTimeout is the bounded wait granted to each attempt.
	DefaultTimeout = 3 * time.Second

	// DefaultMaxStaleRetries caps immediate retries after stale reads.
	DefaultMaxStaleRetries = 20
)

// Logger is the minimal logging interface used by the policy.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Probe performs one read attempt under the given bounded wait.
//
// Probes report absence with browser.ErrNotFound or browser.ErrTimeout and
// render races with browser.ErrStale. Any other error is treated as fatal.
type Probe[T any] func(ctx context.Context, timeout time.Duration) (T, error)

// Result is the outcome of Await.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	Attempts int
	Err      error
}

// Policy is the bounded wait / stale retry policy.
type Policy struct {
	// Timeout is granted to every attempt. Stale retries do not consume it.
	// If <= 0, DefaultTimeout is used.
	Timeout time.Duration

	// MaxStaleRetries caps retries after stale reads. If <= 0,
	// DefaultMaxStaleRetries is used.
	MaxStaleRetries int

	// Logger receives one line per stale retry. Nil discards.
	Logger Logger

	// OnStale, if set, is called once per stale attempt that is retried.
	OnStale func(what string)
}

// Await runs probe until it is Ready, Empty, or Fatal.
//
// Semantics:
//   - success on attempt k+1 after k stale reads => Ready, Attempts=k+1
//   - ErrNotFound / ErrTimeout => Empty immediately, no retry
//   - stale on every attempt up to the cap => Fatal with ErrStaleExhausted
//   - any other error => Fatal immediately
//
// what names the read in log lines (e.g. "program=3 page_select").
func Await[T any](ctx context.Context, p Policy, what string, probe Probe[T]) Result[T] {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxStale := p.MaxStaleRetries
	if maxStale <= 0 {
		maxStale = DefaultMaxStaleRetries
	}
	logf := p.logger()

	var (
		res      Result[T]
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			v, err := probe(ctx, timeout)
			if err != nil {
				if errors.Is(err, browser.ErrStale) && attempts <= maxStale {
					logf("%s status=stale attempt=%d", what, attempts)
					if p.OnStale != nil {
						p.OnStale(what)
					}
				}
				return err
			}
			res.Value = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxStale)+1),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, browser.ErrStale)
		}),
	)
	res.Attempts = attempts

	switch {
	case err == nil:
		res.Outcome = Ready
	case browser.IsAbsent(err):
		res.Outcome = Empty
		res.Err = err
	case errors.Is(err, browser.ErrStale):
		res.Outcome = Fatal
		res.Err = fmt.Errorf("%w after %d attempts: %w", ErrStaleExhausted, attempts, err)
	default:
		res.Outcome = Fatal
		res.Err = err
	}
	return res
}

func (p Policy) logger() func(format string, v ...any) {
	if p.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return p.Logger.Printf
}
