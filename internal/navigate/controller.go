// Package navigate drives the query page through institution → program →
// result page and feeds every rendered table into the dataset.
//
// Every element is re-acquired right before use: selecting a program or a
// page re-renders the form, so a handle from one step is never carried into
// the next. Reads that can race the re-render go through await.Policy.
package navigate

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"sucupira/internal/await"
	"sucupira/internal/browser"
	"sucupira/internal/dataset"
	"sucupira/internal/extracthtml"
	"sucupira/internal/metrics"
	"sucupira/internal/normalize"
	"sucupira/internal/site"
)

// DefaultSettle is the pause after switching to a page other than the first,
// while the table is replaced.
const DefaultSettle = time.Second

// Logger is the minimal logging interface used by the controller.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ProgramSelector is one option of the program select. Index 0 is the
// placeholder and never visited.
type ProgramSelector struct {
	Index int
	Label string

	// Err is set when the option could not be selected (the select never
	// became clickable or stayed stale). Label is empty then.
	Err error
}

// PageCursor is the position inside a program's result pages.
// Index is in [0, TotalPages).
type PageCursor struct {
	Index      int
	TotalPages int
}

// SetupValidationError means the program select does not offer a single
// program to visit. It is returned before any program is entered.
type SetupValidationError struct {
	// Options is the number of options found, placeholder included.
	Options int
	Err     error
}

func (e *SetupValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigate: program selector unavailable: %v", e.Err)
	}
	return fmt.Sprintf("navigate: program selector has %d option(s); need the placeholder and at least one program", e.Options)
}

func (e *SetupValidationError) Unwrap() error { return e.Err }

// Controller walks every program of the selected institution.
//
// It must run after InstitutionSetup has left the program select on screen.
type Controller struct {
	Session   browser.Session
	Selectors site.Selectors
	Policy    await.Policy

	// Settle is waited after selecting page > 0. If <= 0, DefaultSettle.
	Settle time.Duration

	Logger Logger

	// Sleep and Now are seams for tests. Nil means real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// ForEachProgram selects programs 1..N-1 in order and calls fn right after
// each selection, with the program's label as rendered.
//
// The option count is read once, before the first program. Fewer than two
// options fails with *SetupValidationError. A program whose option cannot be
// selected is still passed to fn, with ps.Err set, and the walk goes on. An
// error from fn stops the walk and is returned as is.
func (c *Controller) ForEachProgram(ctx context.Context, fn func(ctx context.Context, ps ProgramSelector) error) error {
	logf := c.logger()

	count := await.Await(ctx, c.policy("program_select"), "stage=programs read=program_select", func(ctx context.Context, timeout time.Duration) (int, error) {
		h, err := c.Session.WaitClickable(ctx, c.Selectors.ProgramSelect, timeout)
		if err != nil {
			return 0, err
		}
		opts, err := c.Session.Options(ctx, h)
		return len(opts), err
	})
	if count.Outcome != await.Ready {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &SetupValidationError{Err: count.Err}
	}
	n := count.Value
	if n < 2 {
		return &SetupValidationError{Options: n}
	}
	logf("stage=programs count=%d", n-1)

	for i := 1; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sel := await.Await(ctx, c.policy("program_select"), fmt.Sprintf("program=%d read=program_select", i), func(ctx context.Context, timeout time.Duration) (string, error) {
			h, err := c.Session.WaitClickable(ctx, c.Selectors.ProgramSelect, timeout)
			if err != nil {
				return "", err
			}
			return c.Session.Select(ctx, h, i)
		})
		ps := ProgramSelector{Index: i, Label: sel.Value}
		if sel.Outcome != await.Ready {
			if err := ctx.Err(); err != nil {
				return err
			}
			ps.Label = ""
			ps.Err = fmt.Errorf("navigate: program %d: select: %w", i, sel.Err)
			logf("program=%d status=failed read=program_select attempts=%d err=%v", i, sel.Attempts, sel.Err)
		}

		if err := fn(ctx, ps); err != nil {
			return err
		}
	}
	return nil
}

// Run visits every program and page, appending normalized records to ds and
// recording one ProgramStat per program.
//
// Empty and failed branches are counted and skipped. Run returns an error only
// for conditions that invalidate the whole run: setup validation, a label or
// table schema the normalizer rejects, or ctx ending.
func (c *Controller) Run(ctx context.Context, ds *dataset.Session) error {
	logf := c.logger()
	start := c.now()

	err := c.ForEachProgram(ctx, func(ctx context.Context, ps ProgramSelector) error {
		if ps.Err != nil {
			ds.AddProgram(dataset.ProgramStat{Index: ps.Index, Status: dataset.ProgramFailed})
			metrics.RecordProgram(string(dataset.ProgramFailed))
			return nil
		}
		st, err := c.visitProgram(ctx, ps, ds)
		if err != nil {
			return err
		}
		ds.AddProgram(st)
		metrics.RecordProgram(string(st.Status))
		return nil
	})
	if err != nil {
		return err
	}

	k := ds.Counters
	logf("stage=run ok duration=%s programs=%d empty=%d failed=%d pages=%d records=%d",
		c.now().Sub(start).Truncate(time.Millisecond), k.ProgramsVisited, k.ProgramsEmpty, k.ProgramsFailed, k.PagesVisited, ds.Records.Len())
	return nil
}

func (c *Controller) visitProgram(ctx context.Context, ps ProgramSelector, ds *dataset.Session) (dataset.ProgramStat, error) {
	logf := c.logger()
	st := dataset.ProgramStat{Index: ps.Index, Label: ps.Label}
	tag := fmt.Sprintf("program=%d", ps.Index)

	search, err := c.Session.Locate(ctx, c.Selectors.SearchButton)
	if err == nil {
		err = c.Session.ForceClick(ctx, search)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		logf("%s status=failed stage=search err=%v", tag, err)
		st.Status = dataset.ProgramFailed
		return st, nil
	}

	pages := await.Await(ctx, c.policy("page_select"), tag+" read=page_select", func(ctx context.Context, timeout time.Duration) (int, error) {
		h, err := c.Session.WaitClickable(ctx, c.Selectors.PageSelect, timeout)
		if err != nil {
			return 0, err
		}
		opts, err := c.Session.Options(ctx, h)
		return len(opts), err
	})
	switch {
	case pages.Outcome == await.Fatal:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		logf("%s status=failed read=page_select attempts=%d err=%v", tag, pages.Attempts, pages.Err)
		st.Status = dataset.ProgramFailed
		return st, nil
	case pages.Outcome == await.Empty, pages.Value == 0:
		logf("%s status=empty rows=0", tag)
		st.Status = dataset.ProgramEmpty
		return st, nil
	}

	for i := 0; i < pages.Value; i++ {
		recs, outcome, err := c.visitPage(ctx, ps, PageCursor{Index: i, TotalPages: pages.Value})
		if err != nil {
			return st, err
		}
		st.Pages++
		switch outcome {
		case await.Empty:
			st.PagesEmpty++
		case await.Fatal:
			st.PagesFailed++
		}
		ds.Records.Append(recs...)
		st.Records += len(recs)
	}

	st.Status = dataset.ProgramOK
	logf("%s status=ok pages=%d rows=%d label=%q", tag, st.Pages, st.Records, ps.Label)
	return st, nil
}

// visitPage selects one page and reads its table. A non-nil error is fatal for
// the run; Empty and Fatal outcomes only skip the page.
func (c *Controller) visitPage(ctx context.Context, ps ProgramSelector, cur PageCursor) ([]dataset.Record, await.Outcome, error) {
	start := c.now()
	tag := fmt.Sprintf("program=%d page=%d/%d", ps.Index, cur.Index+1, cur.TotalPages)

	sel := await.Await(ctx, c.policy("page_select"), tag+" read=page_select", func(ctx context.Context, timeout time.Duration) (string, error) {
		h, err := c.Session.WaitClickable(ctx, c.Selectors.PageSelect, timeout)
		if err != nil {
			return "", err
		}
		return c.Session.Select(ctx, h, cur.Index)
	})
	if sel.Outcome != await.Ready {
		return c.skipPage(ctx, tag, start, sel.Outcome, sel.Err)
	}

	if cur.Index > 0 {
		if err := c.sleep(ctx, c.settle()); err != nil {
			return nil, await.Fatal, err
		}
	}

	tbl := await.Await(ctx, c.policy("table"), tag+" read=table", func(ctx context.Context, timeout time.Duration) (string, error) {
		h, err := c.Session.WaitVisible(ctx, c.Selectors.ResultTable, timeout)
		if err != nil {
			return "", err
		}
		return c.Session.OuterHTML(ctx, h)
	})
	if tbl.Outcome != await.Ready {
		return c.skipPage(ctx, tag, start, tbl.Outcome, tbl.Err)
	}

	rows, err := extracthtml.ExtractTable(tbl.Value, ps.Label)
	if err != nil {
		return c.skipPage(ctx, tag, start, await.Fatal, err)
	}
	recs, err := normalize.NormalizeRows(rows, ps.Label)
	if err != nil {
		return nil, await.Fatal, fmt.Errorf("navigate: program %d page %d: %w", ps.Index, cur.Index+1, err)
	}

	metrics.RecordPage("ok", c.now().Sub(start))
	metrics.RecordRecords(len(recs))
	c.logger()("%s status=ok rows=%d", tag, len(recs))
	return recs, await.Ready, nil
}

func (c *Controller) skipPage(ctx context.Context, tag string, start time.Time, outcome await.Outcome, cause error) ([]dataset.Record, await.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, outcome, err
	}
	status := "empty"
	if outcome == await.Fatal {
		status = "failed"
	}
	metrics.RecordPage(status, c.now().Sub(start))
	c.logger()("%s status=%s rows=0 err=%v", tag, status, cause)
	return nil, outcome, nil
}

// policy returns the controller policy with stale retries counted under read.
func (c *Controller) policy(read string) await.Policy {
	p := c.Policy
	if p.Logger == nil && c.Logger != nil {
		p.Logger = c.Logger
	}
	next := p.OnStale
	p.OnStale = func(what string) {
		metrics.RecordStaleRetry(read)
		if next != nil {
			next(what)
		}
	}
	return p
}

func (c *Controller) settle() time.Duration {
	if c.Settle <= 0 {
		return DefaultSettle
	}
	return c.Settle
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) logger() func(format string, v ...any) {
	if c.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return c.Logger.Printf
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
