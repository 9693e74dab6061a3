// Package scripted implements browser.Session over an in-memory model of the
// SUCUPIRA query page.
//
// It renders the same controls the live page has (institution listbox,
// program select, search button, page select, result table) and lets callers
// inject the failure modes seen in production: branches without results and
// reads that race a re-render and come back stale.
package scripted

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"sucupira/internal/browser"
	"sucupira/internal/site"
)

// Placeholder is the text of option 0 of the program select.
const Placeholder = "Selecione"

// Page is one result page of a program.
type Page struct {
	// Rows are (docente, categoria) pairs.
	Rows [][2]string

	// Stale is how many table reads fail with browser.ErrStale before the
	// table can be read.
	Stale int

	// AlwaysStale makes every table read stale.
	AlwaysStale bool

	// Missing means the table never renders for this page.
	Missing bool
}

// Program is one option of the program select.
type Program struct {
	Label string

	// Pages is the result set. A program with no pages renders no page
	// select at all.
	Pages []Page

	// SelectorStale is how many waits for the page select fail with
	// browser.ErrStale before it can be acquired.
	SelectorStale int
}

// Site is the scripted content.
type Site struct {
	Institutions []string
	Programs     []Program
	CookieBanner bool
}

// Session is a browser.Session over a Site. It is not safe for concurrent use.
type Session struct {
	site Site
	sel  site.Selectors
	gen  browser.Generations

	loaded          bool
	cookieDismissed bool
	query           string
	instSelected    bool
	program         int
	searched        bool
	page            int
	closed          bool

	staleLeft    map[[2]int]int
	selStaleLeft map[int]int

	// Calls records every operation as "<op> <selector-role>" for assertions.
	Calls []string

	// TableReads counts WaitVisible calls on the result table.
	TableReads int
}

var _ browser.Session = (*Session)(nil)

// New returns a session over s using the given selectors.
func New(s Site, sel site.Selectors) *Session {
	return &Session{
		site:         s,
		sel:          sel,
		staleLeft:    map[[2]int]int{},
		selStaleLeft: map[int]int{},
	}
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	s.record("navigate", url)
	*s = Session{
		site:         s.site,
		sel:          s.sel,
		gen:          s.gen,
		staleLeft:    map[[2]int]int{},
		selStaleLeft: map[int]int{},
		Calls:        s.Calls,
		TableReads:   s.TableReads,
		loaded:       true,
	}
	for i, p := range s.site.Programs {
		s.selStaleLeft[i+1] = p.SelectorStale
		for j, pg := range p.Pages {
			s.staleLeft[[2]int{i + 1, j}] = pg.Stale
		}
	}
	s.gen.Advance()
	return nil
}

// Locate implements browser.Session.
func (s *Session) Locate(ctx context.Context, selector string) (browser.Handle, error) {
	if err := s.alive(ctx); err != nil {
		return browser.Handle{}, err
	}
	s.record("locate", selector)
	if !s.present(selector) {
		return browser.Handle{}, fmt.Errorf("locate %s: %w", s.role(selector), browser.ErrNotFound)
	}
	return s.gen.Acquire(selector), nil
}

// WaitClickable implements browser.Session.
func (s *Session) WaitClickable(ctx context.Context, selector string, timeout time.Duration) (browser.Handle, error) {
	return s.wait(ctx, "wait_clickable", selector)
}

// WaitVisible implements browser.Session.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (browser.Handle, error) {
	return s.wait(ctx, "wait_visible", selector)
}

func (s *Session) wait(ctx context.Context, op, selector string) (browser.Handle, error) {
	if err := s.alive(ctx); err != nil {
		return browser.Handle{}, err
	}
	s.record(op, selector)

	switch selector {
	case s.sel.ResultTable:
		s.TableReads++
		if pg, ok := s.currentPage(); ok {
			if pg.AlwaysStale {
				return browser.Handle{}, fmt.Errorf("%s: %w", op, browser.ErrStale)
			}
			k := [2]int{s.program, s.page}
			if s.staleLeft[k] > 0 {
				s.staleLeft[k]--
				return browser.Handle{}, fmt.Errorf("%s: %w", op, browser.ErrStale)
			}
		}
	case s.sel.PageSelect:
		if s.searched && s.selStaleLeft[s.program] > 0 {
			s.selStaleLeft[s.program]--
			return browser.Handle{}, fmt.Errorf("%s: %w", op, browser.ErrStale)
		}
	}

	if !s.present(selector) {
		return browser.Handle{}, fmt.Errorf("%s %s: %w", op, s.role(selector), browser.ErrTimeout)
	}
	return s.gen.Acquire(selector), nil
}

// Select implements browser.Session.
func (s *Session) Select(ctx context.Context, h browser.Handle, index int) (string, error) {
	opts, err := s.Options(ctx, h)
	if err != nil {
		return "", err
	}
	s.record("select", h.Selector)
	if index < 0 || index >= len(opts) {
		return "", fmt.Errorf("select %s: index %d out of range [0,%d)", s.role(h.Selector), index, len(opts))
	}

	switch h.Selector {
	case s.sel.InstitutionList:
		s.instSelected = true
		s.program = 0
		s.searched = false
	case s.sel.ProgramSelect:
		s.program = index
		s.searched = false
		s.page = 0
	case s.sel.PageSelect:
		s.page = index
	}
	s.gen.Advance()
	return opts[index], nil
}

// Options implements browser.Session.
func (s *Session) Options(ctx context.Context, h browser.Handle) ([]string, error) {
	if err := s.use(ctx, h); err != nil {
		return nil, err
	}
	switch h.Selector {
	case s.sel.InstitutionList:
		return append([]string(nil), s.site.Institutions...), nil
	case s.sel.ProgramSelect:
		out := []string{Placeholder}
		for _, p := range s.site.Programs {
			out = append(out, p.Label)
		}
		return out, nil
	case s.sel.PageSelect:
		n := len(s.site.Programs[s.program-1].Pages)
		out := make([]string, n)
		for i := range out {
			out[i] = strconv.Itoa(i + 1)
		}
		return out, nil
	}
	return nil, fmt.Errorf("options %s: not a select", s.role(h.Selector))
}

// Click implements browser.Session.
func (s *Session) Click(ctx context.Context, h browser.Handle) error {
	return s.click(ctx, "click", h)
}

// ForceClick implements browser.Session.
func (s *Session) ForceClick(ctx context.Context, h browser.Handle) error {
	return s.click(ctx, "force_click", h)
}

func (s *Session) click(ctx context.Context, op string, h browser.Handle) error {
	if err := s.use(ctx, h); err != nil {
		return err
	}
	s.record(op, h.Selector)
	switch h.Selector {
	case s.sel.CookieButton:
		s.cookieDismissed = true
	case s.sel.SearchButton:
		s.searched = s.program > 0
		s.page = 0
	}
	s.gen.Advance()
	return nil
}

// SendKeys implements browser.Session.
func (s *Session) SendKeys(ctx context.Context, h browser.Handle, text string) error {
	if err := s.use(ctx, h); err != nil {
		return err
	}
	s.record("send_keys", h.Selector)
	if h.Selector == s.sel.InstitutionInput {
		s.query += text
	}
	s.gen.Advance()
	return nil
}

// OuterHTML implements browser.Session.
func (s *Session) OuterHTML(ctx context.Context, h browser.Handle) (string, error) {
	if err := s.use(ctx, h); err != nil {
		return "", err
	}
	s.record("outer_html", h.Selector)
	if h.Selector != s.sel.ResultTable {
		return "<div></div>", nil
	}
	pg, _ := s.currentPage()
	return RenderTable(pg.Rows), nil
}

// Close implements browser.Session.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// RenderTable renders rows the way the live result table does: a header row
// with "Docente", "Categoria" and an unlabeled action column holding a button.
func RenderTable(rows [][2]string) string {
	var b strings.Builder
	b.WriteString(`<table role="grid"><thead><tr>`)
	b.WriteString(`<th role="columnheader"><span class="ui-column-title">Docente</span></th>`)
	b.WriteString(`<th role="columnheader"><span class="ui-column-title">Categoria</span></th>`)
	b.WriteString(`<th role="columnheader"></th>`)
	b.WriteString(`</tr></thead><tbody class="ui-datatable-data">`)
	if len(rows) == 0 {
		b.WriteString(`<tr class="ui-widget-content ui-datatable-empty-message"><td colspan="3">Nenhum registro encontrado.</td></tr>`)
	}
	for i, r := range rows {
		fmt.Fprintf(&b, `<tr data-ri="%d" class="ui-widget-content" role="row">`, i)
		fmt.Fprintf(&b, `<td role="gridcell">%s</td>`, html.EscapeString(r[0]))
		fmt.Fprintf(&b, `<td role="gridcell">%s</td>`, html.EscapeString(r[1]))
		b.WriteString(`<td role="gridcell"><button type="submit" class="ui-button"><span class="ui-button-text">Detalhar</span></button></td>`)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)
	return b.String()
}

func (s *Session) alive(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("scripted: session closed")
	}
	return ctx.Err()
}

func (s *Session) use(ctx context.Context, h browser.Handle) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	if err := s.gen.Check(h); err != nil {
		return err
	}
	if !s.present(h.Selector) {
		return fmt.Errorf("%s detached: %w", s.role(h.Selector), browser.ErrStale)
	}
	return nil
}

func (s *Session) currentPage() (Page, bool) {
	if !s.searched || s.program < 1 || s.program > len(s.site.Programs) {
		return Page{}, false
	}
	pages := s.site.Programs[s.program-1].Pages
	if s.page < 0 || s.page >= len(pages) {
		return Page{}, false
	}
	return pages[s.page], true
}

func (s *Session) present(selector string) bool {
	if !s.loaded {
		return false
	}
	switch selector {
	case s.sel.CookieButton:
		return s.site.CookieBanner && !s.cookieDismissed
	case s.sel.InstitutionInput:
		return true
	case s.sel.InstitutionList:
		return s.query != "" && len(s.site.Institutions) > 0
	case s.sel.ProgramSelect, s.sel.SearchButton:
		return s.instSelected
	case s.sel.PageSelect:
		return s.searched && len(s.site.Programs[s.program-1].Pages) > 0
	case s.sel.ResultTable:
		pg, ok := s.currentPage()
		return ok && !pg.Missing
	}
	return false
}

func (s *Session) role(selector string) string {
	switch selector {
	case s.sel.CookieButton:
		return "cookie_button"
	case s.sel.InstitutionInput:
		return "institution_input"
	case s.sel.InstitutionList:
		return "institution_list"
	case s.sel.ProgramSelect:
		return "program_select"
	case s.sel.SearchButton:
		return "search_button"
	case s.sel.PageSelect:
		return "page_select"
	case s.sel.ResultTable:
		return "result_table"
	}
	return selector
}

func (s *Session) record(op, selector string) {
	s.Calls = append(s.Calls, op+" "+s.role(selector))
}
