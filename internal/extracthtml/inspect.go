package extracthtml

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// InspectOptions controls Inspect output.
type InspectOptions struct {
	// Selector is a CSS selector whose matches are printed. When empty,
	// Inspect describes every table in the markup instead.
	Selector string

	// TextOnly prints trimmed text instead of outer HTML for Selector matches.
	TextOnly bool
}

// Inspect is the debugging view used by "sucupira inspect" when the site's
// markup drifts and selectors need re-pinning.
//
// Without a selector it prints one line per table:
//
//	table 1: columns=[Docente Categoria] dropped=1 rows=10
//
// With a selector it prints every match (outer HTML or text), each followed by
// a blank line.
func Inspect(w io.Writer, html string, opt InspectOptions) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	if strings.TrimSpace(opt.Selector) == "" {
		return describeTables(w, doc)
	}

	var werr error
	doc.Find(opt.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var out string
		if opt.TextOnly {
			out = strings.TrimSpace(s.Text())
		} else if out, err = goquery.OuterHtml(s); err != nil {
			out, _ = s.Html()
		}
		_, werr = fmt.Fprintf(w, "%s\n\n", out)
		return werr == nil
	})
	return werr
}

func describeTables(w io.Writer, doc *goquery.Document) error {
	tables := doc.Find("table")
	if tables.Length() == 0 {
		_, err := fmt.Fprintln(w, "no tables")
		return err
	}

	var werr error
	tables.EachWithBreak(func(i int, t *goquery.Selection) bool {
		markup, err := goquery.OuterHtml(t)
		if err != nil {
			_, werr = fmt.Fprintf(w, "table %d: %v\n", i+1, err)
			return werr == nil
		}
		rows, err := ExtractTable(markup, "")
		if err != nil {
			_, werr = fmt.Fprintf(w, "table %d: %v\n", i+1, err)
			return werr == nil
		}

		var cols []string
		if len(rows) > 0 {
			cols = rows[0].Columns
		} else {
			_, cols = headerColumns(t.Find("tr").First())
		}
		total := t.Find("tr").First().ChildrenFiltered("th,td").Length()
		_, werr = fmt.Fprintf(w, "table %d: columns=%v dropped=%d rows=%d\n", i+1, cols, total-len(cols), len(rows))
		return werr == nil
	})
	return werr
}
