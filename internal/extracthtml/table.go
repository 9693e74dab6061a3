package extracthtml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoTable is returned when the markup contains no <table>.
var ErrNoTable = errors.New("extracthtml: no table in markup")

// emptyMessageClass marks the placeholder row PrimeFaces renders when a data
// table has no records.
const emptyMessageClass = "ui-datatable-empty-message"

// RawRow is one rendered table row keyed by header text.
//
// Columns and Values are parallel and keep rendering order. Label is the
// program label the row was rendered under; it is carried, not interpreted.
type RawRow struct {
	Columns []string
	Values  []string
	Label   string
}

// Get returns the value of column name.
func (r RawRow) Get(name string) (string, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return "", false
}

// ExtractTable parses the outer markup of a results table into rows.
//
// Semantics:
//   - The header row (first row of <thead>, otherwise the first row holding
//     <th> cells) supplies the column keys.
//   - Columns with an empty header are UI-only (the row action button) and
//     are dropped.
//   - Every other row with <td> cells is a data row, in rendering order. The
//     "no records" placeholder row is not a data row.
//   - Cell text is whitespace-trimmed and otherwise passed through.
//   - Repeated header names get ".1", ".2"... suffixes.
//
// Errors:
//   - ErrNoTable if the markup holds no table.
//   - An error if the table has no header row.
func ExtractTable(html, label string) ([]RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}

	// Only rows owned by this table; nested tables inside cells are ignored.
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	})

	header := rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.ParentsFiltered("thead").Length() > 0
	}).First()
	if header.Length() == 0 {
		header = rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.ChildrenFiltered("th").Length() > 0
		}).First()
	}
	if header.Length() == 0 {
		return nil, fmt.Errorf("extracthtml: table has no header row")
	}

	keep, names := headerColumns(header)

	var out []RawRow
	rows.Each(func(_ int, tr *goquery.Selection) {
		if tr.IsSelection(header) || tr.HasClass(emptyMessageClass) {
			return
		}
		cells := tr.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}

		values := make([]string, len(keep))
		for i, idx := range keep {
			if idx < cells.Length() {
				values[i] = strings.TrimSpace(cells.Eq(idx).Text())
			}
		}
		out = append(out, RawRow{
			Columns: names,
			Values:  values,
			Label:   label,
		})
	})

	return out, nil
}

// headerColumns returns the cell indices to keep and their (deduplicated)
// names.
func headerColumns(header *goquery.Selection) (keep []int, names []string) {
	seen := map[string]int{}
	header.ChildrenFiltered("th,td").Each(func(i int, cell *goquery.Selection) {
		name := strings.Join(strings.Fields(cell.Text()), " ")
		if name == "" {
			return
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}
		keep = append(keep, i)
		names = append(names, name)
	})
	return keep, names
}
