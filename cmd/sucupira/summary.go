package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"sucupira/internal/dataset"
)

// renderSummary prints one row per visited program and the run totals.
func renderSummary(w io.Writer, ds *dataset.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Programa", "Status", "Páginas", "Falhas", "Docentes"})

	for _, p := range ds.Programs {
		t.AppendRow(table.Row{p.Index, p.Label, string(p.Status), p.Pages, p.PagesEmpty + p.PagesFailed, p.Records})
	}

	k := ds.Counters
	t.AppendFooter(table.Row{
		"", "total", statusTotals(k),
		k.PagesVisited, k.PagesEmpty + k.PagesFailed, ds.Records.Len(),
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func statusTotals(k dataset.Counters) string {
	ok := k.ProgramsVisited - k.ProgramsEmpty - k.ProgramsFailed
	return fmt.Sprintf("%d ok / %d empty / %d failed", ok, k.ProgramsEmpty, k.ProgramsFailed)
}
