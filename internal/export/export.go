// Package export writes the final dataset: a spreadsheet and a ";"-separated
// text file, both with the fixed column order of dataset.Columns.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"sucupira/internal/dataset"
)

// Separator is the field separator of the delimited output.
const Separator = ';'

// SheetName is the worksheet holding the records.
const SheetName = "Sheet1"

// BaseName returns the file name stem for a run finished at now, e.g.
// "docentes_sucupira_18-10-2026_14h05".
func BaseName(now time.Time) string {
	return "docentes_sucupira_" + now.Format("02-01-2006_15h04")
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records []dataset.Record) error {
	cw := csv.NewWriter(w)
	cw.Comma = Separator

	if err := cw.Write(dataset.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with a header row followed by one
// row per record.
func WriteXLSX(w io.Writer, records []dataset.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("xlsx stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(dataset.Columns)); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, toCells(r.Values())); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush xlsx: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// WriteAll writes <BaseName(now)>.xlsx and .csv into dir and returns their
// paths. dir is created if needed. Files are written to a temporary name and
// renamed, so a failed run never leaves a truncated output behind.
func WriteAll(dir string, now time.Time, records []dataset.Record) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := filepath.Join(dir, BaseName(now))
	outputs := []struct {
		path  string
		write func(io.Writer, []dataset.Record) error
	}{
		{base + ".xlsx", WriteXLSX},
		{base + ".csv", WriteCSV},
	}

	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		if err := writeFile(o.path, records, o.write); err != nil {
			return paths, err
		}
		paths = append(paths, o.path)
	}
	return paths, nil
}

func writeFile(path string, records []dataset.Record, write func(io.Writer, []dataset.Record) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
