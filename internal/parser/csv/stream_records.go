// Package csv reads delimited exports back into dataset records, so a past
// run can be loaded into a database without scraping again.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"sucupira/internal/dataset"
)

// Options controls how the export is read.
type Options struct {
	// Comma is the field separator. Zero means ';', the export separator.
	Comma rune

	// HeaderMap renames source headers (after trimming) to dataset columns,
	// for files edited by hand or produced by older exports.
	HeaderMap map[string]string
}

// MissingColumnError means the header lacks a dataset column.
type MissingColumnError struct {
	Column string
	Header []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("csv: header %v has no %q column", e.Header, e.Column)
}

// StreamRecords reads src and sends one record per data line to out.
//
// The first line must be a header; columns are matched by name, so their
// order does not matter and extra columns are ignored. A UTF-8 BOM on the
// first header is dropped. Malformed lines are reported to onErr (when set)
// with their 1-based line number and skipped.
func StreamRecords(
	ctx context.Context,
	src io.ReadCloser,
	opt Options,
	out chan<- dataset.Record,
	onErr func(line int, err error),
) error {
	defer src.Close()

	comma := opt.Comma
	if comma == 0 {
		comma = ';'
	}
	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		if onErr != nil {
			onErr(line, fmt.Errorf("read header: %w", err))
		}
		return fmt.Errorf("csv: read header: %w", err)
	}
	colIx, err := indexHeader(hdr, opt.HeaderMap)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		field := func(i int) string {
			if colIx[i] >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[colIx[i]])
		}
		r := dataset.Record{
			Docente:          field(0),
			Categoria:        field(1),
			NomeDoPrograma:   field(2),
			CodigoDoPrograma: field(3),
		}

		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// indexHeader returns, for each of dataset.Columns in order, its position in hdr.
func indexHeader(hdr []string, headerMap map[string]string) ([]int, error) {
	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		}
		srcToIdx[h] = i
	}

	colIx := make([]int, len(dataset.Columns))
	for t, target := range dataset.Columns {
		si, ok := srcToIdx[target]
		if !ok {
			return nil, &MissingColumnError{Column: target, Header: append([]string(nil), hdr...)}
		}
		colIx[t] = si
	}
	return colIx, nil
}

// ReadAll collects every record of src. Skipped lines come back as errors
// prefixed with their line number; the final error is fatal for the file.
func ReadAll(ctx context.Context, src io.ReadCloser, opt Options) ([]dataset.Record, []error, error) {
	out := make(chan dataset.Record, 64)
	var lineErrs []error
	done := make(chan error, 1)

	go func() {
		done <- StreamRecords(ctx, src, opt, out, func(line int, err error) {
			lineErrs = append(lineErrs, fmt.Errorf("line %d: %w", line, err))
		})
		close(out)
	}()

	var records []dataset.Record
	for r := range out {
		records = append(records, r)
	}
	if err := <-done; err != nil {
		return nil, lineErrs, err
	}
	return records, lineErrs, nil
}
