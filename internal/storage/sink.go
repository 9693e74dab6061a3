package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"sucupira/internal/dataset"
)

// DefaultBatchSize is the number of fact rows per insert statement.
const DefaultBatchSize = 500

// Logger is the minimal logging interface used by the Sink.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Sink writes a run's records in two passes:
//   - Pass 1: ensure one program row per distinct code.
//   - Pass 2: resolve program ids, drop the rows already stored for the run,
//     insert one docente row per record in batches.
//
// Records are stored as given, repeats included, so the table holds exactly
// what the exported files hold. Writing a run again replaces its rows.
// The passes are separate statements: a write that fails midway leaves a
// partial run behind until the run is written again.
type Sink struct {
	Repo   Repository
	Schema Schema

	// BatchSize bounds rows per fact insert. If <= 0, DefaultBatchSize.
	BatchSize int

	Logger Logger
}

// Write persists records under runID, replacing any rows stored for it
// before, and returns the number of fact rows inserted.
func (s *Sink) Write(ctx context.Context, runID string, records []dataset.Record) (int64, error) {
	if s.Repo == nil {
		return 0, fmt.Errorf("storage: Repo is required")
	}
	if runID == "" {
		return 0, fmt.Errorf("storage: run id is required")
	}
	logf := s.logger()
	schema := s.schema()

	ddlStart := time.Now()
	if err := s.Repo.EnsureTables(ctx, schema.Tables()); err != nil {
		return 0, fmt.Errorf("storage: ensure tables: %w", err)
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	pass1Start := time.Now()
	codes, programRows := distinctPrograms(records)
	if err := s.Repo.EnsureDimensionRows(ctx, schema.Programs.Name, colCode, []string{colCode, colName}, programRows); err != nil {
		return 0, fmt.Errorf("storage: ensure programs: %w", err)
	}
	logf("stage=pass1_ensure_programs ok programs=%d duration=%s", len(codes), durMS(pass1Start))

	pass2Start := time.Now()
	ids, err := s.Repo.SelectKeyValueByKeys(ctx, schema.Programs.Name, colCode, colProgramID, codes)
	if err != nil {
		return 0, fmt.Errorf("storage: resolve programs: %w", err)
	}

	deleted, err := s.Repo.DeleteRows(ctx, schema.Docentes.Name, colRunID, runID)
	if err != nil {
		return 0, fmt.Errorf("storage: replace run %s: %w", runID, err)
	}
	if deleted > 0 {
		logf("stage=pass2_replace_run run_id=%s deleted=%d", runID, deleted)
	}

	columns := []string{colRunID, colProgramID, colDocente, colCategoria}
	batch := make([][]any, 0, s.batchSize())
	var inserted int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.Repo.InsertFactRows(ctx, schema.Docentes.Name, columns, batch, nil)
		if err != nil {
			return fmt.Errorf("storage: insert docentes: %w", err)
		}
		inserted += n
		batch = make([][]any, 0, s.batchSize())
		return nil
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		id, ok := ids[KeyString(r.CodigoDoPrograma)]
		if !ok {
			return inserted, fmt.Errorf("storage: program %s missing after ensure", r.CodigoDoPrograma)
		}
		batch = append(batch, []any{runID, id, r.Docente, r.Categoria})
		if len(batch) >= s.batchSize() {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}

	logf("stage=pass2_load_docentes ok rows=%d inserted=%d duration=%s", len(records), inserted, durMS(pass2Start))
	return inserted, nil
}

// distinctPrograms returns each program code once, in first-seen order, with
// the name from its first record.
func distinctPrograms(records []dataset.Record) ([]any, [][]any) {
	seen := make(map[string]bool, 16)
	codes := make([]any, 0, 16)
	rows := make([][]any, 0, 16)
	for _, r := range records {
		if seen[r.CodigoDoPrograma] {
			continue
		}
		seen[r.CodigoDoPrograma] = true
		codes = append(codes, r.CodigoDoPrograma)
		rows = append(rows, []any{r.CodigoDoPrograma, r.NomeDoPrograma})
	}
	return codes, rows
}

func (s *Sink) schema() Schema {
	if s.Schema.Programs.Name == "" {
		return NewSchema("")
	}
	return s.Schema
}

func (s *Sink) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

func (s *Sink) logger() func(format string, v ...any) {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return s.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
