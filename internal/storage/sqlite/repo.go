// Package sqlite implements storage.Repository on modernc.org/sqlite (pure Go,
// no cgo). It is the default sink for local runs: a single file next to the
// exported spreadsheets.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"sucupira/internal/storage"
)

// Older SQLite builds cap host parameters at 999.
const maxParams = 900

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN (e.g. "file:sucupira.db").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates each table if it does not exist.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureDimensionRows relies on the table's UNIQUE key: INSERT OR IGNORE
// drops rows that already exist.
func (r *Repo) EnsureDimensionRows(ctx context.Context, table, keyColumn string, columns []string, rows [][]any) error {
	_ = keyColumn
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertOrIgnoreSQL(table, columns, part)
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlite: ensure %s: %w", table, err)
		}
	}
	return nil
}

func (r *Repo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += maxParams {
		end := min(start+maxParams, len(keys))
		q, args := buildSelectByKeysSQL(table, keyColumn, valueColumn, keys[start:end])

		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k any
			var id sql.NullInt64
			if err := rows.Scan(&k, &id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			if !id.Valid {
				_ = rows.Close()
				return nil, fmt.Errorf("sqlite: %s.%s is NULL", table, valueColumn)
			}
			out[storage.KeyString(k)] = id.Int64
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertFactRows writes every row with a plain INSERT. With dedupeColumns it
// uses INSERT OR IGNORE, which needs a UNIQUE constraint on those columns.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	insert := buildInsertSQL
	if len(dedupeColumns) > 0 {
		insert = buildInsertOrIgnoreSQL
	}

	var total int64
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := insert(table, columns, part)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// DeleteRows removes the rows of table whose column equals value.
func (r *Repo) DeleteRows(ctx context.Context, table, column string, value any) (int64, error) {
	q, args := buildDeleteSQL(table, column, value)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildDeleteSQL(table, column string, value any) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", sqlIdent(table), sqlIdent(column)), []any{value}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	defs := make([]string, 0, len(t.Columns)+2)
	if t.PrimaryKey != "" {
		defs = append(defs, sqlIdent(t.PrimaryKey)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, c := range t.Columns {
		def, err := columnDef(c)
		if err != nil {
			return "", fmt.Errorf("sqlite: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.Unique) > 0 {
		defs = append(defs, "UNIQUE ("+joinIdents(t.Unique)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

func columnDef(c storage.ColumnSpec) (string, error) {
	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "TEXT"
	case storage.TypeBigInt:
		typ = "INTEGER"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
	def := sqlIdent(c.Name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.References != "" {
		def += " REFERENCES " + sqlIdent(c.References)
	}
	return def, nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	return buildValuesSQL("INSERT INTO ", table, columns, rows)
}

func buildInsertOrIgnoreSQL(table string, columns []string, rows [][]any) (string, []any) {
	return buildValuesSQL("INSERT OR IGNORE INTO ", table, columns, rows)
}

func buildValuesSQL(verb, table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimRight(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row[:len(columns)]...)
	}
	return b.String(), args
}

func buildSelectByKeysSQL(table, keyColumn, valueColumn string, keys []any) (string, []any) {
	ph := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
		sqlIdent(keyColumn), sqlIdent(valueColumn), sqlIdent(table), sqlIdent(keyColumn), ph)
	return q, append([]any(nil), keys...)
}

// chunkRows splits rows so no statement exceeds maxParams parameters.
func chunkRows(rows [][]any, width int) [][][]any {
	per := max(1, maxParams/max(1, width))
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}
