// Package mssql implements storage.Repository for Microsoft SQL Server via
// github.com/microsoft/go-mssqldb.
//
// SQL Server has no INSERT ... ON CONFLICT and MERGE is avoided, so every
// deduplicating insert is INSERT ... SELECT over a VALUES table filtered with
// NOT EXISTS. Unlike ON CONFLICT, that does not collapse duplicates inside
// the VALUES source, so batches are deduplicated in Go first.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"sucupira/internal/storage"
)

// SQL Server rejects statements with more than 2100 parameters.
const maxParams = 2000

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates each table behind an OBJECT_ID guard.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureDimensionRows inserts rows whose key is missing, in one transaction.
func (r *Repo) EnsureDimensionRows(ctx context.Context, table, keyColumn string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if table == "" || keyColumn == "" {
		return fmt.Errorf("EnsureDimensionRows: table and keyColumn are required")
	}
	rows, err := dedupeRowsByColumns(rows, columns, []string{keyColumn})
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("EnsureDimensionRows: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertNotExistsSQL(table, columns, part, []string{keyColumn})
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("EnsureDimensionRows: insert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("EnsureDimensionRows: commit: %w", err)
	}
	return nil
}

func (r *Repo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValueByKeys: table, keyColumn, valueColumn required")
	}
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
			var id int64
			if err := rows.Scan(&k, &id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[storage.KeyString(k)] = id
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertFactRows inserts rows; with dedupeColumns, only rows absent from the
// table (and the first of any in-batch duplicates) are written.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(dedupeColumns) > 0 {
		var err error
		if rows, err = dedupeRowsByColumns(rows, columns, dedupeColumns); err != nil {
			return 0, err
		}
	}

	var total int64
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertNotExistsSQL(table, columns, part, dedupeColumns)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
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
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildDeleteSQL(table, column string, value any) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = @p1;", mssqlTableIdent(table), mssqlIdent(column)), []any{value}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	defs := make([]string, 0, len(t.Columns)+2)
	if t.PrimaryKey != "" {
		defs = append(defs, mssqlIdent(t.PrimaryKey)+" BIGINT IDENTITY(1,1) PRIMARY KEY")
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.Unique) > 0 {
		defs = append(defs, "UNIQUE ("+joinIdents(t.Unique)+")")
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		mssqlTableIdent(t.Name),
		strings.Join(defs, ", "),
	), nil
}

// mssqlColumnDef maps logical types. Text without a Size becomes
// NVARCHAR(MAX), which cannot take part in a UNIQUE constraint.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "NVARCHAR(MAX)"
		if c.Size > 0 {
			typ = fmt.Sprintf("NVARCHAR(%d)", c.Size)
		}
	case storage.TypeBigInt:
		typ = "BIGINT"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
	def := mssqlIdent(c.Name) + " " + typ
	if c.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}
	if c.References != "" {
		def += " REFERENCES " + mssqlTableIdent(c.References)
	}
	return def, nil
}

// buildInsertNotExistsSQL builds
//
//	INSERT INTO t (cols) SELECT v.cols FROM (VALUES (...), ...) AS v (cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.k = v.k AND ...)
//
// With no dedupeColumns the WHERE clause is omitted.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	tbl := mssqlTableIdent(table)
	cols := joinIdents(columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT ", tbl, cols)
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v." + mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ") AS v (%s)", cols)

	if len(dedupeColumns) > 0 {
		fmt.Fprintf(&b, " WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE ", tbl)
		for i, c := range dedupeColumns {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "t.%s = v.%s", mssqlIdent(c), mssqlIdent(c))
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func buildSelectByKeysSQL(table, keyColumn, valueColumn string, keys []any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s FROM %s WHERE %s IN (",
		mssqlIdent(keyColumn), mssqlIdent(valueColumn), mssqlTableIdent(table), mssqlIdent(keyColumn))
	for i := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(");")
	return b.String(), append([]any(nil), keys...)
}

// dedupeRowsByColumns keeps the first row for each distinct dedupe key,
// preserving input order.
func dedupeRowsByColumns(rows [][]any, columns []string, dedupeColumns []string) ([][]any, error) {
	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		pos := -1
		for j, c := range columns {
			if c == dc {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("mssql: dedupe column %q not present in columns", dc)
		}
		idx[i] = pos
	}

	seen := make(map[string]bool, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		var key strings.Builder
		for _, i := range idx {
			key.WriteString(storage.KeyString(row[i]))
			key.WriteByte(0)
		}
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		out = append(out, row)
	}
	return out, nil
}

func chunkRows(rows [][]any, width int) [][][]any {
	per := max(1, maxParams/max(1, width))
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a possibly schema-qualified name.
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}
