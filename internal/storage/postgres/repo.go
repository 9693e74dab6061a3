package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"sucupira/internal/storage"
)

// Rows per statement are bounded so a statement stays far below Postgres's
// 65535 bind parameter limit.
const maxParams = 8000

/*
Repo implements storage.Repository for Postgres.

Dimension rows are idempotent through INSERT ... ON CONFLICT DO NOTHING
against the UNIQUE constraints EnsureTables creates. Fact rows are inserted
as given. A schema-qualified table prefix such as
"capes." creates the schema too.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a pgx pool for cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the schema (when qualified) and each table.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("postgres: create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureDimensionRows inserts rows with ON CONFLICT (keyColumn) DO NOTHING.
func (r *Repo) EnsureDimensionRows(ctx context.Context, table, keyColumn string, columns []string, rows [][]any) error {
	if table == "" || keyColumn == "" {
		return fmt.Errorf("EnsureDimensionRows: table and keyColumn are required")
	}
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertSQL(table, columns, part, []string{keyColumn})
		if _, err := r.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("EnsureDimensionRows: insert into %s: %w", table, err)
		}
	}
	return nil
}

// SelectKeyValueByKeys uses a chunked IN (...) list rather than ANY($1) to
// avoid array typing of heterogeneous keys.
func (r *Repo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	if table == "" || keyColumn == "" || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValueByKeys: table, keyColumn, valueColumn are required")
	}
	out := make(map[string]int64, len(keys))

	for start := 0; start < len(keys); start += maxParams {
		end := min(start+maxParams, len(keys))
		q, args := buildSelectByKeysSQL(table, keyColumn, valueColumn, keys[start:end])

		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("SelectKeyValueByKeys: query %s: %w", table, err)
		}
		for rows.Next() {
			var k any
			var id int64
			if err := rows.Scan(&k, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("SelectKeyValueByKeys: scan %s: %w", table, err)
			}
			out[storage.KeyString(k)] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("SelectKeyValueByKeys: rows %s: %w", table, err)
		}
	}
	return out, nil
}

// InsertFactRows performs bulk INSERTs, with
// ON CONFLICT (dedupeColumns) DO NOTHING when dedupeColumns is set.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	var total int64
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertSQL(table, columns, part, dedupeColumns)
		cmd, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

// DeleteRows removes the rows of table whose column equals value.
func (r *Repo) DeleteRows(ctx context.Context, table, column string, value any) (int64, error) {
	q, args := buildDeleteSQL(table, column, value)
	cmd, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func buildDeleteSQL(table, column string, value any) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pgTableIdent(table), pgIdent(column)), []any{value}
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Constraints:
//   - every row must have at least len(columns) values.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflictColumns))
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args
}

func buildSelectByKeysSQL(table, keyColumn, valueColumn string, keys []any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s FROM %s WHERE %s IN (",
		pgIdent(keyColumn), pgIdent(valueColumn), pgTableIdent(table), pgIdent(keyColumn))
	for i := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")
	return b.String(), append([]any(nil), keys...)
}

// buildCreateSQL returns an optional CREATE SCHEMA and the CREATE TABLE for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+2)
	if t.PrimaryKey != "" {
		defs = append(defs, pgIdent(t.PrimaryKey)+" BIGSERIAL PRIMARY KEY")
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.Unique) > 0 {
		defs = append(defs, "UNIQUE ("+joinIdents(t.Unique)+")")
	}

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// buildColumnDef renders one column. Foreign keys are inline.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "TEXT"
	case storage.TypeBigInt:
		typ = "BIGINT"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}

	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.References != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(c.References))
	}
	return b.String(), nil
}

// splitQualifiedName splits "schema.table". Anything without exactly one dot
// is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func chunkRows(rows [][]any, width int) [][][]any {
	per := max(1, maxParams/max(1, width))
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgIdent(schema) + "." + pgIdent(table)
	}
	return pgIdent(name)
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
