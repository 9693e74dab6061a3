package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sucupira/internal/storage"
)

func TestBuildInsertSQL_OnConflict(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("sucupira_docentes",
		[]string{"run_id", "docente"},
		[][]any{{"r1", "ANA"}, {"r1", "BRUNO"}},
		[]string{"run_id", "docente"})

	require.Equal(t,
		`INSERT INTO "sucupira_docentes" ("run_id", "docente") VALUES ($1, $2), ($3, $4) ON CONFLICT ("run_id", "docente") DO NOTHING`,
		q)
	require.Equal(t, []any{"r1", "ANA", "r1", "BRUNO"}, args)
}

func TestBuildInsertSQL_NoConflict(t *testing.T) {
	t.Parallel()

	q, _ := buildInsertSQL("t", []string{"a"}, [][]any{{1}}, nil)
	require.Equal(t, `INSERT INTO "t" ("a") VALUES ($1)`, q)
}

// TestBuildCreateSQL_Qualified verifies a schema-qualified prefix also
// creates the schema and quotes each part separately.
func TestBuildCreateSQL_Qualified(t *testing.T) {
	t.Parallel()

	s := storage.NewSchema("capes.")
	schemaSQL, tableSQL, err := buildCreateSQL(s.Docentes)
	require.NoError(t, err)
	require.Equal(t, `CREATE SCHEMA IF NOT EXISTS "capes"`, schemaSQL)
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "capes"."docentes" (`+
			`"docente_id" BIGSERIAL PRIMARY KEY, `+
			`"run_id" TEXT NOT NULL, `+
			`"programa_id" BIGINT NOT NULL REFERENCES "capes"."programas", `+
			`"docente" TEXT NOT NULL, `+
			`"categoria" TEXT NOT NULL)`,
		tableSQL)
}

func TestBuildCreateSQL_Unqualified(t *testing.T) {
	t.Parallel()

	schemaSQL, tableSQL, err := buildCreateSQL(storage.NewSchema("").Programs)
	require.NoError(t, err)
	require.Empty(t, schemaSQL)
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "sucupira_programas" ("programa_id" BIGSERIAL PRIMARY KEY, "codigo" TEXT NOT NULL, "nome" TEXT NOT NULL, UNIQUE ("codigo"))`,
		tableSQL)

	_, _, err = buildCreateSQL(storage.TableSpec{Name: "x", Columns: []storage.ColumnSpec{{Name: "c", Type: "json"}}})
	require.Error(t, err)
}

func TestBuildDeleteSQL(t *testing.T) {
	t.Parallel()

	q, args := buildDeleteSQL("capes.docentes", "run_id", "run-1")
	require.Equal(t, `DELETE FROM "capes"."docentes" WHERE "run_id" = $1`, q)
	require.Equal(t, []any{"run-1"}, args)
}

func TestBuildSelectByKeysSQL(t *testing.T) {
	t.Parallel()

	q, args := buildSelectByKeysSQL("capes.programas", "codigo", "programa_id", []any{"a", "b"})
	require.Equal(t, `SELECT "codigo", "programa_id" FROM "capes"."programas" WHERE "codigo" IN ($1, $2)`, q)
	require.Equal(t, []any{"a", "b"}, args)
}

func TestSplitQualifiedName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, schema, table string
	}{
		{"public.programas", "public", "programas"},
		{"programas", "", "programas"},
		{"a.b.c", "", "a.b.c"},
	}
	for _, tc := range cases {
		s, tb := splitQualifiedName(tc.in)
		require.Equal(t, tc.schema, s, tc.in)
		require.Equal(t, tc.table, tb, tc.in)
	}
}

func TestChunkRows(t *testing.T) {
	t.Parallel()

	chunks := chunkRows(make([][]any, 4001), 4)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 2000)
	require.Len(t, chunks[2], 1)
}
