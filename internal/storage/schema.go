package storage

// DefaultTablePrefix is used when Config.TablePrefix is empty.
const DefaultTablePrefix = "sucupira_"

// Logical column types. Each backend maps them to its own DDL.
const (
	TypeText   = "text"
	TypeBigInt = "bigint"
)

// TableSpec describes one table in backend-neutral terms.
type TableSpec struct {
	Name string

	// PrimaryKey is an auto-generated bigint surrogate key. Empty means none.
	PrimaryKey string

	Columns []ColumnSpec

	// Unique lists the columns of the table's single UNIQUE constraint.
	Unique []string
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name string
	Type string

	// Size bounds text columns where the backend needs it (SQL Server indexes).
	// Zero means unbounded.
	Size int

	Nullable bool

	// References names the table whose primary key this column points to.
	References string
}

// Schema is the set of tables records are written to.
type Schema struct {
	Programs TableSpec
	Docentes TableSpec
}

// Column names shared by the schema and the Sink.
const (
	colProgramID = "programa_id"
	colCode      = "codigo"
	colName      = "nome"
	colRunID     = "run_id"
	colDocente   = "docente"
	colCategoria = "categoria"
)

// NewSchema returns the schema with every table name prefixed.
func NewSchema(prefix string) Schema {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	programs := TableSpec{
		Name:       prefix + "programas",
		PrimaryKey: colProgramID,
		Columns: []ColumnSpec{
			{Name: colCode, Type: TypeText, Size: 32},
			{Name: colName, Type: TypeText, Size: 400},
		},
		Unique: []string{colCode},
	}
	docentes := TableSpec{
		Name:       prefix + "docentes",
		PrimaryKey: "docente_id",
		Columns: []ColumnSpec{
			{Name: colRunID, Type: TypeText, Size: 64},
			{Name: colProgramID, Type: TypeBigInt, References: programs.Name},
			{Name: colDocente, Type: TypeText, Size: 200},
			{Name: colCategoria, Type: TypeText, Size: 100},
		},
	}
	return Schema{Programs: programs, Docentes: docentes}
}

// Tables returns the tables in creation order.
func (s Schema) Tables() []TableSpec {
	return []TableSpec{s.Programs, s.Docentes}
}
