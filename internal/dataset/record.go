// Package dataset holds the normalized output schema and the per-run session
// that accumulates it.
package dataset

// Column names in output order. Writers (spreadsheet, delimited text, SQL)
// must emit fields in exactly this order.
const (
	ColDocente          = "docente"
	ColCategoria        = "categoria"
	ColNomeDoPrograma   = "nomeDoPrograma"
	ColCodigoDoPrograma = "codigoDoPrograma"
)

// Columns is the fixed output column order.
var Columns = []string{ColDocente, ColCategoria, ColNomeDoPrograma, ColCodigoDoPrograma}

// Record is one normalized professor row.
//
// Invariants (enforced by internal/normalize, not re-checked here):
//   - CodigoDoPrograma matches ^\d{11}P\d$
//   - NomeDoPrograma never contains CodigoDoPrograma
type Record struct {
	Docente          string `json:"docente"`
	Categoria        string `json:"categoria"`
	NomeDoPrograma   string `json:"nomeDoPrograma"`
	CodigoDoPrograma string `json:"codigoDoPrograma"`
}

// Values returns the record fields in Columns order.
func (r Record) Values() []string {
	return []string{r.Docente, r.Categoria, r.NomeDoPrograma, r.CodigoDoPrograma}
}
