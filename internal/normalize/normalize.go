// Package normalize turns raw result rows plus their program label into
// dataset records.
//
// A program label is the text of the program option, e.g.
//
//	CIÊNCIA DA COMPUTAÇÃO (31001017004P0) - MESTRADO/DOUTORADO
//
// The parenthesized token is the program code: 11 digits, "P", one digit.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sucupira/internal/dataset"
	"sucupira/internal/extracthtml"
)

// Raw column names as rendered by the result table.
const (
	RawDocente   = "Docente"
	RawCategoria = "Categoria"
)

var (
	reCodeToken = regexp.MustCompile(`\(\d{11}P\d\)`)
	reCode      = regexp.MustCompile(`^\d{11}P\d$`)
	reSpaces    = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// ParsePatternError means a program label does not carry exactly one code
// token. It is fatal: records without a program identity cannot be emitted.
type ParsePatternError struct {
	Label   string
	Matches int
}

func (e *ParsePatternError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("normalize: no program code in label %q", e.Label)
	}
	return fmt.Sprintf("normalize: %d program codes in label %q", e.Matches, e.Label)
}

// SchemaError means a raw row is missing a column of the fixed schema.
type SchemaError struct {
	Column  string
	Columns []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("normalize: row has no %q column (columns=%v)", e.Column, e.Columns)
}

// Program is the identity parsed from a label.
type Program struct {
	Name string
	Code string
}

// ParseProgramLabel extracts the program code and name from label.
//
// Code: the single "(dddddddddddPd)" token, parentheses stripped. The same
// token repeated counts once; two different tokens are an error.
//
// Name: label with the token removed, whitespace runs collapsed to one space,
// trimmed, upper-cased, and with semicolons stripped (";" is the delimited
// output's separator). The name never contains the code.
func ParseProgramLabel(label string) (Program, error) {
	tokens := reCodeToken.FindAllString(label, -1)
	distinct := map[string]struct{}{}
	for _, t := range tokens {
		distinct[t] = struct{}{}
	}
	if len(distinct) != 1 {
		return Program{}, &ParsePatternError{Label: label, Matches: len(distinct)}
	}

	code := tokens[0][1 : len(tokens[0])-1]

	name := reCodeToken.ReplaceAllString(label, " ")
	name = collapse(name)
	name = cases.Upper(language.BrazilianPortuguese).String(name)
	name = strings.ReplaceAll(name, ";", "")

	// Casing or ";" removal can spell the code out again ("...p1", "1;2...").
	if strings.Contains(name, code) {
		name = collapse(strings.ReplaceAll(name, code, " "))
	}

	return Program{Name: name, Code: code}, nil
}

// Normalize converts one raw row rendered under programLabel into a record.
//
// Docente and Categoria are copied verbatim. The function is pure: the same
// inputs always produce the same record.
func Normalize(row extracthtml.RawRow, programLabel string) (dataset.Record, error) {
	p, err := ParseProgramLabel(programLabel)
	if err != nil {
		return dataset.Record{}, err
	}
	return toRecord(row, p)
}

// NormalizeRows converts every row of one page. The label is parsed once.
// Rows are converted in order; the first error aborts.
func NormalizeRows(rows []extracthtml.RawRow, programLabel string) ([]dataset.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	p, err := ParseProgramLabel(programLabel)
	if err != nil {
		return nil, err
	}

	out := make([]dataset.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := toRecord(row, p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// ValidCode reports whether code has the program code format.
func ValidCode(code string) bool { return reCode.MatchString(code) }

func toRecord(row extracthtml.RawRow, p Program) (dataset.Record, error) {
	docente, ok := row.Get(RawDocente)
	if !ok {
		return dataset.Record{}, &SchemaError{Column: RawDocente, Columns: row.Columns}
	}
	categoria, ok := row.Get(RawCategoria)
	if !ok {
		return dataset.Record{}, &SchemaError{Column: RawCategoria, Columns: row.Columns}
	}
	return dataset.Record{
		Docente:          docente,
		Categoria:        categoria,
		NomeDoPrograma:   p.Name,
		CodigoDoPrograma: p.Code,
	}, nil
}
