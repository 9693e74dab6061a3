// Package site describes the layout of the SUCUPIRA "lista docente" query
// page: its URL and the XPath selectors of every control the engine touches.
package site

import (
	"fmt"
	"strings"
)

// URL is the public professors query page.
const URL = "https://sucupira.capes.gov.br/sucupira/public/consultas/coleta/docente/listaDocente.xhtml"

// Selectors holds the XPath of each control on the query page.
//
// The page is a JSF/PrimeFaces form whose element ids are generated, so the
// defaults pin the ids observed on the live site; they can be overridden from
// configuration when the site is redeployed.
type Selectors struct {
	CookieButton     string `mapstructure:"cookie_button"`
	InstitutionInput string `mapstructure:"institution_input"`
	InstitutionList  string `mapstructure:"institution_list"`
	ProgramSelect    string `mapstructure:"program_select"`
	SearchButton     string `mapstructure:"search_button"`
	PageSelect       string `mapstructure:"page_select"`
	ResultTable      string `mapstructure:"result_table"`
}

// DefaultSelectors returns the selectors of the live site.
func DefaultSelectors() Selectors {
	return Selectors{
		CookieButton:     `/html/body/div[5]/div/div/div[2]/button`,
		InstitutionInput: `//*[@id="form:j_idt30:inst:input"]`,
		InstitutionList:  `//*[@id="form:j_idt30:inst:listbox"]`,
		ProgramSelect:    `/html/body/form[2]/div/div[1]/div/div/div/fieldset/span[1]/div/div/div/div/select`,
		SearchButton:     `//*[@id="form:consultar"]`,
		PageSelect:       `//select[@id="form:j_idt77:j_idt84"]`,
		ResultTable:      `/html/body/form[2]/div/div[2]/div/div/div/span/span/span[2]/div/div/table`,
	}
}

// Validate reports the first empty selector, if any.
func (s Selectors) Validate() error {
	fields := []struct {
		name, val string
	}{
		{"cookie_button", s.CookieButton},
		{"institution_input", s.InstitutionInput},
		{"institution_list", s.InstitutionList},
		{"program_select", s.ProgramSelect},
		{"search_button", s.SearchButton},
		{"page_select", s.PageSelect},
		{"result_table", s.ResultTable},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.val) == "" {
			return fmt.Errorf("selectors.%s is empty", f.name)
		}
	}
	return nil
}
