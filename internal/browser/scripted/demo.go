package scripted

import "fmt"

// DemoSite returns a small institution exercising every branch kind: a
// multi-page program with a stale read, a program without results, and a
// program whose table races the re-render once.
func DemoSite() Site {
	names := func(prefix string, n int) [][2]string {
		out := make([][2]string, n)
		for i := range out {
			cat := "PERMANENTE"
			if i%3 == 2 {
				cat = "COLABORADOR"
			}
			out[i] = [2]string{fmt.Sprintf("%s %02d", prefix, i+1), cat}
		}
		return out
	}

	return Site{
		CookieBanner: true,
		Institutions: []string{"UNIVERSIDADE FEDERAL DO RIO DE JANEIRO (UFRJ)"},
		Programs: []Program{
			{
				Label: "CIÊNCIA DA COMPUTAÇÃO (31001017004P0) - MESTRADO/DOUTORADO",
				Pages: []Page{
					{Rows: names("DOCENTE CC", 10)},
					{Rows: names("DOCENTE CC P2", 7), Stale: 1},
					{Rows: names("DOCENTE CC P3", 4)},
				},
			},
			{Label: "ARTES VISUAIS (31001017052P4)"},
			{
				Label:         "ENGENHARIA QUÍMICA; PROCESSOS (31001017025P7)",
				SelectorStale: 1,
				Pages:         []Page{{Rows: names("DOCENTE EQ", 5)}},
			},
		},
	}
}
