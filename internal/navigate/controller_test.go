package navigate_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sucupira/internal/await"
	"sucupira/internal/browser"
	"sucupira/internal/browser/scripted"
	"sucupira/internal/dataset"
	"sucupira/internal/navigate"
	"sucupira/internal/normalize"
	"sucupira/internal/site"
)

// sleeps records requested settle delays without waiting.
type sleeps struct{ got []time.Duration }

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.got = append(s.got, d)
	return nil
}

func rows(prefix string, n int) [][2]string {
	out := make([][2]string, n)
	for i := range out {
		out[i] = [2]string{prefix + " " + string(rune('A'+i)), "PERMANENTE"}
	}
	return out
}

// prepared runs InstitutionSetup against s and returns a controller ready to
// walk its programs.
func prepared(t *testing.T, s scripted.Site) (*navigate.Controller, *scripted.Session, *sleeps, *bytes.Buffer) {
	t.Helper()

	sel := site.DefaultSelectors()
	sess := scripted.New(s, sel)
	sl := &sleeps{}
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	setup := navigate.InstitutionSetup{Query: "ufrj", Selectors: sel, Logger: logger, Sleep: sl.sleep}
	_, err := setup.Run(context.Background(), sess)
	require.NoError(t, err)
	sl.got = nil

	c := &navigate.Controller{
		Session:   sess,
		Selectors: sel,
		Policy:    await.Policy{Timeout: time.Second, MaxStaleRetries: 3},
		Logger:    logger,
		Sleep:     sl.sleep,
	}
	return c, sess, sl, &buf
}

func institution(programs ...scripted.Program) scripted.Site {
	return scripted.Site{
		Institutions: []string{"UNIVERSIDADE FEDERAL DO RIO DE JANEIRO (UFRJ)"},
		Programs:     programs,
	}
}

// TestRun_MultiPageWithStaleRead covers a program with three pages of 10, 7
// and 4 rows where the second page's table read is stale once: all 21 records
// are kept, in order, tagged with the program identity.
func TestRun_MultiPageWithStaleRead(t *testing.T) {
	t.Parallel()

	c, sess, sl, _ := prepared(t, institution(scripted.Program{
		Label: "MESTRADO EM CIÊNCIA DA COMPUTAÇÃO (12345678901P1)",
		Pages: []scripted.Page{
			{Rows: rows("P1", 10)},
			{Rows: rows("P2", 7), Stale: 1},
			{Rows: rows("P3", 4)},
		},
	}))

	ds := dataset.NewSession("run-1", time.Unix(0, 0))
	require.NoError(t, c.Run(context.Background(), ds))

	recs := ds.Records.All()
	require.Len(t, recs, 21)
	require.Equal(t, "P1 A", recs[0].Docente)
	require.Equal(t, "P2 A", recs[10].Docente)
	require.Equal(t, "P3 D", recs[20].Docente)
	for _, r := range recs {
		require.Equal(t, "MESTRADO EM CIÊNCIA DA COMPUTAÇÃO", r.NomeDoPrograma)
		require.Equal(t, "12345678901P1", r.CodigoDoPrograma)
	}

	require.Equal(t, dataset.Counters{ProgramsVisited: 1, PagesVisited: 3}, ds.Counters)
	require.Equal(t, []dataset.ProgramStat{{
		Index:   1,
		Label:   "MESTRADO EM CIÊNCIA DA COMPUTAÇÃO (12345678901P1)",
		Status:  dataset.ProgramOK,
		Pages:   3,
		Records: 21,
	}}, ds.Programs)

	// Three table reads plus the one that came back stale.
	require.Equal(t, 4, sess.TableReads)
	// Settle only after switching away from the first page.
	require.Equal(t, []time.Duration{navigate.DefaultSettle, navigate.DefaultSettle}, sl.got)
}

// TestRun_EmptyProgramIsSkipped covers a program whose search renders no page
// selector: it is counted as empty and the walk continues.
func TestRun_EmptyProgramIsSkipped(t *testing.T) {
	t.Parallel()

	c, _, _, logs := prepared(t, scripted.DemoSite())

	ds := dataset.NewSession("run-2", time.Unix(0, 0))
	require.NoError(t, c.Run(context.Background(), ds))

	require.Equal(t, 3, ds.Counters.ProgramsVisited)
	require.Equal(t, 1, ds.Counters.ProgramsEmpty)
	require.Equal(t, 0, ds.Counters.ProgramsFailed)
	require.Equal(t, 26, ds.Records.Len())

	require.Equal(t, dataset.ProgramEmpty, ds.Programs[1].Status)
	require.Zero(t, ds.Programs[1].Records)
	require.Contains(t, logs.String(), "program=2 status=empty rows=0")

	// The program after the empty one is still visited, despite a stale
	// page-selector read.
	last := ds.Records.All()[25]
	require.Equal(t, "ENGENHARIA QUÍMICA PROCESSOS", last.NomeDoPrograma)
	require.Equal(t, "31001017025P7", last.CodigoDoPrograma)
}

// TestRun_OnlyPlaceholderIsSetupError verifies an institution without
// programs fails validation before any program is entered.
func TestRun_OnlyPlaceholderIsSetupError(t *testing.T) {
	t.Parallel()

	c, sess, _, _ := prepared(t, institution())

	ds := dataset.NewSession("run-3", time.Unix(0, 0))
	err := c.Run(context.Background(), ds)

	var sv *navigate.SetupValidationError
	require.True(t, errors.As(err, &sv), "err=%v", err)
	require.Equal(t, 1, sv.Options)
	require.Empty(t, ds.Programs)
	require.NotContains(t, sess.Calls, "select program_select")
	require.NotContains(t, sess.Calls, "force_click search_button")
}

// TestRun_WithoutSetupIsSetupError verifies a missing program select is
// reported as a setup failure.
func TestRun_WithoutSetupIsSetupError(t *testing.T) {
	t.Parallel()

	sel := site.DefaultSelectors()
	sess := scripted.New(scripted.DemoSite(), sel)
	require.NoError(t, sess.Navigate(context.Background(), site.URL))

	c := &navigate.Controller{Session: sess, Selectors: sel}
	err := c.Run(context.Background(), dataset.NewSession("run", time.Now()))

	var sv *navigate.SetupValidationError
	require.True(t, errors.As(err, &sv))
	require.ErrorIs(t, err, browser.ErrTimeout)
}

// flakyProgramSelect times out the n-th bounded wait on the program select,
// as a slow re-render after a search would.
type flakyProgramSelect struct {
	browser.Session
	selector string
	failOn   int
	calls    int
}

func (f *flakyProgramSelect) WaitClickable(ctx context.Context, selector string, timeout time.Duration) (browser.Handle, error) {
	if selector == f.selector {
		f.calls++
		if f.calls == f.failOn {
			return browser.Handle{}, fmt.Errorf("wait_clickable program_select: %w", browser.ErrTimeout)
		}
	}
	return f.Session.WaitClickable(ctx, selector, timeout)
}

// TestRun_ProgramSelectGapFailsOnlyThatProgram verifies a program whose
// option cannot be selected is counted as failed while the walk goes on and
// keeps every record already collected.
func TestRun_ProgramSelectGapFailsOnlyThatProgram(t *testing.T) {
	t.Parallel()

	c, sess, _, logs := prepared(t, scripted.DemoSite())
	// Wait 1 reads the option count, wait 3 selects program 2.
	c.Session = &flakyProgramSelect{Session: sess, selector: c.Selectors.ProgramSelect, failOn: 3}

	ds := dataset.NewSession("run-gap", time.Unix(0, 0))
	require.NoError(t, c.Run(context.Background(), ds))

	require.Equal(t, 3, ds.Counters.ProgramsVisited)
	require.Equal(t, 1, ds.Counters.ProgramsFailed)
	require.Equal(t, 0, ds.Counters.ProgramsEmpty)
	require.Equal(t, 26, ds.Records.Len())

	require.Equal(t, dataset.ProgramFailed, ds.Programs[1].Status)
	require.Equal(t, 2, ds.Programs[1].Index)
	require.Equal(t, dataset.ProgramOK, ds.Programs[2].Status)
	require.Contains(t, logs.String(), "program=2 status=failed read=program_select")
}

// TestRun_StaleCapFailsOnlyThatProgram verifies a page selector that never
// stops racing the render fails its program and the next one is visited.
func TestRun_StaleCapFailsOnlyThatProgram(t *testing.T) {
	t.Parallel()

	c, _, _, logs := prepared(t, institution(
		scripted.Program{
			Label:         "FÍSICA (31001017004P0)",
			SelectorStale: 100,
			Pages:         []scripted.Page{{Rows: rows("F", 3)}},
		},
		scripted.Program{
			Label: "QUÍMICA (31001017005P1)",
			Pages: []scripted.Page{{Rows: rows("Q", 2)}},
		},
	))

	ds := dataset.NewSession("run-4", time.Unix(0, 0))
	require.NoError(t, c.Run(context.Background(), ds))

	require.Equal(t, 2, ds.Counters.ProgramsVisited)
	require.Equal(t, 1, ds.Counters.ProgramsFailed)
	require.Equal(t, dataset.ProgramFailed, ds.Programs[0].Status)
	require.Equal(t, 2, ds.Records.Len())
	require.Equal(t, "31001017005P1", ds.Records.All()[0].CodigoDoPrograma)
	require.Contains(t, logs.String(), "program=1 status=failed read=page_select attempts=4")
}

// TestRun_PageOutcomes verifies a table that never settles and a table that
// never renders skip only their page.
func TestRun_PageOutcomes(t *testing.T) {
	t.Parallel()

	c, _, _, _ := prepared(t, institution(scripted.Program{
		Label: "HISTÓRIA (31001017010P2)",
		Pages: []scripted.Page{
			{Rows: rows("H1", 2)},
			{Rows: rows("H2", 2), AlwaysStale: true},
			{Rows: rows("H3", 2), Missing: true},
			{Rows: rows("H4", 2)},
		},
	}))

	ds := dataset.NewSession("run-5", time.Unix(0, 0))
	require.NoError(t, c.Run(context.Background(), ds))

	require.Equal(t, dataset.Counters{
		ProgramsVisited: 1,
		PagesVisited:    4,
		PagesEmpty:      1,
		PagesFailed:     1,
	}, ds.Counters)
	require.Equal(t, dataset.ProgramOK, ds.Programs[0].Status)

	var docentes []string
	for _, r := range ds.Records.All() {
		docentes = append(docentes, r.Docente)
	}
	require.Equal(t, []string{"H1 A", "H1 B", "H4 A", "H4 B"}, docentes)
}

// TestRun_LabelWithoutCodeIsFatal verifies rows that cannot be attributed to a
// program abort the run.
func TestRun_LabelWithoutCodeIsFatal(t *testing.T) {
	t.Parallel()

	c, _, _, _ := prepared(t, institution(
		// No rows: the label is never parsed.
		scripted.Program{Label: "SEM CÓDIGO VAZIO"},
		scripted.Program{
			Label: "PROGRAMA SEM CÓDIGO",
			Pages: []scripted.Page{{Rows: rows("X", 1)}},
		},
	))

	ds := dataset.NewSession("run-6", time.Unix(0, 0))
	err := c.Run(context.Background(), ds)

	var pe *normalize.ParsePatternError
	require.True(t, errors.As(err, &pe), "err=%v", err)
	require.Equal(t, "PROGRAMA SEM CÓDIGO", pe.Label)
	require.Equal(t, 0, ds.Records.Len())
	require.Equal(t, 1, ds.Counters.ProgramsEmpty)
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	c, _, _, _ := prepared(t, scripted.DemoSite())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx, dataset.NewSession("run-7", time.Unix(0, 0)))
	require.ErrorIs(t, err, context.Canceled)
}

// TestForEachProgram_SelectsInOrder verifies options 1..N-1 are visited in
// order, each with its rendered label.
func TestForEachProgram_SelectsInOrder(t *testing.T) {
	t.Parallel()

	c, _, _, _ := prepared(t, scripted.DemoSite())

	var got []navigate.ProgramSelector
	err := c.ForEachProgram(context.Background(), func(_ context.Context, ps navigate.ProgramSelector) error {
		got = append(got, ps)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, ps := range got {
		require.Equal(t, i+1, ps.Index)
		require.Equal(t, scripted.DemoSite().Programs[i].Label, ps.Label)
	}

	stop := errors.New("stop")
	calls := 0
	err = c.ForEachProgram(context.Background(), func(context.Context, navigate.ProgramSelector) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestInstitutionSetup(t *testing.T) {
	t.Parallel()

	sel := site.DefaultSelectors()

	t.Run("banner_dismissed", func(t *testing.T) {
		t.Parallel()

		sess := scripted.New(scripted.DemoSite(), sel)
		var buf bytes.Buffer
		setup := navigate.InstitutionSetup{Query: "ufrj", Selectors: sel, Logger: log.New(&buf, "", 0), Sleep: (&sleeps{}).sleep}

		name, err := setup.Run(context.Background(), sess)
		require.NoError(t, err)
		require.Equal(t, "UNIVERSIDADE FEDERAL DO RIO DE JANEIRO (UFRJ)", name)
		require.Contains(t, sess.Calls, "click cookie_button")
		require.Contains(t, buf.String(), "cookie_banner=dismissed")
	})

	t.Run("no_banner", func(t *testing.T) {
		t.Parallel()

		sess := scripted.New(institution(scripted.Program{Label: "X (31001017004P0)"}), sel)
		var buf bytes.Buffer
		setup := navigate.InstitutionSetup{Query: "ufrj", Selectors: sel, Logger: log.New(&buf, "", 0), Sleep: (&sleeps{}).sleep}

		_, err := setup.Run(context.Background(), sess)
		require.NoError(t, err)
		require.Contains(t, buf.String(), "cookie_banner=absent")
	})

	t.Run("no_match", func(t *testing.T) {
		t.Parallel()

		sess := scripted.New(scripted.Site{}, sel)
		setup := navigate.InstitutionSetup{Query: "nowhere", Selectors: sel, Sleep: (&sleeps{}).sleep}

		_, err := setup.Run(context.Background(), sess)
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), `no institution matches "nowhere"`))
		require.ErrorIs(t, err, browser.ErrTimeout)
	})
}
