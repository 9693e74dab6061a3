// Command sucupira scrapes the professors ("docentes") of every graduate
// program of one institution from the CAPES SUCUPIRA platform and writes them
// to a spreadsheet and a ';'-separated CSV.
//
// Usage:
//
//	sucupira scrape --ies-query "universidade federal do rio de janeiro"
//	sucupira scrape --demo                      # in-memory site, no browser
//	sucupira parse --file table.html --label "ASTRONOMIA (31001017001P1)"
//	sucupira inspect --file page.html --selector "table"
//	sucupira load --file docentes_sucupira_18-10-2026_14h05.csv --storage sqlite --storage-dsn sucupira.db
//
// Settings also come from CONFIG.cfg (BROWSER, HEADLESS, IES_QUERY), an
// optional sucupira.yaml and SUCUPIRA_* variables; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	// register all backends with the storage factory.
	_ "sucupira/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// deps are the process-level collaborators commands use. Tests replace them.
type deps struct {
	now        func() time.Time
	httpClient *http.Client
}

func defaultDeps() deps {
	return deps{now: time.Now, httpClient: http.DefaultClient}
}

// exitError carries an exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: 2, err: err} }

// run is split out from main so we can unit test the command without spawning
// an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, d deps) int {
	root := newRootCmd(d)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "sucupira: %v\n", err)

	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case strings.HasPrefix(err.Error(), "unknown command"), strings.HasPrefix(err.Error(), "unknown flag"):
		return 2
	case strings.Contains(err.Error(), "none of the others can be"):
		// cobra's mutually exclusive flag groups.
		return 2
	}
	return 1
}

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configFile string
	envFile    string
	verbose    bool
}

func newRootCmd(d deps) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "sucupira",
		Short: "Extract graduate program professors from the CAPES SUCUPIRA platform",
		Long: `sucupira walks every graduate program of one institution on the SUCUPIRA
"lista docente" query page and writes one row per professor:

  docente; categoria; nomeDoPrograma; codigoDoPrograma

to a timestamped .xlsx and .csv pair, optionally loading them into a database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageErr(err) })

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default: ./sucupira.yaml if present)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "dotenv file (default: ./CONFIG.cfg if present)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable progress logs on stderr")

	root.AddCommand(
		newScrapeCmd(g, d),
		newParseCmd(d),
		newInspectCmd(d),
		newLoadCmd(g),
	)
	return root
}
