package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sucupira/internal/await"
	"sucupira/internal/browser"
	"sucupira/internal/browser/chrome"
	"sucupira/internal/browser/scripted"
	"sucupira/internal/config"
	"sucupira/internal/dataset"
	"sucupira/internal/export"
	"sucupira/internal/navigate"
	"sucupira/internal/storage"
)

// demoQuery is typed into the scripted site when no query is configured.
const demoQuery = "universidade federal do rio de janeiro"

type scrapeFlags struct {
	demo      bool
	noSummary bool
}

func newScrapeCmd(g *globalFlags, d deps) *cobra.Command {
	sf := &scrapeFlags{}
	def := config.Defaults()

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Walk every program of the institution and export its professors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, g, sf, d)
		},
	}

	f := cmd.Flags()
	f.String("ies-query", "", "institution search text (env IES_QUERY)")
	f.String("browser", def.Browser, "browser engine: chrome or remote (env BROWSER)")
	f.Bool("headless", def.Headless, "run the browser without a window (env HEADLESS)")
	f.String("exec-path", "", "Chrome binary to launch instead of the one on PATH")
	f.String("remote-url", "", "DevTools endpoint for --browser remote")
	f.String("output-dir", def.OutputDir, "directory for the .xlsx and .csv files")
	f.Duration("timeout", def.Timeouts.Element, "bounded wait of each page read")
	f.Duration("settle", def.Timeouts.Settle, "pause after switching result page")
	f.Int("max-stale-retries", def.MaxStaleRetries, "immediate retries of a read that raced a re-render")
	f.String("storage", "", "also load records into a database: sqlite, postgres or mssql")
	f.String("storage-dsn", "", "database connection string for --storage")
	f.String("table-prefix", "", "prefix of the database tables (default sucupira_)")
	f.String("metrics", "", "metrics backend: datadog (default off)")
	f.String("metrics-tags", "", "extra metrics tags, e.g. ies:ufrj,env:prod")
	f.BoolVar(&sf.demo, "demo", false, "run against a built-in in-memory site instead of a browser")
	f.BoolVar(&sf.noSummary, "no-summary", false, "do not print the per-program summary table")
	return cmd
}

func runScrape(cmd *cobra.Command, g *globalFlags, sf *scrapeFlags, d deps) error {
	ctx := cmd.Context()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := config.Load(config.Options{ConfigFile: g.configFile, EnvFile: g.envFile, Flags: cmd.Flags()})
	if err != nil {
		return usageErr(err)
	}
	if sf.demo && cfg.IESQuery == "" {
		cfg.IESQuery = demoQuery
	}
	if err := cfg.Validate(); err != nil {
		return usageErr(err)
	}

	logger := newLogger(stderr, g.verbose)
	start := d.now()
	ds := dataset.NewSession(uuid.NewString(), start)
	logger.Printf("stage=start run_id=%s ies_query=%q demo=%t", ds.RunID, cfg.IESQuery, sf.demo)

	closeMetrics, err := initMetrics(ctx, cfg, ds.RunID, logger)
	if err != nil {
		return err
	}
	defer closeMetrics()

	sess, sleep, err := openSession(ctx, cfg, sf.demo, logger)
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Printf("stage=browser close err=%v", err)
		}
	}()

	setup := &navigate.InstitutionSetup{
		URL:       cfg.URL,
		Query:     cfg.IESQuery,
		Selectors: cfg.Selectors,
		Timeout:   cfg.Timeouts.Setup,
		Settle:    cfg.Timeouts.Settle,
		Logger:    logger,
		Sleep:     sleep,
	}
	if _, err := setup.Run(ctx, sess); err != nil {
		return err
	}

	ctrl := &navigate.Controller{
		Session:   sess,
		Selectors: cfg.Selectors,
		Policy: await.Policy{
			Timeout:         cfg.Timeouts.Element,
			MaxStaleRetries: cfg.MaxStaleRetries,
		},
		Settle: cfg.Timeouts.Settle,
		Logger: logger,
		Sleep:  sleep,
		Now:    d.now,
	}
	if err := ctrl.Run(ctx, ds); err != nil {
		// A fatal run leaves no partial files behind.
		return fmt.Errorf("run aborted after %d record(s): %w", ds.Records.Len(), err)
	}

	records := ds.Records.All()
	paths, err := export.WriteAll(cfg.OutputDir, d.now(), records)
	if err != nil {
		return err
	}

	if cfg.Storage.Kind != "" {
		if err := storeRecords(ctx, cfg.Storage, ds.RunID, records, logger); err != nil {
			return err
		}
	}

	if !sf.noSummary {
		renderSummary(stdout, ds)
	}
	for _, p := range paths {
		fmt.Fprintf(stdout, "wrote %s\n", p)
	}
	logger.Printf("stage=done run_id=%s records=%d duration=%s", ds.RunID, len(records), d.now().Sub(start).Truncate(time.Millisecond))
	return nil
}

// openSession returns the browser session and the sleep used for settle
// pauses. The in-memory site renders synchronously, so it never sleeps.
func openSession(ctx context.Context, cfg *config.Config, demo bool, logger *log.Logger) (browser.Session, func(context.Context, time.Duration) error, error) {
	if demo {
		noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		return scripted.New(scripted.DemoSite(), cfg.Selectors), noSleep, nil
	}
	sess, err := chrome.New(ctx, chrome.Options{
		Engine:        cfg.Browser,
		Headless:      cfg.Headless,
		ExecPath:      cfg.ExecPath,
		RemoteURL:     cfg.RemoteURL,
		ActionTimeout: cfg.Timeouts.Action,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, nil, nil
}

func storeRecords(ctx context.Context, sc config.Storage, runID string, records []dataset.Record, logger *log.Logger) error {
	repo, err := storage.New(ctx, storage.Config{Kind: sc.Kind, DSN: sc.DSN, TablePrefix: sc.TablePrefix})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	sink := &storage.Sink{Repo: repo, Schema: storage.NewSchema(sc.TablePrefix), Logger: logger}
	n, err := sink.Write(ctx, runID, records)
	if err != nil {
		return err
	}
	logger.Printf("stage=storage ok kind=%s run_id=%s inserted=%d", sc.Kind, runID, n)
	return nil
}

// newLogger writes key=value progress lines to w when verbose, else discards.
func newLogger(w io.Writer, verbose bool) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(w, "", log.LstdFlags)
}
