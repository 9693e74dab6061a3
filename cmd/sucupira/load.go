package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sucupira/internal/config"
	"sucupira/internal/dataset"
	"sucupira/internal/normalize"
	parsercsv "sucupira/internal/parser/csv"
)

// newLoadCmd loads a CSV written by a past scrape into the database sink.
func newLoadCmd(g *globalFlags) *cobra.Command {
	var (
		file  string
		runID string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load an exported CSV into the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{ConfigFile: g.configFile, EnvFile: g.envFile, Flags: cmd.Flags()})
			if err != nil {
				return usageErr(err)
			}
			if cfg.Storage.Kind == "" || cfg.Storage.DSN == "" {
				return usageErr(errors.New("load: --storage and --storage-dsn are required"))
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			var src io.ReadCloser = io.NopCloser(cmd.InOrStdin())
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				src = f
			}

			logger := newLogger(cmd.ErrOrStderr(), g.verbose)
			records, lineErrs, err := parsercsv.ReadAll(cmd.Context(), src, parsercsv.Options{})
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			for _, le := range lineErrs {
				logger.Printf("stage=read skipped %v", le)
			}
			if err := checkRecords(records); err != nil {
				return fmt.Errorf("load: %w", err)
			}

			if err := storeRecords(cmd.Context(), cfg.Storage, runID, records, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d record(s) as run %s (%d line(s) skipped)\n", len(records), runID, len(lineErrs))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "exported CSV to load (default: stdin)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to store the rows under (default: a new UUID)")
	cmd.Flags().String("storage", "", "database kind: sqlite, postgres or mssql")
	cmd.Flags().String("storage-dsn", "", "database connection string")
	cmd.Flags().String("table-prefix", "", "prefix of the database tables (default sucupira_)")
	return cmd
}

// checkRecords rejects rows a scrape could not have produced, so a hand-edited
// file cannot put malformed program codes into the dimension table.
func checkRecords(records []dataset.Record) error {
	for i, r := range records {
		if !normalize.ValidCode(r.CodigoDoPrograma) {
			return fmt.Errorf("record %d: invalid program code %q", i+1, r.CodigoDoPrograma)
		}
		if r.Docente == "" {
			return fmt.Errorf("record %d: empty docente", i+1)
		}
	}
	return nil
}
