package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"sucupira/internal/export"
	"sucupira/internal/extracthtml"
	"sucupira/internal/normalize"
)

// sourceFlags select the HTML input of the offline commands: a page fetched
// from --url, a file saved from the browser, or stdin.
type sourceFlags struct {
	url     string
	file    string
	timeout time.Duration
	tries   uint

	// retryDelay is the first pause between fetch attempts; it grows after.
	retryDelay time.Duration
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.url, "url", "", "fetch HTML from URL instead of stdin")
	cmd.Flags().StringVar(&s.file, "file", "", "read HTML from a file instead of stdin")
	cmd.Flags().DurationVar(&s.timeout, "timeout", 20*time.Second, "timeout for --url fetch, retries included")
	cmd.Flags().UintVar(&s.tries, "tries", 3, "attempts for --url when the server answers 5xx or the connection fails")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	s.retryDelay = 500 * time.Millisecond
}

func (s *sourceFlags) load(cmd *cobra.Command, d deps) (string, error) {
	switch {
	case strings.TrimSpace(s.url) != "":
		return s.fetch(cmd.Context(), d.httpClient)
	case strings.TrimSpace(s.file) != "":
		b, err := os.ReadFile(strings.TrimSpace(s.file))
		if err != nil {
			return "", fmt.Errorf("read page: %w", err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
}

// fetch GETs s.url, retrying connection failures and 5xx answers with a
// growing delay. A 4xx answer fails at once. The timeout covers every attempt.
func (s *sourceFlags) fetch(ctx context.Context, hc *http.Client) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	client := resty.NewWithClient(hc).
		SetHeader("User-Agent", "sucupira/1.0").
		SetRetryCount(int(max(1, s.tries))-1).
		SetRetryWaitTime(s.retryDelay).
		SetRetryMaxWaitTime(8*s.retryDelay).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	res, err := client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", s.url, err)
	}
	if !res.IsSuccess() {
		body := res.Body()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return "", fmt.Errorf("fetch %s: http status %d: %s", s.url, res.StatusCode(), strings.TrimSpace(string(body)))
	}
	return res.String(), nil
}

// newParseCmd turns one saved results table into normalized CSV, the same
// rows a scrape of that page would produce.
func newParseCmd(d deps) *cobra.Command {
	src := &sourceFlags{}
	var label string

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Normalize a saved results table into ';'-separated CSV on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if label == "" {
				return usageErr(errors.New("parse: --label is required (the program option text, e.g. \"ASTRONOMIA (31001017001P1)\")"))
			}
			html, err := src.load(cmd, d)
			if err != nil {
				return err
			}
			rows, err := extracthtml.ExtractTable(html, label)
			if err != nil {
				return err
			}
			records, err := normalize.NormalizeRows(rows, label)
			if err != nil {
				return err
			}
			return export.WriteCSV(cmd.OutOrStdout(), records)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&label, "label", "", "program label the table was listed under")
	return cmd
}

// newInspectCmd prints tables or selector matches, for re-pinning selectors
// after the site changes its markup.
func newInspectCmd(d deps) *cobra.Command {
	src := &sourceFlags{}
	opt := extracthtml.InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the tables in a saved page, or print CSS selector matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			html, err := src.load(cmd, d)
			if err != nil {
				return err
			}
			return extracthtml.Inspect(cmd.OutOrStdout(), html, opt)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&opt.Selector, "selector", "", "CSS selector to print matches for")
	cmd.Flags().BoolVar(&opt.TextOnly, "text", false, "print text instead of outer HTML for --selector matches")
	return cmd
}
