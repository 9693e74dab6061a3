package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"sucupira/internal/browser/chrome"
	"sucupira/internal/site"
)

// These tests touch the process environment and working directory, so none
// of them run in parallel.

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// unsetAfter removes variables godotenv may have set during the test.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, had := os.LookupEnv(k)
		require.False(t, had, "%s must not be set when running config tests", k)
		t.Cleanup(func() { _ = os.Unsetenv(k) })
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	d := Defaults()
	require.Equal(t, chrome.EngineChrome, cfg.Browser)
	require.True(t, cfg.Headless)
	require.Equal(t, site.URL, cfg.URL)
	require.Equal(t, d.Timeouts, cfg.Timeouts)
	require.Equal(t, 20, cfg.MaxStaleRetries)
	require.Equal(t, site.DefaultSelectors(), cfg.Selectors)
	require.Empty(t, cfg.Storage.Kind)
}

// TestLoad_EnvFile verifies the historical CONFIG.cfg keys, with the browser
// name and the institution query case-folded the way they always were.
func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetAfter(t, "BROWSER", "HEADLESS", "IES_QUERY")
	writeFile(t, dir, DefaultEnvFile, "BROWSER=Chrome\nHEADLESS=False\nIES_QUERY= FUNDAÇÃO Universidade Federal do ABC \n")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.Equal(t, "chrome", cfg.Browser)
	require.False(t, cfg.Headless)
	require.Equal(t, "fundação universidade federal do abc", cfg.IESQuery)
	require.NoError(t, cfg.Validate())
}

// TestLoad_Precedence verifies env file < process env < flags, and that
// the prefixed variable wins over the legacy one.
func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetAfter(t, "HEADLESS")
	t.Setenv("IES_QUERY", "from env")
	t.Setenv("SUCUPIRA_BROWSER", "remote")
	t.Setenv("BROWSER", "chrome")
	t.Setenv("SUCUPIRA_STORAGE_KIND", "sqlite")
	t.Setenv("SUCUPIRA_TIMEOUTS_SETTLE", "250ms")
	env := writeFile(t, dir, "custom.cfg", "IES_QUERY=from file\nHEADLESS=false\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("ies-query", "", "")
	fs.String("storage-dsn", "", "")
	fs.String("output-dir", "", "")
	require.NoError(t, fs.Parse([]string{"--ies-query", "from flag", "--storage-dsn", "file:x.db"}))

	cfg, err := Load(Options{EnvFile: env, Flags: fs})
	require.NoError(t, err)
	require.Equal(t, "from flag", cfg.IESQuery)
	require.Equal(t, "remote", cfg.Browser)
	require.False(t, cfg.Headless)
	require.Equal(t, "sqlite", cfg.Storage.Kind)
	require.Equal(t, "file:x.db", cfg.Storage.DSN)
	require.Equal(t, 250*time.Millisecond, cfg.Timeouts.Settle)
	// An unset flag does not shadow the default.
	require.Equal(t, ".", cfg.OutputDir)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, "sucupira.yaml", `
ies_query: ufrj
max_stale_retries: 5
metrics:
  backend: datadog
  tags: ies:ufrj
selectors:
  page_select: //select[@id="paginas"]
`)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.Equal(t, "ufrj", cfg.IESQuery)
	require.Equal(t, 5, cfg.MaxStaleRetries)
	require.Equal(t, "datadog", cfg.Metrics.Backend)
	require.Equal(t, time.Minute, cfg.Metrics.FlushEvery)
	require.Equal(t, `//select[@id="paginas"]`, cfg.Selectors.PageSelect)
	require.Equal(t, site.DefaultSelectors().ResultTable, cfg.Selectors.ResultTable)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(Options{ConfigFile: "nope.yaml"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Defaults()
		c.IESQuery = "ufrj"
		return &c
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no query", func(c *Config) { c.IESQuery = " " }, "ies_query"},
		{"firefox", func(c *Config) { c.Browser = "firefox" }, "unsupported"},
		{"remote without url", func(c *Config) { c.Browser = chrome.EngineRemote }, "remote_url"},
		{"zero timeout", func(c *Config) { c.Timeouts.Element = 0 }, "timeouts"},
		{"negative stale", func(c *Config) { c.MaxStaleRetries = -1 }, "max_stale_retries"},
		{"metrics backend", func(c *Config) { c.Metrics.Backend = "statsd" }, "statsd"},
		{"storage dsn", func(c *Config) { c.Storage.Kind = "sqlite" }, "storage.dsn"},
		{"selector", func(c *Config) { c.Selectors.ResultTable = "" }, "result_table"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			require.ErrorContains(t, c.Validate(), tc.want)
		})
	}
}

// TestValidate_Firefox verifies an old CONFIG.cfg naming firefox gets an
// error that points at the engines still available.
func TestValidate_Firefox(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetAfter(t, "BROWSER", "IES_QUERY")
	writeFile(t, dir, DefaultEnvFile, "BROWSER=Firefox\nIES_QUERY=ufrj\n")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.Equal(t, "firefox", cfg.Browser)

	err = cfg.Validate()
	require.ErrorIs(t, err, chrome.ErrUnsupportedEngine)
	require.ErrorContains(t, err, "browser=firefox is no longer supported")
	require.ErrorContains(t, err, "browser=remote")
}

func TestFlagKey(t *testing.T) {
	require.Equal(t, "ies_query", FlagKey("ies-query"))
	require.Equal(t, "storage.kind", FlagKey("storage"))
	require.Equal(t, "timeouts.settle", FlagKey("settle"))
}
