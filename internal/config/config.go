// Package config loads run settings from, in increasing precedence: built-in
// defaults, an optional config file, the CONFIG.cfg env file, the process
// environment and command-line flags.
//
// The env file and the bare BROWSER / HEADLESS / IES_QUERY variables are the
// historical way of configuring a run and keep working; every key can also be
// set as SUCUPIRA_<KEY> (nested keys joined with "_").
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sucupira/internal/await"
	"sucupira/internal/browser/chrome"
	"sucupira/internal/navigate"
	"sucupira/internal/site"
)

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = "CONFIG.cfg"

// engineFirefox was accepted by older CONFIG.cfg files.
const engineFirefox = "firefox"

// Config is the resolved configuration of one run.
type Config struct {
	Browser   string `mapstructure:"browser"`
	Headless  bool   `mapstructure:"headless"`
	ExecPath  string `mapstructure:"exec_path"`
	RemoteURL string `mapstructure:"remote_url"`

	// IESQuery is typed into the institution search box. Load lower-cases
	// it with Portuguese rules, as runs configured through CONFIG.cfg always
	// were; the site's autocomplete ignores case.
	IESQuery string `mapstructure:"ies_query"`
	URL      string `mapstructure:"url"`

	OutputDir string `mapstructure:"output_dir"`

	Timeouts        Timeouts `mapstructure:"timeouts"`
	MaxStaleRetries int      `mapstructure:"max_stale_retries"`

	Storage Storage `mapstructure:"storage"`
	Metrics Metrics `mapstructure:"metrics"`

	Selectors site.Selectors `mapstructure:"selectors"`
}

// Timeouts bounds the waits of the navigation engine.
type Timeouts struct {
	// Element is the bounded wait of each classified read.
	Element time.Duration `mapstructure:"element"`
	// Setup bounds each wait while the institution is selected.
	Setup time.Duration `mapstructure:"setup"`
	// Settle is the pause after switching result page.
	Settle time.Duration `mapstructure:"settle"`
	// Action bounds every browser action that has no wait of its own.
	Action time.Duration `mapstructure:"action"`
}

// Storage selects the optional database sink. Empty Kind disables it.
type Storage struct {
	Kind        string `mapstructure:"kind"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// Metrics selects the optional metrics backend ("" or "datadog").
type Metrics struct {
	Backend    string        `mapstructure:"backend"`
	Tags       string        `mapstructure:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit YAML/JSON/TOML file. When empty, "sucupira.yaml"
	// is looked up in the working directory and a missing file is not an error.
	ConfigFile string

	// EnvFile is a dotenv file. Empty means DefaultEnvFile; a missing file is
	// not an error. Values never override variables already set.
	EnvFile string

	// Flags are bound by name: "ies-query" sets ies_query, and the names in
	// flagKeys reach nested keys. Only flags the user actually set override
	// lower layers.
	Flags *pflag.FlagSet
}

// legacyEnv maps keys to the unprefixed variables CONFIG.cfg has always used.
var legacyEnv = map[string]string{
	"browser":   "BROWSER",
	"headless":  "HEADLESS",
	"ies_query": "IES_QUERY",
}

// flagKeys maps flag names that do not follow the dash-to-underscore rule.
var flagKeys = map[string]string{
	"storage":        "storage.kind",
	"storage-dsn":    "storage.dsn",
	"table-prefix":   "storage.table_prefix",
	"metrics":        "metrics.backend",
	"metrics-tags":   "metrics.tags",
	"timeout":        "timeouts.element",
	"setup-timeout":  "timeouts.setup",
	"settle":         "timeouts.settle",
	"action-timeout": "timeouts.action",
}

// FlagKey returns the configuration key a flag name binds to.
func FlagKey(name string) string {
	if k, ok := flagKeys[name]; ok {
		return k
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Browser:   chrome.EngineChrome,
		Headless:  true,
		URL:       site.URL,
		OutputDir: ".",
		Timeouts: Timeouts{
			Element: await.DefaultTimeout,
			Setup:   navigate.DefaultSetupTimeout,
			Settle:  navigate.DefaultSettle,
			Action:  chrome.DefaultActionTimeout,
		},
		MaxStaleRetries: await.DefaultMaxStaleRetries,
		Metrics:         Metrics{FlushEvery: time.Minute},
		Selectors:       site.DefaultSelectors(),
	}
}

// Load resolves the configuration. It does not validate it; call Validate.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix("SUCUPIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, "SUCUPIRA_"+strings.ToUpper(key), legacy); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", legacy, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("sucupira")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(FlagKey(f.Name), f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("config: bind flag --%s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Browser = strings.ToLower(strings.TrimSpace(cfg.Browser))
	cfg.IESQuery = cases.Lower(language.BrazilianPortuguese).String(strings.TrimSpace(cfg.IESQuery))
	return &cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv and Unmarshal see it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("browser", d.Browser)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("exec_path", d.ExecPath)
	v.SetDefault("remote_url", d.RemoteURL)
	v.SetDefault("ies_query", d.IESQuery)
	v.SetDefault("url", d.URL)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("timeouts.element", d.Timeouts.Element)
	v.SetDefault("timeouts.setup", d.Timeouts.Setup)
	v.SetDefault("timeouts.settle", d.Timeouts.Settle)
	v.SetDefault("timeouts.action", d.Timeouts.Action)
	v.SetDefault("max_stale_retries", d.MaxStaleRetries)
	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.table_prefix", d.Storage.TablePrefix)
	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.tags", d.Metrics.Tags)
	v.SetDefault("metrics.flush_every", d.Metrics.FlushEvery)
	v.SetDefault("selectors.cookie_button", d.Selectors.CookieButton)
	v.SetDefault("selectors.institution_input", d.Selectors.InstitutionInput)
	v.SetDefault("selectors.institution_list", d.Selectors.InstitutionList)
	v.SetDefault("selectors.program_select", d.Selectors.ProgramSelect)
	v.SetDefault("selectors.search_button", d.Selectors.SearchButton)
	v.SetDefault("selectors.page_select", d.Selectors.PageSelect)
	v.SetDefault("selectors.result_table", d.Selectors.ResultTable)
}

// Validate reports the first setting that cannot start a scrape.
// Settings only the offline commands use are not checked.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.IESQuery) == "" {
		return errors.New("config: ies_query is required (set IES_QUERY in CONFIG.cfg or pass --ies-query)")
	}
	switch c.Browser {
	case chrome.EngineChrome:
	case engineFirefox:
		return fmt.Errorf("config: browser=firefox is no longer supported, only Chromium can be driven; "+
			"use browser=chrome, or browser=remote with a Chromium DevTools remote_url: %w", chrome.ErrUnsupportedEngine)
	case chrome.EngineRemote:
		if c.RemoteURL == "" {
			return errors.New("config: browser=remote needs remote_url")
		}
	default:
		return fmt.Errorf("config: browser %q: %w", c.Browser, chrome.ErrUnsupportedEngine)
	}
	if c.Timeouts.Element <= 0 || c.Timeouts.Setup <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.MaxStaleRetries < 0 {
		return errors.New("config: max_stale_retries must be >= 0")
	}
	switch c.Metrics.Backend {
	case "", "datadog":
	default:
		return fmt.Errorf("config: unknown metrics backend %q", c.Metrics.Backend)
	}
	if c.Storage.Kind != "" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.kind=%s needs storage.dsn", c.Storage.Kind)
	}
	return c.Selectors.Validate()
}
