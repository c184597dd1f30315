// Package config loads doctrans settings from a config file, the
// environment and command-line flags.
//
// Sources, highest priority first:
//  1. Flags bound with Load
//  2. DOCTRANS_* environment variables (DOCTRANS_DEEPL_API_KEY, ...)
//  3. doctrans.yaml or doctrans.toml in the current directory or $HOME
//  4. Defaults
//
// API keys missing from all of these are looked up in the settings
// credential store by APIKey.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/minios-linux/doctrans/batch"
	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/langmeta"
	"github.com/minios-linux/doctrans/mdfile"
	"github.com/minios-linux/doctrans/settings"
	"github.com/minios-linux/doctrans/sheetfile"
	"github.com/minios-linux/doctrans/translate"
)

// ConfigName is the config file name without extension.
const ConfigName = "doctrans"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DOCTRANS"

// Providers selectable with the provider key.
var Providers = []string{"deepl", "openai", "gemini"}

// Config is the merged configuration.
type Config struct {
	Provider   string `mapstructure:"provider"`
	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`
	// Proxy is an optional HTTP/HTTPS proxy URL for every backend.
	Proxy string `mapstructure:"proxy"`

	DeepL  DeepL   `mapstructure:"deepl"`
	OpenAI Backend `mapstructure:"openai"`
	Gemini Backend `mapstructure:"gemini"`

	// Glossaries maps a language pair ("en_de") to a DeepL glossary id.
	Glossaries map[string]string `mapstructure:"glossaries"`

	Translate   Translate   `mapstructure:"translate"`
	Cache       Cache       `mapstructure:"cache"`
	Markdown    Markdown    `mapstructure:"markdown"`
	Spreadsheet Spreadsheet `mapstructure:"spreadsheet"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// DeepL holds the DeepL account settings.
type DeepL struct {
	APIKey string `mapstructure:"api_key"`
	// Endpoint overrides the free/pro endpoint chosen from the key.
	Endpoint string `mapstructure:"endpoint"`
}

// Backend holds the settings of an LLM backend.
type Backend struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Prompt      string  `mapstructure:"prompt"`
	Temperature float32 `mapstructure:"temperature"`
}

// Translate holds the pipeline settings.
type Translate struct {
	MaxBytes     int           `mapstructure:"max_bytes"`
	MaxUnits     int           `mapstructure:"max_units"`
	Concurrency  int           `mapstructure:"concurrency"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	Retries      int           `mapstructure:"retries"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Formality    string        `mapstructure:"formality"`
	Policy       string        `mapstructure:"policy"`
	// Context is sent with every request to steer the translation.
	Context string `mapstructure:"context"`
}

// Cache holds the translation memory settings.
type Cache struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to settings.CachePath.
	Path string `mapstructure:"path"`
}

// Markdown holds the markdown adapter settings.
type Markdown struct {
	FrontMatterKeys  []string `mapstructure:"frontmatter_keys"`
	EscapeShortcodes bool     `mapstructure:"escape_shortcodes"`
}

// Spreadsheet holds the workbook adapter settings.
type Spreadsheet struct {
	Sheets []string `mapstructure:"sheets"`
}

// FlagKeys maps command-line flag names to config keys. Flags missing from
// the set passed to Load are skipped.
var FlagKeys = map[string]string{
	"provider":    "provider",
	"from":        "source_lang",
	"to":          "target_lang",
	"proxy":       "proxy",
	"formality":   "translate.formality",
	"policy":      "translate.policy",
	"concurrency": "translate.concurrency",
	"retries":     "translate.retries",
	"context":     "translate.context",
	"sheet":       "spreadsheet.sheets",
	"cache-path":  "cache.path",
}

func setDefaults(v *viper.Viper) {
	policy := gateway.DefaultRetryPolicy()
	v.SetDefault("provider", "deepl")
	v.SetDefault("source_lang", "")
	v.SetDefault("target_lang", "")
	v.SetDefault("proxy", "")
	for _, p := range Providers {
		v.SetDefault(p+".api_key", "")
	}
	v.SetDefault("deepl.endpoint", "")
	for _, p := range []string{"openai", "gemini"} {
		v.SetDefault(p+".base_url", "")
		v.SetDefault(p+".model", "")
		v.SetDefault(p+".prompt", "")
		v.SetDefault(p+".temperature", 0.0)
	}
	v.SetDefault("glossaries", map[string]string{})
	v.SetDefault("translate.max_bytes", batch.DefaultLimits.MaxBytes)
	v.SetDefault("translate.max_units", batch.DefaultLimits.MaxUnits)
	v.SetDefault("translate.concurrency", 3)
	v.SetDefault("translate.request_delay", time.Duration(0))
	v.SetDefault("translate.retries", policy.MaxAttempts)
	v.SetDefault("translate.timeout", 120*time.Second)
	v.SetDefault("translate.formality", "")
	v.SetDefault("translate.policy", string(translate.PolicyFallback))
	v.SetDefault("translate.context", "")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "")
	v.SetDefault("markdown.frontmatter_keys", mdfile.DefaultFrontMatterKeys)
	v.SetDefault("markdown.escape_shortcodes", false)
	v.SetDefault("spreadsheet.sheets", []string{})
}

// Load reads the configuration. path names an explicit config file; when
// empty, doctrans.{yaml,toml} is searched in "." and $HOME and a missing
// file is not an error. Flags in flags that the user changed override every
// other source.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}

// Validate checks values that do not depend on the command being run.
func (c *Config) Validate() error {
	if !slices.Contains(Providers, c.Provider) {
		return fmt.Errorf("unknown provider %q (valid: %s)", c.Provider, strings.Join(Providers, ", "))
	}
	for _, lang := range []string{c.SourceLang, c.TargetLang} {
		if lang == "" {
			continue
		}
		if _, err := langmeta.Parse(lang); err != nil {
			return fmt.Errorf("language %q: %w", lang, err)
		}
	}
	if f := c.Translate.Formality; f != "" && !deepl.ValidFormality(f) {
		return fmt.Errorf("invalid formality %q (valid: %s)", f, strings.Join(deepl.Formalities, ", "))
	}
	if _, err := translate.ParsePolicy(c.Translate.Policy); err != nil {
		return err
	}
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.Translate.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Translate.Concurrency)
	}
	if c.Translate.Retries < 1 {
		return fmt.Errorf("retries must be >= 1, got %d", c.Translate.Retries)
	}
	return nil
}

// Limits returns the batch limits.
func (c *Config) Limits() batch.Limits {
	return batch.Limits{MaxBytes: c.Translate.MaxBytes, MaxUnits: c.Translate.MaxUnits}
}

// RetryPolicy returns the gateway retry policy with the configured number
// of attempts.
func (c *Config) RetryPolicy() gateway.RetryPolicy {
	p := gateway.DefaultRetryPolicy()
	p.MaxAttempts = c.Translate.Retries
	return p
}

// Policy returns the malformed-response policy. Call Validate first.
func (c *Config) Policy() translate.Policy {
	p, err := translate.ParsePolicy(c.Translate.Policy)
	if err != nil {
		return translate.PolicyFallback
	}
	return p
}

// GlossaryID returns the glossary configured for a language pair, or "".
func (c *Config) GlossaryID(from, to string) string {
	if from == "" || to == "" {
		return ""
	}
	return c.Glossaries[langmeta.GlossaryKey(from, to)]
}

// MarkdownOptions returns the markdown adapter options.
func (c *Config) MarkdownOptions() mdfile.Options {
	return mdfile.Options{
		FrontMatterKeys:  c.Markdown.FrontMatterKeys,
		EscapeShortcodes: c.Markdown.EscapeShortcodes,
	}
}

// SheetOptions returns the workbook adapter options.
func (c *Config) SheetOptions() sheetfile.Options {
	return sheetfile.Options{Sheets: c.Spreadsheet.Sheets}
}

// CachePath returns the translation memory path, or "" when the cache is
// disabled.
func (c *Config) CachePath() (string, error) {
	if !c.Cache.Enabled {
		return "", nil
	}
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	return settings.CachePath()
}

// APIKey returns the key for provider from the config, the provider's own
// environment variable or the credential store.
func (c *Config) APIKey(provider string) string {
	var explicit string
	switch provider {
	case "deepl":
		explicit = c.DeepL.APIKey
	case "openai":
		explicit = c.OpenAI.APIKey
	case "gemini":
		explicit = c.Gemini.APIKey
	}
	return settings.ResolveAPIKey(provider, explicit)
}

// BaseURL returns the endpoint override for provider, falling back to the
// one stored with its credentials.
func (c *Config) BaseURL(provider string) string {
	var u string
	switch provider {
	case "deepl":
		u = c.DeepL.Endpoint
	case "openai":
		u = c.OpenAI.BaseURL
	case "gemini":
		u = c.Gemini.BaseURL
	}
	if u != "" {
		return u
	}
	return settings.GetBaseURL(provider)
}
