package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/minios-linux/doctrans/batch"
	"github.com/minios-linux/doctrans/mdfile"
	"github.com/minios-linux/doctrans/translate"
)

// isolate runs the test in an empty directory with an empty home so no
// stray config file or credential is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
		}
	}
	for _, env := range []string{"DEEPL_AUTH_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(env, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.Provider != "deepl" {
		t.Errorf("Provider = %q, want deepl", cfg.Provider)
	}
	if got := cfg.Limits(); got != batch.DefaultLimits {
		t.Errorf("Limits = %+v, want %+v", got, batch.DefaultLimits)
	}
	if cfg.Translate.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Translate.Concurrency)
	}
	if cfg.Translate.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 2m", cfg.Translate.Timeout)
	}
	if cfg.Policy() != translate.PolicyFallback {
		t.Errorf("Policy = %q, want fallback", cfg.Policy())
	}
	if !reflect.DeepEqual(cfg.Markdown.FrontMatterKeys, mdfile.DefaultFrontMatterKeys) {
		t.Errorf("FrontMatterKeys = %v", cfg.Markdown.FrontMatterKeys)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadYAMLFromWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "doctrans.yaml"), `
provider: openai
source_lang: en
target_lang: de
deepl:
  api_key: abc:fx
glossaries:
  en_de: gl-123
translate:
  max_units: 10
  request_delay: 250ms
  policy: abort
markdown:
  frontmatter_keys: [title]
  escape_shortcodes: true
openai:
  model: gpt-4o
  temperature: 0.2
`)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if filepath.Base(cfg.File) != "doctrans.yaml" {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.Provider != "openai" || cfg.SourceLang != "en" || cfg.TargetLang != "de" {
		t.Errorf("got provider=%q from=%q to=%q", cfg.Provider, cfg.SourceLang, cfg.TargetLang)
	}
	if cfg.DeepL.APIKey != "abc:fx" {
		t.Errorf("DeepL.APIKey = %q", cfg.DeepL.APIKey)
	}
	if got := cfg.GlossaryID("EN", "de"); got != "gl-123" {
		t.Errorf("GlossaryID = %q, want gl-123", got)
	}
	if got := cfg.GlossaryID("en", "fr"); got != "" {
		t.Errorf("GlossaryID(en, fr) = %q, want empty", got)
	}
	if got := cfg.Limits(); got.MaxUnits != 10 || got.MaxBytes != batch.DefaultLimits.MaxBytes {
		t.Errorf("Limits = %+v", got)
	}
	if cfg.Translate.RequestDelay != 250*time.Millisecond {
		t.Errorf("RequestDelay = %v", cfg.Translate.RequestDelay)
	}
	if cfg.Policy() != translate.PolicyAbort {
		t.Errorf("Policy = %q, want abort", cfg.Policy())
	}
	opts := cfg.MarkdownOptions()
	if !opts.EscapeShortcodes || !reflect.DeepEqual(opts.FrontMatterKeys, []string{"title"}) {
		t.Errorf("MarkdownOptions = %+v", opts)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("OpenAI.Model = %q", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.Temperature < 0.19 || cfg.OpenAI.Temperature > 0.21 {
		t.Errorf("OpenAI.Temperature = %v", cfg.OpenAI.Temperature)
	}
}

func TestLoadExplicitTOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	writeFile(t, path, `
target_lang = "pt-BR"

[deepl]
api_key = "key"

[glossaries]
en_pt-br = "gl-pt"

[spreadsheet]
sheets = ["Sheet1", "Notes"]
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetLang != "pt-BR" {
		t.Errorf("TargetLang = %q", cfg.TargetLang)
	}
	if got := cfg.GlossaryID("en", "pt-BR"); got != "gl-pt" {
		t.Errorf("GlossaryID = %q, want gl-pt", got)
	}
	if got := cfg.SheetOptions().Sheets; !reflect.DeepEqual(got, []string{"Sheet1", "Notes"}) {
		t.Errorf("Sheets = %v", got)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "doctrans.yaml"), "target_lang: de\ndeepl:\n  api_key: from-file\n")
	t.Setenv("DOCTRANS_TARGET_LANG", "fr")
	t.Setenv("DOCTRANS_DEEPL_API_KEY", "from-env")
	t.Setenv("DOCTRANS_TRANSLATE_CONCURRENCY", "7")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetLang != "fr" {
		t.Errorf("TargetLang = %q, want fr", cfg.TargetLang)
	}
	if cfg.APIKey("deepl") != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.APIKey("deepl"))
	}
	if cfg.Translate.Concurrency != 7 {
		t.Errorf("Concurrency = %d, want 7", cfg.Translate.Concurrency)
	}
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "doctrans.yaml"), "target_lang: de\ntranslate:\n  formality: less\n")
	t.Setenv("DOCTRANS_TARGET_LANG", "fr")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("to", "t", "", "")
	fs.String("formality", "", "")
	fs.StringSlice("sheet", nil, "")
	fs.Int("unrelated", 0, "")
	if err := fs.Parse([]string{"-t", "es", "--sheet", "A,B"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetLang != "es" {
		t.Errorf("TargetLang = %q, want es", cfg.TargetLang)
	}
	if cfg.Translate.Formality != "less" {
		t.Errorf("unchanged flag overrode file: Formality = %q", cfg.Translate.Formality)
	}
	if !reflect.DeepEqual(cfg.Spreadsheet.Sheets, []string{"A", "B"}) {
		t.Errorf("Sheets = %v", cfg.Spreadsheet.Sheets)
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Provider = "bing" }, "unknown provider"},
		{"language", func(c *Config) { c.TargetLang = "not a language" }, "language"},
		{"formality", func(c *Config) { c.Translate.Formality = "casual" }, "formality"},
		{"policy", func(c *Config) { c.Translate.Policy = "ignore" }, "policy"},
		{"limits", func(c *Config) { c.Translate.MaxBytes = 0 }, "max batch bytes"},
		{"concurrency", func(c *Config) { c.Translate.Concurrency = 0 }, "concurrency"},
		{"retries", func(c *Config) { c.Translate.Retries = 0 }, "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", nil)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestRetryPolicyAndCachePath(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Translate.Retries = 2
	if got := cfg.RetryPolicy().MaxAttempts; got != 2 {
		t.Errorf("MaxAttempts = %d, want 2", got)
	}

	path, err := cfg.CachePath()
	if err != nil {
		t.Fatalf("CachePath: %v", err)
	}
	if want := filepath.Join(dir, "cache", "doctrans", "memory.db"); path != want {
		t.Errorf("CachePath = %q, want %q", path, want)
	}

	cfg.Cache.Path = "/tmp/tm.db"
	if path, _ := cfg.CachePath(); path != "/tmp/tm.db" {
		t.Errorf("CachePath = %q, want explicit path", path)
	}
	cfg.Cache.Enabled = false
	if path, _ := cfg.CachePath(); path != "" {
		t.Errorf("CachePath = %q, want empty when disabled", path)
	}
}

func TestAPIKeyFallsBackToProviderEnv(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "gem")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.APIKey("gemini"); got != "gem" {
		t.Errorf("APIKey(gemini) = %q, want gem", got)
	}
	if got := cfg.APIKey("openai"); got != "" {
		t.Errorf("APIKey(openai) = %q, want empty", got)
	}
}
