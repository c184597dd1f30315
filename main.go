// doctrans translates markdown documents and spreadsheets through DeepL or an
// LLM while keeping their structure intact.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/minios-linux/doctrans/config"
	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/glossary"
	"github.com/minios-linux/doctrans/i18n"
	"github.com/minios-linux/doctrans/langmeta"
	"github.com/minios-linux/doctrans/llm"
	"github.com/minios-linux/doctrans/lockfile"
	"github.com/minios-linux/doctrans/mdfile"
	"github.com/minios-linux/doctrans/settings"
	"github.com/minios-linux/doctrans/sheetfile"
	"github.com/minios-linux/doctrans/tmcache"
	"github.com/minios-linux/doctrans/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+i18n.T(format)+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+i18n.T(format)+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+i18n.T(format)+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+i18n.T(format)+"\n", args...)
}

// errFailed is returned by commands that already reported their failure.
var errFailed = errors.New("failed")

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	cfgFile string
	verbose bool
	apiKey  string
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doctrans",
		Short: "Structure-preserving translation of markdown and spreadsheets",
		Long: `doctrans translates markdown documents and .xlsx workbooks through DeepL
or an LLM. Inline formatting, links, code, tables and spreadsheet rich text
survive the round trip: only the words change.

Commands:
  translate   Translate a file or a directory
  glossary    Manage DeepL glossaries
  usage       Show DeepL character usage
  auth        Manage stored API keys
  cache       Inspect the translation memory

Providers:
  deepl       DeepL API (default; free keys end in ":fx")
  openai      OpenAI or any OpenAI-compatible endpoint
  gemini      Google Gemini API

Configuration is read from doctrans.yaml or doctrans.toml in the current
directory or $HOME, and from DOCTRANS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: doctrans.{yaml,toml} in . or $HOME)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable detailed logging")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the selected provider")
	root.PersistentFlags().String("provider", "", "Translation provider: deepl, openai, gemini")
	root.PersistentFlags().String("proxy", "", "HTTP/HTTPS proxy URL")
	_ = root.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"deepl\tDeepL API",
			"openai\tOpenAI-compatible chat completions",
			"gemini\tGoogle Gemini API",
		}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newTranslateCmd(),
		newGlossaryCmd(),
		newUsageCmd(),
		newAuthCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			logError("%v", err)
		}
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.File != "" && verbose {
		logInfo("Using config file: %s", cfg.File)
	}
	return cfg, nil
}

// newLogger returns the structured logger for library code: everything at
// debug level with --verbose, warnings and errors otherwise.
func newLogger() *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.DisableStacktrace = true
		l, err = zc.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// signalContext is cancelled on the first interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("doctrans version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	output  string
	model   string
	dryRun  bool
	noCache bool
	force   bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate <input> [output]",
		Short: "Translate a markdown file, a workbook or a directory",
		Long: `Translate a markdown (.md, .markdown) file, an .xlsx workbook, or every such
file below a directory.

A single file is written to [output], or next to the input with the target
language inserted before the extension (guide.md -> guide.de.md). A
directory is mirrored into the output directory; unchanged files are skipped
on later runs using doctrans.lock in the output directory.

Examples:
  doctrans translate -f en -t de README.md README.de.md
  doctrans translate -t fr --formality more docs/ docs-fr/
  doctrans translate -t pt-BR --provider openai --model gpt-4o notes.md
  doctrans translate -t de --sheet Sheet1 catalog.xlsx catalog-de.xlsx
  doctrans translate -t ja --dry-run docs/ out/`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				if a.output != "" {
					return fmt.Errorf("output given twice: %s and -o %s", args[1], a.output)
				}
				a.output = args[1]
			}
			return runTranslate(cmd, args[0], a)
		},
	}

	cmd.Flags().StringP("from", "f", "", "Source language (default: detected by the service)")
	cmd.Flags().StringP("to", "t", "", "Target language (required), e.g. de, pt-BR")
	cmd.Flags().StringVarP(&a.output, "output", "o", "", "Output file or directory")
	cmd.Flags().String("formality", "", "DeepL formality: "+strings.Join(deepl.Formalities, ", "))
	cmd.Flags().String("policy", "", "Unusable translations: fallback (keep original text) or abort")
	cmd.Flags().String("context", "", "Extra context sent with every request")
	cmd.Flags().Int("concurrency", 0, "Maximum requests in flight")
	cmd.Flags().Int("retries", 0, "Attempts per request on transient errors")
	cmd.Flags().StringSlice("sheet", nil, "Only translate these sheets (workbooks)")
	cmd.Flags().String("cache-path", "", "Translation memory database")
	cmd.Flags().StringVar(&a.model, "model", "", "Model name (openai, gemini)")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "Encode and batch without calling the service")
	cmd.Flags().BoolVar(&a.noCache, "no-cache", false, "Do not use the translation memory")
	cmd.Flags().BoolVar(&a.force, "force", false, "Translate files even if doctrans.lock says they are unchanged")

	_ = cmd.RegisterFlagCompletionFunc("formality", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return deepl.Formalities, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("policy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{string(translate.PolicyFallback), string(translate.PolicyAbort)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// job is one document to translate.
type job struct {
	src string
	dst string
	rel string // path relative to the input directory
}

// documentKind returns "markdown", "workbook" or "".
func documentKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".xlsx":
		return "workbook"
	}
	return ""
}

// defaultOutput inserts the language before the extension.
func defaultOutput(path, lang string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + lang + ext
}

// collectJobs lists the documents below dir, mirrored into out.
func collectJobs(dir, out string) ([]job, error) {
	var jobs []job
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if abs, _ := filepath.Abs(path); abs == out {
				return filepath.SkipDir
			}
			return nil
		}
		if documentKind(path) == "" || strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{src: path, dst: filepath.Join(out, rel), rel: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].rel < jobs[j].rel })
	return jobs, nil
}

func runTranslate(cmd *cobra.Command, input string, a translateArgs) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.TargetLang == "" {
		return errors.New(i18n.T("no target language: use -t/--to or set target_lang in the config"))
	}
	target := langmeta.Canonical(cfg.TargetLang)

	info, err := os.Stat(input)
	if err != nil {
		return err
	}

	var (
		jobs []job
		lf   *lockfile.LockFile
	)
	if info.IsDir() {
		if a.output == "" {
			return errors.New(i18n.T("translating a directory needs an output directory"))
		}
		out, err := filepath.Abs(a.output)
		if err != nil {
			return err
		}
		if jobs, err = collectJobs(input, out); err != nil {
			return err
		}
		if len(jobs) == 0 {
			logWarning("No markdown or workbook files found in %s", input)
			return nil
		}
		if lf, err = lockfile.Load(a.output); err != nil {
			return err
		}
	} else {
		if documentKind(input) == "" {
			return fmt.Errorf(i18n.T("unsupported file type %q (want .md, .markdown or .xlsx)"), filepath.Ext(input))
		}
		dst := a.output
		if dst == "" {
			dst = defaultOutput(input, target)
		}
		jobs = []job{{src: input, dst: dst, rel: filepath.Base(input)}}
	}

	log := newLogger()
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	var tr gateway.Translator
	closeTranslator := func() {}
	if !a.dryRun {
		tr, closeTranslator, err = buildTranslator(ctx, cfg, a, log)
		if err != nil {
			return err
		}
	}
	defer closeTranslator()

	opts, err := pipelineOptions(cfg, a, log)
	if err != nil {
		return err
	}
	pipeline := translate.New(tr, opts)

	meta := langmeta.Resolve(target)
	logInfo("Provider: %s", cfg.Provider)
	logInfo("Target: %s %s (%s)", meta.Flag, meta.Code, meta.Name)
	if opts.GlossaryID != "" {
		logInfo("Glossary: %s", opts.GlossaryID)
	}
	if a.dryRun {
		logInfo("Dry run: the service will not be called")
	}

	if lf != nil {
		if lf.UseSettings(target, lockfile.SettingsHash(cfg.Provider, cfg.SourceLang, cfg.Translate.Formality, opts.GlossaryID, cfg.Translate.Context, a.model)) {
			logInfo("Translation settings changed, re-translating all files")
		}
		rels := make([]string, len(jobs))
		for i, j := range jobs {
			rels[i] = j.rel
		}
		if n := lf.Clean(target, rels); n > 0 && verbose {
			logInfo(i18n.N("Forgot %d removed file", "Forgot %d removed files", n), n)
		}
	}

	var reports []*translate.Report
	skipped := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		source, err := os.ReadFile(j.src)
		if err != nil {
			reports = append(reports, &translate.Report{Document: j.rel, Status: translate.StatusFailed, Err: err})
			continue
		}
		if lf != nil && !a.force && !a.dryRun && !lf.IsChanged(target, j.rel, source) && fileExists(j.dst) {
			skipped++
			if verbose {
				logInfo("%s: unchanged, skipped", j.rel)
			}
			continue
		}

		rep := translateDocument(ctx, pipeline, cfg, j, a.dryRun)
		reports = append(reports, rep)
		printReport(rep, a.dryRun)

		if lf != nil && !a.dryRun {
			if rep.Status == translate.StatusSuccess {
				lf.Update(target, j.rel, source)
			} else {
				lf.Forget(target, j.rel)
			}
		}
		if rep.Err != nil && translate.IsFatal(rep.Err) && ctx.Err() == nil {
			logError("Stopping, the remaining files were not sent: %v", rep.Err)
			break
		}
	}

	if lf != nil && !a.dryRun {
		if err := lf.Save(); err != nil {
			logWarning("Could not save %s: %v", lf.Path(), err)
		}
	}

	if len(jobs) > 1 {
		printSummary(reports, skipped)
	}
	if ctx.Err() != nil {
		logWarning("Interrupted")
		return errFailed
	}
	for _, rep := range reports {
		if rep.Status != translate.StatusSuccess {
			return errFailed
		}
	}
	return nil
}

// buildTranslator assembles backend, retries and translation memory. The
// returned function releases them.
func buildTranslator(ctx context.Context, cfg *config.Config, a translateArgs, log *zap.Logger) (gateway.Translator, func(), error) {
	backend, err := newBackend(ctx, cfg, a.model, log)
	if err != nil {
		return nil, nil, err
	}
	var tr gateway.Translator = gateway.NewRetrying(backend, cfg.RetryPolicy(), gateway.WithLogger(log))

	closer := func() {}
	if a.noCache {
		return tr, closer, nil
	}
	path, err := cfg.CachePath()
	if err != nil || path == "" {
		if err != nil {
			logWarning("Translation memory disabled: %v", err)
		}
		return tr, closer, nil
	}
	cache, err := tmcache.Open(path, tmcache.WithLogger(log))
	if err != nil {
		logWarning("Translation memory disabled: %v", err)
		return tr, closer, nil
	}
	return cache.Wrap(tr, cacheNamespace(cfg, a.model)), func() { _ = cache.Close() }, nil
}

// cacheNamespace separates memories of different engines.
func cacheNamespace(cfg *config.Config, model string) string {
	switch cfg.Provider {
	case "openai":
		return "openai:" + firstNonEmpty(model, cfg.OpenAI.Model)
	case "gemini":
		return "gemini:" + firstNonEmpty(model, cfg.Gemini.Model, llm.DefaultGeminiModel)
	}
	return cfg.Provider
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// providerKey returns the key for provider: --api-key first, then the
// config, the environment and the credential store.
func providerKey(cfg *config.Config, provider string) string {
	if apiKey != "" {
		return apiKey
	}
	return cfg.APIKey(provider)
}

func newBackend(ctx context.Context, cfg *config.Config, model string, log *zap.Logger) (gateway.Translator, error) {
	key := providerKey(cfg, cfg.Provider)
	switch cfg.Provider {
	case "deepl":
		return newDeepL(cfg, log)
	case "openai":
		if key == "" && cfg.BaseURL("openai") == "" {
			return nil, missingKey("openai")
		}
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL("openai"),
			Model:        firstNonEmpty(model, cfg.OpenAI.Model),
			Proxy:        cfg.Proxy,
			Timeout:      cfg.Translate.Timeout,
			SystemPrompt: cfg.OpenAI.Prompt,
			Temperature:  cfg.OpenAI.Temperature,
			Logger:       log.Named("openai"),
		})
	case "gemini":
		if key == "" {
			return nil, missingKey("gemini")
		}
		return llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL("gemini"),
			Model:        firstNonEmpty(model, cfg.Gemini.Model),
			Proxy:        cfg.Proxy,
			Timeout:      cfg.Translate.Timeout,
			SystemPrompt: cfg.Gemini.Prompt,
			Temperature:  cfg.Gemini.Temperature,
			Logger:       log.Named("gemini"),
		})
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newDeepL(cfg *config.Config, log *zap.Logger) (*deepl.Client, error) {
	key := providerKey(cfg, "deepl")
	if key == "" {
		return nil, missingKey("deepl")
	}
	return deepl.New(deepl.Config{
		APIKey:  key,
		BaseURL: cfg.BaseURL("deepl"),
		Proxy:   cfg.Proxy,
		Timeout: cfg.Translate.Timeout,
		Logger:  log.Named("deepl"),
	})
}

func missingKey(provider string) error {
	return fmt.Errorf(i18n.T("no API key for %s: use --api-key, %s, DOCTRANS_%s_API_KEY or 'doctrans auth set %s'"),
		provider, settings.EnvVarForProvider(provider), strings.ToUpper(provider), provider)
}

// pipelineOptions maps the config to pipeline options. DeepL wants its own
// language codes; the LLM backends take BCP 47 tags.
func pipelineOptions(cfg *config.Config, a translateArgs, log *zap.Logger) (translate.Options, error) {
	source := langmeta.Canonical(cfg.SourceLang)
	target := langmeta.Canonical(cfg.TargetLang)
	if cfg.Provider == "deepl" {
		var err error
		if source, err = langmeta.DeepLSource(cfg.SourceLang); err != nil {
			return translate.Options{}, err
		}
		if target, err = langmeta.DeepLTarget(cfg.TargetLang); err != nil {
			return translate.Options{}, err
		}
	}

	opts := translate.Options{
		SourceLang:    source,
		TargetLang:    target,
		Formality:     cfg.Translate.Formality,
		GlossaryID:    cfg.GlossaryID(cfg.SourceLang, cfg.TargetLang),
		Context:       cfg.Translate.Context,
		Limits:        cfg.Limits(),
		MaxConcurrent: cfg.Translate.Concurrency,
		RequestDelay:  cfg.Translate.RequestDelay,
		Policy:        cfg.Policy(),
		DryRun:        a.dryRun,
		Logger:        log,
	}
	if opts.GlossaryID != "" && cfg.Provider != "deepl" {
		logWarning("Glossaries only apply to DeepL, ignoring %s", opts.GlossaryID)
		opts.GlossaryID = ""
	}
	if verbose {
		opts.OnProgress = func(doc string, done, total int) {
			logInfo("  %s: %d/%d", doc, done, total)
		}
	}
	return opts, nil
}

// translateDocument runs one job and writes its output unless the run
// failed.
func translateDocument(ctx context.Context, p *translate.Pipeline, cfg *config.Config, j job, dryRun bool) *translate.Report {
	failed := func(err error) *translate.Report {
		return &translate.Report{Document: j.rel, Status: translate.StatusFailed, Err: err}
	}

	switch documentKind(j.src) {
	case "markdown":
		f, err := mdfile.ParseFile(j.src, cfg.MarkdownOptions())
		if err != nil {
			return failed(err)
		}
		rep := p.Translate(ctx, j.rel, f)
		if rep.Status == translate.StatusFailed || dryRun {
			return rep
		}
		if err := f.WriteFile(j.dst); err != nil {
			return failed(err)
		}
		return rep

	case "workbook":
		f, err := sheetfile.Open(j.src, cfg.SheetOptions())
		if err != nil {
			return failed(err)
		}
		defer f.Close()
		rep := p.Translate(ctx, j.rel, f)
		if rep.Status == translate.StatusFailed || dryRun {
			return rep
		}
		if err := os.MkdirAll(filepath.Dir(j.dst), 0755); err != nil {
			return failed(err)
		}
		if err := f.SaveAs(j.dst); err != nil {
			return failed(err)
		}
		return rep
	}
	return failed(fmt.Errorf("unsupported file type %q", filepath.Ext(j.src)))
}

func printReport(rep *translate.Report, dryRun bool) {
	switch {
	case dryRun && rep.Status != translate.StatusFailed:
		logInfo("%s: %d units (%d without text) in %d batches", rep.Document, rep.Units, rep.Opaque, rep.Batches)
		for _, fb := range rep.Fallbacks {
			logWarning("  unit %d (%s): %v", fb.UnitID, fb.Location, fb.Reason)
		}
	case rep.Status == translate.StatusSuccess:
		logSuccess("%s: %d units translated in %s", rep.Document, rep.Translated, rep.Elapsed.Round(time.Millisecond))
	case rep.Status == translate.StatusPartial:
		logWarning("%s: %d units translated, %d kept their original text", rep.Document, rep.Translated, len(rep.Fallbacks))
		for _, fb := range rep.Fallbacks {
			logWarning("  unit %d (%s): %v", fb.UnitID, fb.Location, fb.Reason)
		}
	default:
		logError("%s: %v", rep.Document, rep.Err)
	}
}

// printSummary prints one line per document with the share of units that
// were translated.
func printSummary(reports []*translate.Report, skipped int) {
	if len(reports) == 0 {
		logSuccess(i18n.N("%d file is up to date", "All %d files are up to date", skipped), skipped)
		return
	}
	width := 0
	for _, r := range reports {
		width = max(width, len(r.Document))
	}
	fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Summary"), colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", width+24))
	var ok, partial, failed int
	for _, r := range reports {
		switch r.Status {
		case translate.StatusSuccess:
			ok++
		case translate.StatusPartial:
			partial++
		default:
			failed++
		}
		fmt.Fprintf(os.Stderr, "  %-*s %s\n", width, r.Document, progressBar(coverage(r), 10))
	}
	fmt.Fprintln(os.Stderr)
	logInfo("%d translated, %d partial, %d failed, %d unchanged", ok, partial, failed, skipped)
}

// coverage is the percentage of translatable units that were translated.
func coverage(r *translate.Report) int {
	if r.Status == translate.StatusFailed {
		return 0
	}
	n := r.Units - r.Opaque
	if n <= 0 {
		return 100
	}
	return r.Translated * 100 / n
}

// progressBar renders percent as a colored bar followed by the number.
func progressBar(percent, width int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * width / 100
	color := colorRed
	switch {
	case percent >= 100:
		color = colorGreen
	case percent >= 50:
		color = colorYellow
	}
	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + colorReset + fmt.Sprintf(" %3d%%", percent)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// glossary
// ---------------------------------------------------------------------------

func newGlossaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage DeepL glossaries",
		Long: `Register, list and delete DeepL glossaries.

A glossary file is a TSV file or an .xlsx workbook whose first row names the
languages of its columns (en, de, ...). After registering, put the printed
id under glossaries in the config file; translate then sends it with every
request for that language pair.`,
	}
	cmd.AddCommand(newGlossaryRegisterCmd(), newGlossaryListCmd(), newGlossaryDeleteCmd())
	return cmd
}

func newGlossaryRegisterCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register <file>",
		Short: "Upload a glossary from a TSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.SourceLang == "" || cfg.TargetLang == "" {
				return errors.New(i18n.T("a glossary needs both -f/--from and -t/--to"))
			}
			entries, err := glossary.Read(args[0], cfg.SourceLang, cfg.TargetLang)
			if err != nil {
				return err
			}
			// Glossaries are defined per base language.
			from, err := langmeta.DeepLSource(cfg.SourceLang)
			if err != nil {
				return err
			}
			to, err := langmeta.DeepLSource(cfg.TargetLang)
			if err != nil {
				return err
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			client, err := newDeepL(cfg, newLogger())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			g, err := client.RegisterGlossary(ctx, name, from, to, entries)
			if err != nil {
				return err
			}
			logSuccess("Glossary %q registered with %d entries", g.Name, g.EntryCount)
			fmt.Printf("%s\n", g.ID)
			fmt.Fprintf(os.Stderr, "\n  %s\n    glossaries:\n      %s: %s\n\n",
				i18n.T("Add to doctrans.yaml:"), langmeta.GlossaryKey(cfg.SourceLang, cfg.TargetLang), g.ID)
			return nil
		},
	}
	cmd.Flags().StringP("from", "f", "", "Source language column")
	cmd.Flags().StringP("to", "t", "", "Target language column")
	cmd.Flags().StringVar(&name, "name", "", "Glossary name (default: file name)")
	return cmd
}

func newGlossaryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the glossaries of the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newDeepL(cfg, newLogger())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			list, err := client.ListGlossaries(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				logInfo("No glossaries")
				return nil
			}

			configured := make(map[string]string, len(cfg.Glossaries))
			for pair, id := range cfg.Glossaries {
				configured[id] = pair
			}
			for _, g := range list {
				state := colorGreen + "ready" + colorReset
				if !g.Ready {
					state = colorYellow + "pending" + colorReset
				}
				fmt.Printf("%s  %s -> %s  %5d  %s  %s", g.ID, g.SourceLang, g.TargetLang, g.EntryCount, state, g.Name)
				if pair, ok := configured[g.ID]; ok {
					fmt.Printf("  (%s)", pair)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newGlossaryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete glossaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newDeepL(cfg, newLogger())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			failed := false
			for _, id := range args {
				if err := client.DeleteGlossary(ctx, id); err != nil {
					logError("%v", err)
					failed = true
					continue
				}
				logSuccess("Glossary %s deleted", id)
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// usage
// ---------------------------------------------------------------------------

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show DeepL character usage for the billing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newDeepL(cfg, newLogger())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			u, err := client.Usage(ctx)
			if err != nil {
				return err
			}
			if u.CharacterLimit <= 0 {
				fmt.Printf("%d %s\n", u.CharacterCount, i18n.T("characters used"))
				return nil
			}
			pct := int(u.CharacterCount * 100 / u.CharacterLimit)
			fmt.Printf("%d / %d %s (%d%%)\n", u.CharacterCount, u.CharacterLimit, i18n.T("characters used"), pct)
			if pct >= 90 {
				logWarning("Less than 10%% of the character quota left")
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored API keys",
		Long: `Manage the API keys stored in ` + settings.FilePath() + `.

Keys are looked up in this order: --api-key, DOCTRANS_<PROVIDER>_API_KEY or
the config file, the provider's own environment variable (DEEPL_AUTH_KEY,
OPENAI_API_KEY, GEMINI_API_KEY), then the stored key.

Examples:
  doctrans auth set deepl                  Prompt for the DeepL key
  doctrans auth set openai --base-url http://localhost:11434/v1
  doctrans auth remove openai              Remove the OpenAI key
  doctrans auth remove                     Remove all keys
  doctrans auth list                       Show stored keys`,
	}
	cmd.AddCommand(newAuthSetCmd(), newAuthRemoveCmd(), newAuthListCmd())
	return cmd
}

// keyHelp points to where a provider's keys are issued.
var keyHelp = map[string]string{
	"deepl":  "https://www.deepl.com/your-account/keys",
	"openai": "https://platform.openai.com/api-keys",
	"gemini": "https://aistudio.google.com/apikey",
}

func newAuthSetCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:       "set <provider> [key]",
		Short:     "Store an API key",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: settings.Providers,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if !settings.ValidProvider(provider) {
				return fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), provider, strings.Join(settings.Providers, ", "))
			}
			var key string
			if len(args) == 2 {
				key = args[1]
			} else {
				var err error
				if key, err = promptKey(provider); err != nil {
					return err
				}
			}
			if key == "" {
				existing := settings.Get(provider)
				if existing == nil {
					return errors.New(i18n.T("no API key provided"))
				}
				logInfo("Keeping existing key")
				return nil
			}
			if err := settings.SetAPIKey(provider, key, baseURL); err != nil {
				return err
			}
			logSuccess("%s API key saved", provider)
			if provider == "deepl" && strings.HasSuffix(key, ":fx") {
				logInfo("Free plan key: requests go to %s", deepl.FreeBaseURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint override stored with the key")
	return cmd
}

func promptKey(provider string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, provider, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if url := keyHelp[provider]; url != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n\n", i18n.T("Get your API key from:"), colorGreen, url, colorReset)
	}
	if existing := settings.GetAPIKey(provider); existing != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n", i18n.T("Current key:"), colorYellow, settings.MaskKey(existing), colorReset)
		fmt.Fprintf(os.Stderr, "  %s ", i18n.T("Enter new key to replace, or press Enter to keep:"))
	} else {
		fmt.Fprintf(os.Stderr, "  %s ", i18n.T("Enter API key:"))
	}

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New(i18n.T("no input received"))
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func newAuthRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "remove [provider]",
		Aliases:   []string{"rm", "logout"},
		Short:     "Remove stored keys (all when no provider is given)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: settings.Providers,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("All stored credentials removed")
				return nil
			}
			provider := args[0]
			if !settings.ValidProvider(provider) {
				return fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), provider, strings.Join(settings.Providers, ", "))
			}
			if err := settings.Remove(provider); err != nil {
				return err
			}
			logSuccess("%s credentials removed", provider)
			return nil
		},
	}
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials and environment keys",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Stored Credentials"), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			store := settings.Load()
			for _, p := range settings.Providers {
				entry := store[p]
				if entry == nil || entry.Key == "" {
					fmt.Fprintf(os.Stderr, "  %-8s %s%s%s\n", p, colorRed, i18n.T("not configured"), colorReset)
					continue
				}
				status := fmt.Sprintf("%s%s%s (key: %s)", colorGreen, i18n.T("configured"), colorReset, settings.MaskKey(entry.Key))
				if entry.BaseURL != "" {
					status += fmt.Sprintf("\n  %8s endpoint: %s", "", entry.BaseURL)
				}
				fmt.Fprintf(os.Stderr, "  %-8s %s\n", p, status)
			}

			fmt.Fprintf(os.Stderr, "\n  %s%s%s\n", colorYellow, i18n.T("Environment Variables"), colorReset)
			for _, p := range settings.Providers {
				for _, env := range []string{settings.EnvVarForProvider(p), config.EnvPrefix + "_" + strings.ToUpper(p) + "_API_KEY"} {
					if v := os.Getenv(env); v != "" {
						fmt.Fprintf(os.Stderr, "  %s: %s%s%s\n", env, colorGreen, settings.MaskKey(v), colorReset)
					}
				}
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the translation memory",
	}
	cmd.PersistentFlags().String("cache-path", "", "Translation memory database")
	cmd.AddCommand(newCacheStatsCmd(), newCachePruneCmd())
	return cmd
}

func openCache(cmd *cobra.Command) (*tmcache.Cache, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Cache.Enabled = true
	path, err := cfg.CachePath()
	if err != nil {
		return nil, err
	}
	if !fileExists(path) {
		return nil, fmt.Errorf(i18n.T("no translation memory at %s"), path)
	}
	return tmcache.Open(path, tmcache.WithLogger(newLogger()))
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of stored translations and cache hits",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			s, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d\n%s: %d\n", i18n.T("entries"), s.Entries, i18n.T("hits"), s.Hits)
			return nil
		},
	}
}

func newCachePruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete translations not used recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New(i18n.T("--older-than must be positive"))
			}
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			logSuccess("Removed %d entries", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Remove entries unused for this long")
	return cmd
}
