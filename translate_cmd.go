package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mclokit/mclokit/config"
	"github.com/mclokit/mclokit/i18n"
	"github.com/mclokit/mclokit/langfile"
	"github.com/mclokit/mclokit/langmeta"
	"github.com/mclokit/mclokit/settings"
	"github.com/mclokit/mclokit/translate"
)

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	input       string
	output      string
	source      string
	target      string
	apiBase     string
	apiKey      string
	model       string
	proxy       string
	prompt      string
	promptName  string
	maxTokens   int
	temperature float64
	parallel    int
	timeout     time.Duration
	retries     int
	noCache     bool
	dryRun      bool
	verbose     bool

	// changed records which flags were set explicitly.
	changed map[string]bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate mod language files",
		Long: `Translate every assets/<modid>/lang/<source>.json under --input into the
target locale and write the results under --output as a resource pack.

Keys that already have a translation (shipped by the mod or written by an
earlier run into --output) are kept. The rest are looked up in the
translation cache and sent to the model in token-bounded batches.

Examples:
  mclokit translate --input ./mods-unpacked --output ./pack
  mclokit translate --input . --output ./pack --target de_de --parallel 5
  mclokit translate --input . --output ./pack --no-cache --retries 2
  mclokit translate --input . --output ./pack --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.changed = make(map[string]bool)
			cmd.Flags().Visit(func(f *pflag.Flag) { a.changed[f.Name] = true })
			return runTranslate(cmd.Context(), a)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&a.input, "input", "i", ".", "Resource root containing assets/<modid>/lang")
	f.StringVarP(&a.output, "output", "o", "", "Output resource pack directory (required)")
	f.StringVar(&a.source, "source", "", "Source locale (default en_us)")
	f.StringVarP(&a.target, "target", "t", "", "Target locale (default zh_cn)")
	f.StringVar(&a.apiBase, "api-base", "", "OpenAI-compatible API base URL")
	f.StringVar(&a.apiKey, "api-key", "", "API key (overrides MCLOKIT_API_KEY and stored credentials)")
	f.StringVarP(&a.model, "model", "m", "", "Model name")
	f.StringVar(&a.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	f.StringVar(&a.prompt, "prompt", "", "System prompt text (overrides --prompt-name)")
	f.StringVar(&a.promptName, "prompt-name", "", "Named prompt from prompts.json")
	f.IntVar(&a.maxTokens, "max-tokens", 0, "Model token allowance per request")
	f.Float64Var(&a.temperature, "temperature", 0, "Sampling temperature (0 = provider default)")
	f.IntVarP(&a.parallel, "parallel", "p", 0, "Maximum concurrent requests")
	f.DurationVar(&a.timeout, "timeout", 0, "Per-request timeout")
	f.IntVar(&a.retries, "retries", 0, "Retries after transport errors, 5xx and 429")
	f.BoolVar(&a.noCache, "no-cache", false, "Skip cache lookups (results are still cached)")
	f.BoolVar(&a.dryRun, "dry-run", false, "Show what would be translated without calling the API")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")

	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// applyFlags overlays explicitly set flags on cfg.
func (a translateArgs) applyFlags(cfg *config.Config) {
	set := func(name string) bool { return a.changed[name] }
	if set("source") {
		cfg.Source = a.source
	}
	if set("target") {
		cfg.Target = a.target
	}
	if set("api-base") {
		cfg.APIBase = a.apiBase
	}
	if set("model") {
		cfg.Model = a.model
	}
	if set("proxy") {
		cfg.Proxy = a.proxy
	}
	if set("prompt") {
		cfg.Prompt = a.prompt
	}
	if set("prompt-name") {
		cfg.PromptName = a.promptName
	}
	if set("max-tokens") {
		cfg.MaxTokens = a.maxTokens
	}
	if set("temperature") {
		cfg.Temperature = a.temperature
	}
	if set("parallel") {
		cfg.Parallel = a.parallel
	}
	if set("timeout") {
		cfg.Timeout = a.timeout
	}
	if set("retries") {
		cfg.Retries = a.retries
	}
}

func runTranslate(ctx context.Context, a translateArgs) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	a.applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, loc := range []string{cfg.Source, cfg.Target} {
		if !langmeta.Known(loc) {
			return fmt.Errorf("%s: %q", i18n.T("unknown locale"), loc)
		}
	}
	if cfg.Path != "" && a.verbose {
		logInfo("Using configuration %s", cfg.Path)
	}

	// Collect untranslated strings

	work, err := collectPending(a.input, a.output, cfg.Source, cfg.Target)
	if err != nil {
		return err
	}
	if len(work.namespaces) == 0 {
		return fmt.Errorf("%s %s", i18n.T("no language files found for"), langfile.Path(a.input, "<modid>", cfg.Source))
	}

	meta := langmeta.Resolve(cfg.Target)
	logInfo("Target: %s %s (%s)", meta.Flag, meta.English, meta.Native)
	logInfo("Mods: %d, keys to translate: %d, already translated: %d",
		len(work.namespaces), len(work.inputs), work.existing)

	if a.dryRun {
		for _, ns := range work.namespaces {
			fmt.Printf("  %-32s %d\n", ns, work.pending[ns])
		}
		return nil
	}

	// Build the translator

	if len(work.inputs) > 0 {
		prompt, err := resolvePrompt(cfg)
		if err != nil {
			return err
		}

		key := a.apiKey
		if key == "" {
			key = cfg.APIKey
		}
		key = settings.ResolveAPIKey(profile, key)
		if key == "" {
			logWarning("No API key configured; requests are sent without authorization")
		}
		if base := settings.GetBaseURL(profile); base != "" && !a.changed["api-base"] && cfg.APIBase == config.DefaultAPIBase {
			cfg.APIBase = base
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		logDir := ""
		if cfg.AttemptLogsEnabled() {
			logDir = cfg.LogDir
			if logDir == "" {
				if logDir, err = settings.LogDir(); err != nil {
					return err
				}
			}
		}

		obs := newCLIObserver(a.verbose)
		tr, err := translate.New(st, translate.Options{
			Provider: translate.Provider{
				BaseURL: cfg.APIBase,
				APIKey:  key,
				Model:   cfg.Model,
				Proxy:   cfg.Proxy,
			},
			Language:     cfg.Target,
			LanguageName: meta.English,
			SystemPrompt: prompt,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Parallel:     cfg.Parallel,
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.Retries,
			LogDir:       logDir,
			Observer:     obs,
			Verbose:      a.verbose,
		})
		if err != nil {
			return err
		}

		// Cancel outstanding requests on Ctrl-C; finished results are kept.
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		logInfo("Model: %s, parallel: %d", cfg.Model, cfg.Parallel)
		start := time.Now()
		results, sum, err := tr.TranslateBatchSummary(ctx, work.inputs, !a.noCache)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			logWarning("Interrupted; writing %d finished translations", len(results))
		}

		work.apply(results)
		logInfo("Cache hits: %d, translated: %d, batches: %d (%d failed), took %s",
			sum.CacheHits, sum.Translated, sum.Batches, sum.FailedBatches, time.Since(start).Round(time.Millisecond))
		if sum.Unresolved > 0 {
			logWarning("%d keys left untranslated; rerun to retry them", sum.Unresolved)
		}
		if stats, err := tr.Stats(context.Background()); err == nil && a.verbose {
			logInfo("Cache: %s", stats.String())
		}
	}

	// Write the resource pack

	written, err := work.write(a.output, cfg.Target)
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("mclokit %s translations", meta.English)
	if err := langfile.WritePackMeta(a.output, desc); err != nil {
		return fmt.Errorf("writing pack.mcmeta: %w", err)
	}
	logSuccess("%s: %s", i18n.T("Translation complete"), fmt.Sprintf(i18n.N("%d file written", "%d files written", written), written))
	return nil
}

// resolvePrompt returns the explicit prompt, or the named one from the
// user's prompts.json.
func resolvePrompt(cfg config.Config) (string, error) {
	if cfg.Prompt != "" {
		return cfg.Prompt, nil
	}
	prompts, path, err := settings.LoadPrompts(map[string]string{
		config.DefaultPromptName: translate.DefaultSystemPrompt,
	})
	if err != nil {
		return "", err
	}
	p, ok := prompts[cfg.PromptName]
	if !ok {
		return "", fmt.Errorf("prompt %q not found in %s", cfg.PromptName, path)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Pending work
// ---------------------------------------------------------------------------

// pendingWork is the set of untranslated keys across every mod, plus the
// target files the results are merged into.
type pendingWork struct {
	namespaces []string
	inputs     []translate.Input
	pending    map[string]int
	targets    map[string]*langfile.File
	existing   int
}

// collectPending reads every source file under input and lists the keys
// that have no translation yet. A translation shipped with the mod wins
// over one in output; both win over a fresh one.
func collectPending(input, output, source, target string) (*pendingWork, error) {
	sources, err := langfile.Find(input, source)
	if err != nil {
		return nil, err
	}

	w := &pendingWork{
		pending: make(map[string]int),
		targets: make(map[string]*langfile.File),
	}
	for _, src := range sources {
		sf, err := langfile.ParseFile(src.Path)
		if err != nil {
			return nil, err
		}

		tf := langfile.New()
		for _, p := range []string{langfile.Path(output, src.Namespace, target), langfile.Path(input, src.Namespace, target)} {
			if !fileExists(p) {
				continue
			}
			existing, err := langfile.ParseFile(p)
			if err != nil {
				return nil, err
			}
			for _, k := range existing.Keys() {
				v, _ := existing.Get(k)
				tf.Set(k, v)
			}
		}

		w.namespaces = append(w.namespaces, src.Namespace)
		w.targets[src.Namespace] = tf
		for _, k := range sf.Keys() {
			text, _ := sf.Get(k)
			if _, done := tf.Get(k); done {
				w.existing++
				continue
			}
			if text == "" {
				tf.Set(k, "")
				continue
			}
			w.inputs = append(w.inputs, translate.Input{Namespace: src.Namespace, Key: k, Text: text})
			w.pending[src.Namespace]++
		}
	}
	return w, nil
}

// apply merges translation results into the target files.
func (w *pendingWork) apply(results []translate.Result) {
	for _, r := range results {
		if tf, ok := w.targets[r.Namespace]; ok {
			tf.Set(r.Key, r.Translation)
		}
	}
}

// write saves every non-empty target file under output and reports how
// many were written.
func (w *pendingWork) write(output, target string) (int, error) {
	n := 0
	for _, ns := range w.namespaces {
		tf := w.targets[ns]
		if tf.Len() == 0 {
			continue
		}
		if err := tf.WriteFile(langfile.Path(output, ns, target)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Progress output
// ---------------------------------------------------------------------------

// cliObserver prints translation progress to stderr.
type cliObserver struct {
	translate.NopObserver

	verbose bool

	mu    sync.Mutex
	total int
	done  int
}

func newCLIObserver(verbose bool) *cliObserver {
	return &cliObserver{verbose: verbose}
}

func (o *cliObserver) CacheProbed(hits, misses int) {
	logInfo("Cache: %d hits, %d misses", hits, misses)
}

func (o *cliObserver) CacheReadFailed(ns, key string, err error) {
	logWarning("Cache lookup failed for %s:%s: %v", ns, key, err)
}

func (o *cliObserver) BatchesPlanned(batches, items int) {
	o.mu.Lock()
	o.total = batches
	o.mu.Unlock()
	logInfo("Planned %d batches for %d strings", batches, items)
}

func (o *cliObserver) BatchStarted(batch, items, tokens int) {
	if o.verbose {
		logInfo("Batch %d: %d strings, ~%d tokens", batch, items, tokens)
	}
}

func (o *cliObserver) BatchFinished(batch, resolved, unresolved int) {
	o.mu.Lock()
	o.done++
	done, total := o.done, o.total
	o.mu.Unlock()
	if unresolved > 0 {
		logWarning("[%d/%d] batch %d: %d translated, %d unresolved", done, total, batch, resolved, unresolved)
		return
	}
	logInfo("[%d/%d] batch %d: %d translated", done, total, batch, resolved)
}

func (o *cliObserver) BatchFailed(batch, items int, err error) {
	o.mu.Lock()
	o.done++
	done, total := o.done, o.total
	o.mu.Unlock()
	logError("[%d/%d] batch %d (%d strings) failed: %v", done, total, batch, items, err)
}

func (o *cliObserver) Mismatch(batch int, m translate.Mismatch) {
	logWarning("Batch %d: %s", batch, m.String())
}

func (o *cliObserver) Retrying(attempt int, wait time.Duration, err error) {
	logWarning("Retry %d in %s: %v", attempt, wait.Round(time.Millisecond), err)
}

func (o *cliObserver) CacheWriteFailed(ns, key string, err error) {
	logWarning("Caching %s:%s failed: %v", ns, key, err)
}

func (o *cliObserver) AttemptLogFailed(err error) {
	if o.verbose {
		logWarning("Attempt log: %v", err)
	}
}
