package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/minios-linux/pagetrans/cache"
	"github.com/minios-linux/pagetrans/config"
	"github.com/minios-linux/pagetrans/document"
	"github.com/minios-linux/pagetrans/i18n"
	"github.com/minios-linux/pagetrans/langmeta"
	"github.com/minios-linux/pagetrans/lockfile"
	"github.com/minios-linux/pagetrans/metrics"
	"github.com/minios-linux/pagetrans/scheduler"
	"github.com/minios-linux/pagetrans/settings"
	"github.com/minios-linux/pagetrans/translate"
)

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	provider, model, apiKey, baseURL, proxy string
	timeout                                 time.Duration
	langs, output, prompt                   string
	rpm, tpm, rpd, maxRetries               int
	maxLength, minLength                    int
	noCache                                 bool
	cachePath                               string
	metricsAddr                             string
	verbose, dryRun, force                  bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate [file...]",
		Short: "Translate documents",
		Long: `Translate text or Markdown documents.

With file arguments, each file is translated into every language given by
--lang (or the languages in .pagetrans.yaml). Without arguments, the targets
configured in .pagetrans.yaml are translated.

Documents whose source, language and prompt are unchanged since the last
complete run are skipped (see .pagetrans.lock); --force translates them again.

Front matter strings, headings and paragraphs are translated; code blocks,
rules and HTML are kept as they are. Long paragraphs are cut at sentence
boundaries. Results are cached per language, so unchanged paragraphs are
never sent twice.

Examples:
  # Translate a page into Russian and German
  pagetrans translate README.md --lang ru,de --model gemini-2.5-flash

  # Write translations to i18n/<lang>/
  pagetrans translate docs/*.md --lang uk -o 'i18n/{lang}/{name}'

  # Translate the targets from .pagetrans.yaml, exposing Prometheus metrics
  pagetrans translate --metrics-addr 127.0.0.1:9464

  # Show what would be sent without calling the API
  pagetrans translate README.md --lang fr --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, args, a)
		},
	}

	// Provider selection
	cmd.Flags().StringVar(&a.provider, "provider", "", "AI provider: google, groq, ollama, custom-openai (default from config, else google)")
	cmd.Flags().StringVar(&a.model, "model", "", "Model name")
	cmd.Flags().StringVar(&a.apiKey, "api-key", "", "API key (or PAGETRANS_API_KEY env var)")
	cmd.Flags().StringVar(&a.baseURL, "base-url", "", "Custom API base URL")

	// Target selection
	cmd.Flags().StringVar(&a.langs, "lang", "", "Target languages (comma-separated)")
	cmd.Flags().StringVarP(&a.output, "output", "o", "", "Output pattern with {lang}, {name}, {stem}, {ext}, {dir}")
	cmd.Flags().StringVar(&a.prompt, "prompt", "", "Prompt type (page, markdown) or a custom system prompt with {{targetLang}}")

	// Quotas
	cmd.Flags().IntVar(&a.rpm, "rpm", 0, "Requests per minute (default 15)")
	cmd.Flags().IntVar(&a.tpm, "tpm", 0, "Tokens per minute (default 250000)")
	cmd.Flags().IntVar(&a.rpd, "rpd", 0, "Requests per day (default 1000)")
	cmd.Flags().IntVar(&a.maxRetries, "max-retries", 0, "Retries per segment before giving up (default 2, -1 disables)")

	// Chunking
	cmd.Flags().IntVar(&a.maxLength, "max-length", 0, "Maximum characters per request (default 1500)")
	cmd.Flags().IntVar(&a.minLength, "min-length", 0, "Skip paragraphs shorter than this (default 10)")

	// Cache and metrics
	cmd.Flags().BoolVar(&a.noCache, "no-cache", false, "Do not read or write the translation cache")
	cmd.Flags().StringVar(&a.cachePath, "cache", "", "Cache file (default $XDG_DATA_HOME/pagetrans/cache.db)")
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while translating")

	// Network
	cmd.Flags().DurationVar(&a.timeout, "timeout", 0, "Request timeout (0 = provider default)")
	cmd.Flags().StringVar(&a.proxy, "proxy", "", "HTTP/HTTPS proxy URL")

	cmd.Flags().BoolVar(&a.verbose, "verbose", false, "Enable detailed logging")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "Show what would be translated without calling the API")
	cmd.Flags().BoolVar(&a.force, "force", false, "Translate documents even if they are up to date, bypassing the cache")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"google\tGoogle AI (Gemini) — API key required",
			"groq\tGroq — API key required",
			"ollama\tOllama local server",
			"custom-openai\tCustom OpenAI-compatible endpoint",
		}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("model", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		p, _ := cmd.Flags().GetString("provider")
		switch p {
		case "", "google":
			return []string{"gemini-2.5-flash", "gemini-2.5-flash-lite", "gemini-2.0-flash"}, cobra.ShellCompDirectiveNoFileComp
		case "groq":
			return []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"}, cobra.ShellCompDirectiveNoFileComp
		case "ollama":
			return []string{"llama3.2", "qwen2.5", "mistral"}, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// applyFlags overrides file values with the flags the user set.
func applyFlags(cmd *cobra.Command, file *config.File, a translateArgs) {
	changed := cmd.Flags().Changed
	if changed("provider") {
		file.Provider = a.provider
	}
	if changed("model") {
		file.Model = a.model
	}
	if changed("base-url") {
		file.BaseURL = a.baseURL
	}
	if changed("proxy") {
		file.Proxy = a.proxy
	}
	if changed("lang") {
		file.Languages = splitLangs(a.langs)
	}
	if changed("prompt") {
		file.Prompt = a.prompt
	}
	if changed("rpm") {
		file.Limits.RPM = a.rpm
	}
	if changed("tpm") {
		file.Limits.TPM = a.tpm
	}
	if changed("rpd") {
		file.Limits.RPD = a.rpd
	}
	if changed("max-retries") {
		file.Limits.MaxRetries = a.maxRetries
	}
	if changed("max-length") {
		file.Chunking.MaxParagraphLength = a.maxLength
	}
	if changed("min-length") {
		file.Chunking.MinParagraphLength = a.minLength
	}
	if a.noCache {
		file.Cache.Disabled = true
	}
	if changed("cache") {
		file.Cache.Path = a.cachePath
	}
	if changed("metrics-addr") {
		file.Metrics.Addr = a.metricsAddr
	}
}

// resolveJobs expands file arguments, or the configured targets when there
// are none.
func resolveJobs(file *config.File, args []string, outputPattern string) ([]config.Job, error) {
	if len(args) == 0 {
		if len(file.Targets) == 0 {
			return nil, fmt.Errorf("nothing to translate: pass files or configure targets in %s", config.FileName)
		}
		return file.Jobs(rootDir, nil)
	}
	if len(file.Languages) == 0 {
		return nil, fmt.Errorf("no target languages: use --lang, e.g. --lang ru,de")
	}
	if outputPattern != "" && !strings.Contains(outputPattern, "{lang}") {
		return nil, fmt.Errorf("output pattern %q must contain {lang}", outputPattern)
	}

	var jobs []config.Job
	for _, in := range args {
		if !fileExists(in) {
			return nil, fmt.Errorf("%s: no such file", in)
		}
		for _, lang := range file.Languages {
			jobs = append(jobs, config.Job{
				Input:  in,
				Output: config.OutputPath(outputPattern, in, lang),
				Lang:   lang,
				Prompt: file.Prompt,
			})
		}
	}
	return jobs, nil
}

// promptFor maps a configured prompt to translate options: a known prompt
// type, a custom prompt, or a type picked from the file extension.
func promptFor(prompt, input string) (promptType, systemPrompt string) {
	switch prompt {
	case translate.PromptPage, translate.PromptMarkdown:
		return prompt, ""
	case "":
		switch strings.ToLower(filepath.Ext(input)) {
		case ".md", ".markdown", ".mdx":
			return translate.PromptMarkdown, ""
		}
		return translate.PromptPage, ""
	}
	return "", prompt
}

// resolveProvider builds the provider configuration from the effective
// settings. Unknown names are treated as custom OpenAI-compatible endpoints.
func resolveProvider(file *config.File, apiKey string, timeout time.Duration) translate.Provider {
	defaults := translate.DefaultProviders()
	prov, ok := defaults[strings.ToLower(file.Provider)]
	if !ok {
		prov = defaults[translate.ProviderCustomOpenAI]
		prov.Name = file.Provider
	}

	switch {
	case file.BaseURL != "":
		prov.BaseURL = file.BaseURL
	case prov.BaseURL == "":
		prov.BaseURL = settings.GetBaseURL(prov.ID)
	}
	prov.APIKey = settings.ResolveAPIKey(prov.ID, apiKey)
	prov.Model = file.Model
	prov.Proxy = file.Proxy
	if timeout > 0 {
		prov.Timeout = timeout
	}
	return prov
}

func runTranslate(cmd *cobra.Command, args []string, a translateArgs) error {
	file, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	applyFlags(cmd, file, a)
	if err := file.Validate(); err != nil {
		return err
	}

	jobs, err := resolveJobs(file, args, a.output)
	if err != nil {
		return err
	}
	jobLangs := make([]string, len(jobs))
	for i, j := range jobs {
		jobLangs[i] = j.Lang
	}
	for _, l := range unknownLangs(jobLangs) {
		logWarning("Unknown language code %q: it is passed to the model as is", l)
	}

	if path, err := translate.LoadPromptsFromDefaultLocations(); err != nil {
		logWarning("Using built-in prompts: %v", err)
	} else if a.verbose {
		logInfo("Prompts: %s", path)
	}

	// Fail fast on configuration before any document is touched.
	prov := resolveProvider(file, a.apiKey, a.timeout)
	var debug func(string, ...any)
	if a.verbose {
		debug = logInfo
	}
	clients := make(map[string]*translate.Client)
	for _, j := range jobs {
		key := clientKey(j)
		if _, ok := clients[key]; ok {
			continue
		}
		promptType, system := promptFor(j.Prompt, j.Input)
		c, err := translate.NewClient(prov, translate.Options{
			Language:     j.Lang,
			PromptType:   promptType,
			SystemPrompt: system,
			OnLog:        debug,
		})
		if err != nil {
			if errors.Is(err, translate.ErrConfiguration) && prov.NeedsAPIKey() && prov.APIKey == "" {
				return fmt.Errorf("%w\n\nStore a key with:\n  pagetrans auth login --provider %s\nor set %s", err, prov.ID, settings.EnvAPIKey)
			}
			return err
		}
		clients[key] = c
	}

	var store *cache.Cache
	if !file.Cache.Disabled {
		path, err := cachePath(file)
		if err != nil {
			return err
		}
		store, err = cache.Open(path)
		if err != nil {
			logWarning("Translation cache unavailable: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logWarning("%s", i18n.T("Interrupted, saving progress..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	var collector *metrics.Collector
	if file.Metrics.Addr != "" && !a.dryRun {
		collector = metrics.NewCollector()
		go func() {
			if err := collector.Serve(ctx, file.Metrics.Addr); err != nil {
				logWarning("Metrics server: %v", err)
			}
		}()
		logInfo("Metrics: http://%s/metrics", file.Metrics.Addr)
	}

	bar := newProgressLine(stderrIsTerminal && !a.verbose)
	p := newPipeline(pipelineOptions{
		Limits: scheduler.Limits{
			RPM:        file.Limits.RPM,
			TPM:        file.Limits.TPM,
			RPD:        file.Limits.RPD,
			MaxRetries: file.Limits.MaxRetries,
		},
		Chunking:   file.Chunking,
		Provider:   prov.ID,
		Cache:      store,
		Collector:  collector,
		Refresh:    a.force,
		OnProgress: bar.update,
		OnError: func(err error) {
			bar.clear()
			logWarning("%v", err)
		},
		OnLog: debug,
	})

	logInfo("Provider: %s (%s), Model: %s", prov.Name, prov.ID, prov.Model)
	lim := p.sched.Limits()
	logInfo("Limits: %d req/min, %s tokens/min, %s req/day",
		lim.RPM, humanize.Comma(int64(lim.TPM)), humanize.Comma(int64(lim.RPD)))
	if a.verbose {
		logInfo("Session: %s", p.sched.SessionID())
	}

	lock, err := lockfile.Load(rootDir)
	if err != nil {
		return err
	}
	if n := lock.Prune(); n > 0 && a.verbose {
		logInfo("Lock: dropped %d stale entries", n)
	}

	var total pageResult
	upToDate := 0
	for _, j := range jobs {
		src, err := os.ReadFile(j.Input)
		if err != nil {
			return err
		}
		variant := clients[clientKey(j)].Fingerprint()
		sum := lockfile.Checksum(src, j.Lang, variant)
		if !a.force && lock.IsCurrent(j.Output, sum) && fileExists(j.Output) {
			upToDate++
			if a.verbose {
				logInfo("%s → %s: up to date", j.Input, j.Output)
			}
			continue
		}

		doc, err := document.Parse(src)
		if err != nil {
			return fmt.Errorf("%s: %w", j.Input, err)
		}
		meta := langmeta.Resolve(j.Lang)

		if a.dryRun {
			res, tokens, err := p.estimate(doc, j.Lang, variant)
			if err != nil {
				return err
			}
			logInfo("%s → %s (%s): %s, %d cached, ~%s tokens → %s", j.Input, j.Lang, meta.Name,
				i18n.Nf("%d segment", "%d segments", res.Segments, res.Segments),
				res.Cached, humanize.Comma(int64(tokens)), j.Output)
			continue
		}

		client := clients[clientKey(j)]
		bar.start(fmt.Sprintf("%s %s", langFlag(j.Lang), j.Lang), filepath.Base(j.Input))
		res, runErr := p.run(ctx, doc, j.Lang, variant, client)
		bar.clear()

		total.Segments += res.Segments
		total.Cached += res.Cached
		total.Translated += res.Translated
		total.Failed += res.Failed
		total.Tokens += res.Tokens

		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		if err := doc.WriteFile(j.Output); err != nil {
			return err
		}
		blocks, done, pct := doc.Stats()
		lock.Record(j.Output, lockfile.Entry{
			Source:     j.Input,
			Lang:       j.Lang,
			Checksum:   sum,
			Translated: done,
			Total:      blocks - res.Skipped,
		})
		logSuccess("%s → %s (%s): %s, %.0f%%", j.Input, j.Output, meta.Name,
			i18n.Nf("%d block translated", "%d blocks translated", done, done), pct)

		if runErr != nil {
			prog := p.sched.Progress()
			logWarning("Stopped at %d/%d segments of %s (%d%%)", prog.Current, prog.Total, j.Input, prog.Percentage)
			if err := lock.Save(); err != nil {
				logWarning("%v", err)
			}
			logWarning("%s", i18n.T("Translation interrupted, partial progress saved"))
			return nil
		}
	}

	if upToDate > 0 {
		logInfo("%s", i18n.Nf("%d document up to date", "%d documents up to date", upToDate, upToDate))
	}
	if a.dryRun {
		return nil
	}
	if err := lock.Save(); err != nil {
		return err
	}
	printSummary(total)
	if total.Failed > 0 {
		return errors.New(i18n.Nf("%d segment failed", "%d segments failed", total.Failed, total.Failed))
	}
	return nil
}

// unknownLangs returns the codes langmeta has no entry for, once each, in
// the order given.
func unknownLangs(langs []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range langs {
		if seen[l] || langmeta.Known(l) {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// clientKey groups jobs that can share a translation client.
func clientKey(j config.Job) string {
	return j.Lang + "\x00" + j.Prompt + "\x00" + strings.ToLower(filepath.Ext(j.Input))
}

func printSummary(r pageResult) {
	if r.Segments == 0 {
		logInfo("%s", i18n.T("Nothing to translate"))
		return
	}
	logInfo("%s, %s, %s",
		i18n.Nf("%d segment translated", "%d segments translated", r.Translated, r.Translated),
		i18n.Nf("%d segment from cache", "%d segments from cache", r.Cached, r.Cached),
		i18n.Nf("%s token used", "%s tokens used", r.Tokens, humanize.Comma(int64(r.Tokens))))
	if r.Failed == 0 {
		logSuccess("%s", i18n.T("Translation complete!"))
	}
}

// ---------------------------------------------------------------------------
// Progress line
// ---------------------------------------------------------------------------

// progressLine redraws a single status line on a terminal and stays silent
// elsewhere.
type progressLine struct {
	enabled bool
	label   string
	file    string
	drawn   bool
}

func newProgressLine(enabled bool) *progressLine {
	return &progressLine{enabled: enabled}
}

func (l *progressLine) start(label, file string) {
	l.label, l.file = label, file
}

func (l *progressLine) update(p scheduler.Progress) {
	if !l.enabled || p.Total == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\r  %s %s %d/%d  %s", l.label, progressBar(p.Percentage, 30), p.Current, p.Total, l.file)
	l.drawn = true
}

func (l *progressLine) clear() {
	if l.drawn {
		fmt.Fprint(os.Stderr, "\r\033[K")
		l.drawn = false
	}
}
