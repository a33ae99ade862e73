// pagetrans — translates page text and Markdown documents through
// rate-limited AI APIs without exceeding their quotas.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/minios-linux/pagetrans/cache"
	"github.com/minios-linux/pagetrans/config"
	"github.com/minios-linux/pagetrans/i18n"
	"github.com/minios-linux/pagetrans/langmeta"
	"github.com/minios-linux/pagetrans/lockfile"
	"github.com/minios-linux/pagetrans/settings"
	"github.com/minios-linux/pagetrans/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors. Cleared by initColors when stderr is not a terminal.
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

// stderrIsTerminal is set by initColors.
var stderrIsTerminal bool

func initColors() {
	fd := os.Stderr.Fd()
	stderrIsTerminal = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if !stderrIsTerminal || os.Getenv("NO_COLOR") != "" {
		colorReset, colorRed, colorGreen, colorYellow, colorBlue = "", "", "", "", ""
	}
}

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pagetrans",
		Short: "Translate pages and Markdown documents with rate-limited AI APIs",
		Long: `pagetrans — translate page text and Markdown documents with AI.

Every paragraph is cut into request-sized chunks, deduplicated and funneled
through one queue that respects the provider's requests-per-minute,
tokens-per-minute and requests-per-day quotas. Finished chunks are cached,
so re-running a translation only pays for what changed.

Commands:
  translate   Translate documents (from arguments or .pagetrans.yaml targets)
  status      Show effective configuration, credentials and cache usage
  auth        Manage provider API keys

AI Providers:
  google         Google AI (Gemini) — API key
  groq           Groq — API key
  ollama         Ollama local server
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")

	root.AddCommand(
		newTranslateCmd(),
		newStatusCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	initColors()
	i18n.Init("")

	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pagetrans version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// status (read-only)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show effective configuration, credentials and cache usage",
		Long: `Show the configuration pagetrans would use in this directory:
provider and model, quotas, chunking, credential state, configured targets
and the size of the translation cache. Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	file, err := config.Load(rootDir)
	if err != nil {
		return err
	}

	section := func(title string) {
		fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, title, colorReset)
		fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	}

	section(i18n.T("Configuration"))
	if file.Path != "" {
		fmt.Fprintf(os.Stderr, "  File:       %s\n", file.Path)
	} else {
		fmt.Fprintf(os.Stderr, "  File:       %s (%s)\n", config.FileName, i18n.T("not found, using defaults"))
	}
	fmt.Fprintf(os.Stderr, "  Provider:   %s\n", file.Provider)
	model := file.Model
	if model == "" {
		model = "-"
	}
	fmt.Fprintf(os.Stderr, "  Model:      %s\n", model)
	fmt.Fprintf(os.Stderr, "  Source:     %s\n", langCell(file.SourceLang, 0))
	if len(file.Languages) > 0 {
		width := langColumnWidth(file.Languages)
		cells := make([]string, len(file.Languages))
		for i, l := range file.Languages {
			cells[i] = langCell(l, width)
		}
		fmt.Fprintf(os.Stderr, "  Languages:  %s\n", strings.Join(cells, "  "))
	}
	if unknown := unknownLangs(file.Languages); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "  %sUnknown:%s    %s\n", colorYellow, colorReset, strings.Join(unknown, ", "))
	}
	fmt.Fprintf(os.Stderr, "  Interface:  %s (catalogs: %s)\n", i18n.Language(),
		strings.Join(append([]string{"en"}, i18n.Available()...), ", "))

	section(i18n.T("Limits"))
	fmt.Fprintf(os.Stderr, "  Requests/minute:  %s\n", humanize.Comma(int64(file.Limits.RPM)))
	fmt.Fprintf(os.Stderr, "  Tokens/minute:    %s\n", humanize.Comma(int64(file.Limits.TPM)))
	fmt.Fprintf(os.Stderr, "  Requests/day:     %s\n", humanize.Comma(int64(file.Limits.RPD)))
	fmt.Fprintf(os.Stderr, "  Max retries:      %d\n", max(file.Limits.MaxRetries, 0))
	fmt.Fprintf(os.Stderr, "  Chunk length:     %d–%d characters\n",
		file.Chunking.MinParagraphLength, file.Chunking.MaxParagraphLength)

	section(i18n.T("Credentials"))
	key, source := keySource(file.Provider)
	if key != "" {
		fmt.Fprintf(os.Stderr, "  %-14s %sconfigured%s (key: %s, from %s)\n",
			file.Provider, colorGreen, colorReset, settings.MaskKey(key), source)
	} else if prov := translate.DefaultProviders()[file.Provider]; prov.NeedsAPIKey() {
		fmt.Fprintf(os.Stderr, "  %-14s %snot configured%s (run 'pagetrans auth login --provider %s')\n",
			file.Provider, colorRed, colorReset, file.Provider)
	} else {
		fmt.Fprintf(os.Stderr, "  %-14s no key required\n", file.Provider)
	}

	if len(file.Targets) > 0 {
		section(i18n.T("Targets"))
		jobs, err := file.Jobs(rootDir, nil)
		if err != nil {
			logWarning("%v", err)
		}
		perTarget := make(map[string]int)
		for _, j := range jobs {
			perTarget[j.Target]++
		}
		for _, t := range file.Targets {
			fmt.Fprintf(os.Stderr, "  %-14s %s → %s (%s)\n", t.Name, t.Input,
				orDefault(t.Output, config.DefaultOutputPattern),
				i18n.Nf("%d job", "%d jobs", perTarget[t.Name], perTarget[t.Name]))
		}
	}

	if lock, err := lockfile.Load(rootDir); err != nil {
		logWarning("%v", err)
	} else if outputs, complete := lock.Stats(); outputs > 0 {
		section(i18n.T("Outputs"))
		for _, key := range lock.Keys() {
			e, _ := lock.Get(key)
			mark := colorGreen + "✓" + colorReset
			if !e.Complete() {
				mark = colorYellow + "…" + colorReset
			}
			fmt.Fprintf(os.Stderr, "  %s %s  %d/%d  %s\n", mark, key, e.Translated, e.Total,
				humanize.Time(e.UpdatedAt))
		}
		fmt.Fprintf(os.Stderr, "  %d/%d complete\n", complete, outputs)
	}

	section(i18n.T("Cache"))
	showCacheStats(file)
	fmt.Fprintln(os.Stderr)
	return nil
}

func showCacheStats(file *config.File) {
	if file.Cache.Disabled {
		fmt.Fprintf(os.Stderr, "  %s\n", i18n.T("disabled"))
		return
	}
	path, err := cachePath(file)
	if err != nil {
		logWarning("%v", err)
		return
	}
	fmt.Fprintf(os.Stderr, "  Path:       %s\n", path)
	if !fileExists(path) {
		fmt.Fprintf(os.Stderr, "  %s\n", i18n.T("empty"))
		return
	}

	c, err := cache.Open(path)
	if err != nil {
		logWarning("Cannot open cache: %v", err)
		return
	}
	defer c.Close()

	if size, err := c.Size(); err == nil {
		fmt.Fprintf(os.Stderr, "  Size:       %s\n", humanize.Bytes(uint64(size)))
	}
	langs, err := c.Languages()
	if err != nil {
		logWarning("Reading cache: %v", err)
		return
	}
	width := langColumnWidth(langs)
	for _, l := range langs {
		n, err := c.Count(l)
		if err != nil {
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s  %s\n", langCell(l, width),
			i18n.Nf("%s segment", "%s segments", n, humanize.Comma(int64(n))))
	}
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage API keys for the translation providers.

Keys are stored in $XDG_DATA_HOME/pagetrans/auth.json (mode 0600).
The PAGETRANS_API_KEY environment variable and the provider's own variable
(GOOGLE_API_KEY, GROQ_API_KEY, OPENAI_API_KEY) take precedence over stored keys.

Examples:
  pagetrans auth login --provider google     Store a Google AI Studio key
  pagetrans auth logout --provider google    Remove it
  pagetrans auth logout                      Remove all credentials
  pagetrans auth list                        Show stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)
	return cmd
}

// authProviders are the providers whose keys can be stored.
var authProviders = []struct {
	id      string
	name    string
	helpURL string
}{
	{translate.ProviderGoogle, "Google AI Studio", "https://aistudio.google.com/apikey"},
	{translate.ProviderGroq, "Groq Cloud", "https://console.groq.com/keys"},
	{translate.ProviderCustomOpenAI, "Custom OpenAI", ""},
}

func newAuthLoginCmd() *cobra.Command {
	var provider, baseURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := bufio.NewScanner(os.Stdin)

			if provider == "" {
				fmt.Fprintf(os.Stderr, "\n%sSelect provider:%s\n\n", colorBlue, colorReset)
				for i, p := range authProviders {
					fmt.Fprintf(os.Stderr, "  %d. %s%-13s%s %s\n", i+1, colorYellow, p.id, colorReset, p.name)
				}
				fmt.Fprintf(os.Stderr, "\nEnter choice (number or name): ")
				if !scanner.Scan() {
					return fmt.Errorf("no input received")
				}
				choice := strings.TrimSpace(scanner.Text())
				for i, p := range authProviders {
					if choice == fmt.Sprint(i+1) || choice == p.id {
						provider = p.id
					}
				}
				if provider == "" {
					return fmt.Errorf("invalid choice %q", choice)
				}
			}
			return authLogin(scanner, provider, baseURL)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to authenticate")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint URL (custom-openai)")
	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		out := make([]string, 0, len(authProviders))
		for _, p := range authProviders {
			out = append(out, p.id+"\t"+p.name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func authLogin(scanner *bufio.Scanner, providerID, baseURL string) error {
	var name, helpURL string
	for _, p := range authProviders {
		if p.id == providerID {
			name, helpURL = p.name, p.helpURL
		}
	}
	if name == "" {
		return fmt.Errorf("unknown provider %q (choose google, groq or custom-openai)", providerID)
	}

	fmt.Fprintf(os.Stderr, "\n%s%s — API Key Setup%s\n", colorBlue, name, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if helpURL != "" {
		fmt.Fprintf(os.Stderr, "  Get your API key from: %s%s%s\n\n", colorGreen, helpURL, colorReset)
	}

	existing := settings.Get(providerID)
	if providerID == translate.ProviderCustomOpenAI && baseURL == "" {
		if existing != nil && existing.BaseURL != "" {
			fmt.Fprintf(os.Stderr, "  Endpoint [%s]: ", existing.BaseURL)
		} else {
			fmt.Fprintf(os.Stderr, "  Endpoint URL: ")
		}
		if scanner.Scan() {
			baseURL = strings.TrimSpace(scanner.Text())
		}
		if baseURL == "" && existing != nil {
			baseURL = existing.BaseURL
		}
		if baseURL == "" {
			return fmt.Errorf("custom-openai requires an endpoint URL")
		}
	}

	if existing != nil && existing.Key != "" {
		fmt.Fprintf(os.Stderr, "  Current key: %s%s%s\n", colorYellow, settings.MaskKey(existing.Key), colorReset)
		fmt.Fprintf(os.Stderr, "  Enter new key to replace, or press Enter to keep: ")
	} else {
		fmt.Fprintf(os.Stderr, "  Enter API key: ")
	}
	if !scanner.Scan() {
		return fmt.Errorf("no input received")
	}
	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		if existing == nil || existing.Key == "" {
			if providerID != translate.ProviderCustomOpenAI {
				return fmt.Errorf("no API key provided")
			}
		} else {
			key = existing.Key
		}
	}

	if err := settings.SetAPIKey(providerID, key, baseURL); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	logSuccess("%s", i18n.Tf("%s credentials saved to %s", name, settings.FilePath()))
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("%s", i18n.T("All credentials removed"))
				return nil
			}
			if settings.Get(provider) == nil {
				logInfo("No credentials stored for %s", provider)
				return nil
			}
			if err := settings.Remove(provider); err != nil {
				return err
			}
			logSuccess("%s", i18n.Tf("Credentials for %s removed", provider))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider to log out (default: all)")
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%sStored Credentials%s\n", colorBlue, colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			for _, p := range authProviders {
				entry := settings.Get(p.id)
				switch {
				case entry != nil && entry.Key != "":
					fmt.Fprintf(os.Stderr, "  %-14s %sconfigured%s (key: %s)\n", p.id, colorGreen, colorReset, settings.MaskKey(entry.Key))
				case entry != nil && entry.BaseURL != "":
					fmt.Fprintf(os.Stderr, "  %-14s %sconfigured%s (no key)\n", p.id, colorGreen, colorReset)
				default:
					fmt.Fprintf(os.Stderr, "  %-14s %snot configured%s\n", p.id, colorRed, colorReset)
				}
				if entry != nil && entry.BaseURL != "" {
					fmt.Fprintf(os.Stderr, "  %14s endpoint: %s\n", "", entry.BaseURL)
				}
				if entry != nil && !entry.SavedAt.IsZero() {
					fmt.Fprintf(os.Stderr, "  %14s saved %s\n", "", humanize.Time(entry.SavedAt))
				}
			}

			fmt.Fprintf(os.Stderr, "\n  %sEnvironment Variables%s\n", colorYellow, colorReset)
			for _, name := range []string{settings.EnvAPIKey, "GOOGLE_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"} {
				if v := os.Getenv(name); v != "" {
					fmt.Fprintf(os.Stderr, "  %-18s %s%s%s\n", name, colorGreen, settings.MaskKey(v), colorReset)
				} else {
					fmt.Fprintf(os.Stderr, "  %-18s %snot set%s\n", name, colorRed, colorReset)
				}
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// keySource returns the API key the provider would use and where it came from.
func keySource(providerID string) (string, string) {
	if v := os.Getenv(settings.EnvAPIKey); v != "" {
		return v, settings.EnvAPIKey
	}
	if name := settings.EnvVarForProvider(providerID); name != "" {
		if v := os.Getenv(name); v != "" {
			return v, name
		}
	}
	if v := settings.GetAPIKey(providerID); v != "" {
		return v, "auth.json"
	}
	return "", ""
}

func cachePath(file *config.File) (string, error) {
	if file.Cache.Path != "" {
		if filepath.IsAbs(file.Cache.Path) {
			return file.Cache.Path, nil
		}
		return filepath.Join(rootDir, file.Cache.Path), nil
	}
	return settings.CacheFilePath()
}

// fileExists returns true if the file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// splitLangs parses a comma-separated language list, dropping blanks and
// duplicates.
func splitLangs(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range strings.Split(s, ",") {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// progressBar renders a colored bar of width cells followed by the
// percentage.
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
	return color + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + colorReset +
		fmt.Sprintf(" %3d%%", percent)
}

// flagFromRegion turns a two-letter region code into its emoji flag.
func flagFromRegion(region string) string {
	if len(region) != 2 {
		return ""
	}
	region = strings.ToUpper(region)
	var b strings.Builder
	for _, r := range region {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// langFlag returns the flag for a language code, falling back to its region.
func langFlag(lang string) string {
	if m := langmeta.Resolve(lang); m.Flag != "" {
		return m.Flag
	}
	parts := strings.FieldsFunc(lang, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) < 2 {
		return ""
	}
	return flagFromRegion(parts[len(parts)-1])
}

// langColumnWidth is the widest language code in langs.
func langColumnWidth(langs []string) int {
	w := 0
	for _, l := range langs {
		w = max(w, utf8.RuneCountInString(l))
	}
	return w
}

// langCell renders "flag code" padded to width.
func langCell(lang string, width int) string {
	flag := langFlag(lang)
	if flag == "" {
		flag = "  "
	}
	return fmt.Sprintf("%s %-*s", flag, width, lang)
}
