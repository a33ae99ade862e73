package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minios-linux/pagetrans/cache"
	"github.com/minios-linux/pagetrans/config"
	"github.com/minios-linux/pagetrans/document"
	"github.com/minios-linux/pagetrans/scheduler"
	"github.com/minios-linux/pagetrans/translate"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    colorRed + "░░░░" + colorReset + "   0%",
		},
		{
			name:    "mid range uses yellow",
			percent: 50,
			width:   4,
			want:    colorYellow + "██░░" + colorReset + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    colorGreen + "████" + colorReset + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFlagFromRegion(t *testing.T) {
	if got := flagFromRegion("us"); got != "🇺🇸" {
		t.Fatalf("flagFromRegion(us) = %q, want %q", got, "🇺🇸")
	}
	if got := flagFromRegion("USA"); got != "" {
		t.Fatalf("flagFromRegion(USA) = %q, want empty", got)
	}
	if got := flagFromRegion("1A"); got != "" {
		t.Fatalf("flagFromRegion(1A) = %q, want empty", got)
	}
}

func TestLangHelpers(t *testing.T) {
	if got := langFlag("zz-BR"); got != "🇧🇷" {
		t.Fatalf("langFlag(zz-BR) = %q, want %q", got, "🇧🇷")
	}
	if got := langFlag("invalid"); got != "" {
		t.Fatalf("langFlag(invalid) = %q, want empty", got)
	}

	langs := []string{"en", "pt-BR", "zh-Hant"}
	if got := langColumnWidth(langs); got != len("zh-Hant") {
		t.Fatalf("langColumnWidth() = %d, want %d", got, len("zh-Hant"))
	}

	cell := langCell("zz-BR", 6)
	if !strings.Contains(cell, "🇧🇷") || !strings.Contains(cell, "zz-BR ") {
		t.Fatalf("langCell() = %q, want flag and padded language code", cell)
	}
}

func TestSplitLangs(t *testing.T) {
	want := []string{"ru", "de", "pt-BR"}
	if got := splitLangs(" ru, de,,ru , pt-BR"); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitLangs() = %#v, want %#v", got, want)
	}
	if got := splitLangs(""); got != nil {
		t.Fatalf("splitLangs(empty) = %#v, want nil", got)
	}
}

func TestUnknownLangs(t *testing.T) {
	got := unknownLangs([]string{"ru", "xx", "pt-BR", "xx", "qq-ZZ"})
	if want := []string{"xx", "qq-ZZ"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("unknownLangs() = %#v, want %#v", got, want)
	}
	if got := unknownLangs([]string{"en", "de"}); got != nil {
		t.Fatalf("unknownLangs(known) = %#v, want nil", got)
	}
}

func TestPromptFor(t *testing.T) {
	tests := []struct {
		prompt, input      string
		wantType, wantText string
	}{
		{"", "docs/guide.md", translate.PromptMarkdown, ""},
		{"", "page.txt", translate.PromptPage, ""},
		{"page", "README.md", translate.PromptPage, ""},
		{"Translate into {{targetLang}} like a pirate.", "a.txt", "", "Translate into {{targetLang}} like a pirate."},
	}
	for _, tc := range tests {
		gotType, gotText := promptFor(tc.prompt, tc.input)
		if gotType != tc.wantType || gotText != tc.wantText {
			t.Errorf("promptFor(%q, %q) = (%q, %q), want (%q, %q)",
				tc.prompt, tc.input, gotType, gotText, tc.wantType, tc.wantText)
		}
	}
}

func TestResolveProvider(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("PAGETRANS_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "env-groq-key")

	file := config.Default()
	file.Provider = "groq"
	file.Model = "llama-3.3-70b-versatile"
	prov := resolveProvider(file, "", 10*time.Second)
	if prov.ID != translate.ProviderGroq || prov.APIKey != "env-groq-key" || prov.Timeout != 10*time.Second {
		t.Fatalf("unexpected provider: %+v", prov)
	}
	if prov.BaseURL != "https://api.groq.com/openai/v1" {
		t.Fatalf("BaseURL = %q", prov.BaseURL)
	}

	file.Provider = "my-endpoint"
	file.BaseURL = "http://localhost:8080/v1"
	prov = resolveProvider(file, "flag-key", 0)
	if prov.ID != translate.ProviderCustomOpenAI || prov.Name != "my-endpoint" || prov.APIKey != "flag-key" {
		t.Fatalf("unknown providers should map to custom-openai: %+v", prov)
	}
	if prov.BaseURL != "http://localhost:8080/v1" {
		t.Fatalf("BaseURL = %q", prov.BaseURL)
	}
}

func TestResolveJobsFromArgs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.md")
	if err := os.WriteFile(in, []byte("Hello there, world.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	file := config.Default()
	if _, err := resolveJobs(file, []string{in}, ""); err == nil {
		t.Fatal("expected error without languages")
	}

	file.Languages = []string{"ru", "de"}
	if _, err := resolveJobs(file, []string{in}, "out.md"); err == nil {
		t.Fatal("expected error for output pattern without {lang}")
	}
	if _, err := resolveJobs(file, []string{filepath.Join(dir, "missing.md")}, ""); err == nil {
		t.Fatal("expected error for missing input")
	}

	jobs, err := resolveJobs(file, []string{in}, "")
	if err != nil {
		t.Fatalf("resolveJobs: %v", err)
	}
	want := []config.Job{
		{Input: in, Output: filepath.Join(dir, "page.ru.md"), Lang: "ru"},
		{Input: in, Output: filepath.Join(dir, "page.de.md"), Lang: "de"},
	}
	if !reflect.DeepEqual(jobs, want) {
		t.Fatalf("resolveJobs() = %#v, want %#v", jobs, want)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("ok"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if !fileExists(filePath) {
		t.Fatalf("fileExists(file) = false, want true")
	}
	if fileExists(dir) {
		t.Fatalf("fileExists(directory) = true, want false")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Fatalf("fileExists(missing) = true, want false")
	}
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// stepClock jumps forward on every After call so waits cost no real time.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	t := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- t
	return ch
}

// upperTranslator "translates" by upper-casing and records each call.
type upperTranslator struct {
	clock *stepClock
	fail  func(text string) error

	mu    sync.Mutex
	texts []string
	times []time.Time
}

func (u *upperTranslator) Translate(_ context.Context, text string) (translate.Result, error) {
	u.mu.Lock()
	u.texts = append(u.texts, text)
	u.times = append(u.times, u.clock.Now())
	u.mu.Unlock()
	if u.fail != nil {
		if err := u.fail(text); err != nil {
			return translate.Result{}, err
		}
	}
	return translate.Result{Success: true, TranslatedText: strings.ToUpper(text), TokensUsed: 10, Provider: "fake"}, nil
}

func (u *upperTranslator) calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.texts...)
}

const page = `# Welcome to the site

Hello there, this is the first paragraph.

` + "```\nmake install\n```" + `

Hello there, this is the first paragraph.

Ok

The last paragraph closes the page.
`

func newTestPipeline(t *testing.T, limits scheduler.Limits, c *cache.Cache) (*pipeline, *stepClock, *[]error) {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	var errs []error
	p := newPipeline(pipelineOptions{
		Limits:   limits,
		Chunking: config.Chunking{MaxParagraphLength: 1500, MinParagraphLength: 10},
		Provider: "fake",
		Cache:    c,
		Clock:    clock,
		OnError:  func(err error) { errs = append(errs, err) },
	})
	return p, clock, &errs
}

func parsePage(t *testing.T, src string) *document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestPipelineTranslatesDocument(t *testing.T) {
	p, clock, errs := newTestPipeline(t, scheduler.Limits{RPM: 600}, nil)
	tr := &upperTranslator{clock: clock}
	doc := parsePage(t, page)

	res, err := p.run(context.Background(), doc, "de", "", tr)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The duplicate paragraph is sent once; "Ok" is too short; code is kept.
	wantCalls := []string{
		"Welcome to the site",
		"Hello there, this is the first paragraph.",
		"The last paragraph closes the page.",
	}
	if got := tr.calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Fatalf("calls = %#v, want %#v", got, wantCalls)
	}
	if res.Segments != 4 || res.Translated != 4 || res.Skipped != 1 || res.Failed != 0 || res.Tokens != 30 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(*errs) != 0 {
		t.Fatalf("unexpected errors: %v", *errs)
	}

	out, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# WELCOME TO THE SITE\n",
		"HELLO THERE, THIS IS THE FIRST PARAGRAPH.\n\n```\nmake install\n```\n\nHELLO THERE, THIS IS THE FIRST PARAGRAPH.\n\nOk\n\nTHE LAST PARAGRAPH CLOSES THE PAGE.\n",
	} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestPipelineHeadingsFirst(t *testing.T) {
	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 600}, nil)
	tr := &upperTranslator{clock: clock}
	doc := parsePage(t, "An opening paragraph of text.\n\n## A later heading\n\nClosing paragraph of text.\n")

	if _, err := p.run(context.Background(), doc, "fr", "", tr); err != nil {
		t.Fatal(err)
	}
	want := []string{"A later heading", "An opening paragraph of text.", "Closing paragraph of text."}
	if got := tr.calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %#v, want %#v", got, want)
	}
}

func TestPipelineUsesCache(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Put("de", "", "Hello there, this is the first paragraph.", "Hallo, das ist der erste Absatz.", "google"); err != nil {
		t.Fatal(err)
	}

	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 600}, c)
	tr := &upperTranslator{clock: clock}
	doc := parsePage(t, page)

	res, err := p.run(context.Background(), doc, "de", "", tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached != 2 || res.Translated != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, text := range tr.calls() {
		if strings.HasPrefix(text, "Hello there") {
			t.Fatalf("cached paragraph was sent again")
		}
	}
	if !strings.Contains(doc.Block(1).Render(), "Hallo, das ist") {
		t.Fatalf("cached translation not applied: %q", doc.Block(1).Render())
	}

	e, ok, err := c.Get("de", "", "The last paragraph closes the page.")
	if err != nil || !ok || e.Translation != "THE LAST PARAGRAPH CLOSES THE PAGE." || e.Provider != "fake" {
		t.Fatalf("new translation not cached: %+v ok=%v err=%v", e, ok, err)
	}
	if _, ok, _ := c.Get("fr", "", "The last paragraph closes the page."); ok {
		t.Fatalf("translation cached under the wrong language")
	}
}

func TestPipelineCacheScopedByVariant(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 600}, c)
	first := &upperTranslator{clock: clock}
	if _, err := p.run(context.Background(), parsePage(t, page), "de", "model-a", first); err != nil {
		t.Fatal(err)
	}
	if len(first.calls()) != 3 {
		t.Fatalf("first run calls = %#v", first.calls())
	}

	// Same variant: everything comes from the cache.
	again := &upperTranslator{clock: clock}
	res, err := p.run(context.Background(), parsePage(t, page), "de", "model-a", again)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.calls()) != 0 || res.Cached != 4 {
		t.Fatalf("same variant: calls = %#v, result %+v", again.calls(), res)
	}

	// A different prompt or model must not reuse those translations.
	other := &upperTranslator{clock: clock}
	res, err = p.run(context.Background(), parsePage(t, page), "de", "model-b", other)
	if err != nil {
		t.Fatal(err)
	}
	if len(other.calls()) != 3 || res.Cached != 0 {
		t.Fatalf("new variant: calls = %#v, result %+v", other.calls(), res)
	}
}

func TestPipelineRefreshSkipsCacheReads(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	const para = "The last paragraph closes the page."
	if err := c.Put("de", "v1", para, "Der letzte Absatz.", "google"); err != nil {
		t.Fatal(err)
	}

	clock := &stepClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	p := newPipeline(pipelineOptions{
		Limits:   scheduler.Limits{RPM: 600},
		Chunking: config.Chunking{MaxParagraphLength: 1500, MinParagraphLength: 10},
		Provider: "fake",
		Cache:    c,
		Clock:    clock,
		Refresh:  true,
	})
	tr := &upperTranslator{clock: clock}
	res, err := p.run(context.Background(), parsePage(t, page), "de", "v1", tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached != 0 || len(tr.calls()) != 3 {
		t.Fatalf("refresh served from cache: calls = %#v, result %+v", tr.calls(), res)
	}

	e, ok, err := c.Get("de", "v1", para)
	if err != nil || !ok || e.Translation != strings.ToUpper(para) {
		t.Fatalf("refreshed translation not stored: %+v ok=%v err=%v", e, ok, err)
	}
}

func TestPipelineCountsFailures(t *testing.T) {
	p, clock, errs := newTestPipeline(t, scheduler.Limits{RPM: 600, MaxRetries: -1}, nil)
	tr := &upperTranslator{clock: clock, fail: func(text string) error {
		if strings.HasPrefix(text, "Hello there") {
			return errors.New("upstream exploded")
		}
		return nil
	}}
	doc := parsePage(t, page)

	res, err := p.run(context.Background(), doc, "de", "", tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 2 || res.Translated != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(*errs) != 1 || !strings.Contains((*errs)[0].Error(), "upstream exploded") {
		t.Fatalf("errors = %v", *errs)
	}
	if got := doc.Block(1).Render(); got != "Hello there, this is the first paragraph." {
		t.Fatalf("failed block should keep its source, got %q", got)
	}
}

func TestPipelineQuotaSpansDocuments(t *testing.T) {
	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 2}, nil)
	tr := &upperTranslator{clock: clock}

	for _, src := range []string{
		"First document paragraph.\n\nSecond document paragraph.\n",
		"Third document paragraph.\n",
	} {
		if _, err := p.run(context.Background(), parsePage(t, src), "ru", "", tr); err != nil {
			t.Fatal(err)
		}
	}

	tr.mu.Lock()
	times := append([]time.Time(nil), tr.times...)
	tr.mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("got %d calls, want 3", len(times))
	}
	if gap := times[2].Sub(times[1]); gap < 30*time.Second {
		t.Fatalf("second document dispatched %v after the first, want at least 30s", gap)
	}
}

func TestPipelineSameTextAcrossLanguages(t *testing.T) {
	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 600}, nil)
	tr := &upperTranslator{clock: clock}
	src := "A paragraph worth translating.\n"

	for _, lang := range []string{"de", "fr"} {
		doc := parsePage(t, src)
		res, err := p.run(context.Background(), doc, lang, "", tr)
		if err != nil || res.Translated != 1 {
			t.Fatalf("%s: res=%+v err=%v", lang, res, err)
		}
	}
	if n := len(tr.calls()); n != 2 {
		t.Fatalf("got %d calls, want one per language", n)
	}
}

func TestPipelineCancelled(t *testing.T) {
	p, clock, _ := newTestPipeline(t, scheduler.Limits{RPM: 600}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &upperTranslator{clock: clock, fail: func(text string) error {
		if strings.HasPrefix(text, "Hello there") {
			cancel()
			return ctx.Err()
		}
		return nil
	}}
	doc := parsePage(t, page)

	res, err := p.run(ctx, doc, "de", "", tr)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run error = %v, want context.Canceled", err)
	}
	if res.Translated != 1 || res.Failed != 0 {
		t.Fatalf("unexpected partial result: %+v", res)
	}
	if got := p.sched.Status().State; got != scheduler.Paused {
		t.Fatalf("scheduler state = %v, want paused", got)
	}
}

func TestPipelineEstimate(t *testing.T) {
	p, _, _ := newTestPipeline(t, scheduler.Limits{}, nil)
	res, tokens, err := p.estimate(parsePage(t, page), "de", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Segments != 4 || res.Skipped != 1 {
		t.Fatalf("unexpected estimate: %+v", res)
	}
	want := translate.EstimateTokens("Welcome to the site") +
		translate.EstimateTokens("Hello there, this is the first paragraph.") +
		translate.EstimateTokens("The last paragraph closes the page.")
	if tokens != want {
		t.Fatalf("tokens = %d, want %d", tokens, want)
	}
}
