package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/minios-linux/pagetrans/cache"
	"github.com/minios-linux/pagetrans/config"
	"github.com/minios-linux/pagetrans/document"
	"github.com/minios-linux/pagetrans/metrics"
	"github.com/minios-linux/pagetrans/scheduler"
	"github.com/minios-linux/pagetrans/segment"
	"github.com/minios-linux/pagetrans/translate"
)

// pageResult summarizes one document translated into one language.
type pageResult struct {
	Segments   int // translatable chunks found
	Skipped    int // blocks below the minimum length
	Cached     int
	Translated int
	Failed     int
	Tokens     int
}

// segmentRef points at one chunk of one block.
type segmentRef struct {
	block, part int
}

// pipeline runs documents through one shared scheduler so that every job of
// a run draws from the same quota. Jobs run one at a time; the translator
// for the current job's language is swapped in between jobs.
type pipeline struct {
	sched     *scheduler.Scheduler
	cache     *cache.Cache       // nil when disabled
	collector *metrics.Collector // nil when metrics are off
	chunking  config.Chunking
	provider  string
	refresh   bool

	mu      sync.Mutex
	current scheduler.Translator
	doc     *document.Document
	lang    string
	variant string
	refs    map[string][]segmentRef
	result  pageResult
	onError func(err error)
}

type pipelineOptions struct {
	Limits     scheduler.Limits
	Chunking   config.Chunking
	Provider   string
	Cache      *cache.Cache
	Collector  *metrics.Collector
	// Refresh ignores cached translations; new results are still stored.
	Refresh    bool
	OnProgress func(scheduler.Progress)
	OnError    func(err error)
	OnLog      func(format string, args ...any)
	// Clock replaces the wall clock in tests.
	Clock scheduler.Clock
}

func newPipeline(opts pipelineOptions) *pipeline {
	p := &pipeline{
		cache:     opts.Cache,
		collector: opts.Collector,
		chunking:  opts.Chunking,
		provider:  opts.Provider,
		refresh:   opts.Refresh,
		onError:   opts.OnError,
	}

	sopts := scheduler.Options{
		Limits:     opts.Limits,
		Clock:      opts.Clock,
		OnProgress: opts.OnProgress,
		OnResult:   p.applyResult,
		OnError:    p.applyError,
		OnLog:      opts.OnLog,
	}
	if opts.Collector != nil {
		sopts.Recorder = opts.Collector
	}
	p.sched = scheduler.New(scheduler.TranslatorFunc(p.translate), sopts)
	return p
}

// translate forwards to the translator of the job being run.
func (p *pipeline) translate(ctx context.Context, text string) (translate.Result, error) {
	p.mu.Lock()
	t := p.current
	p.mu.Unlock()
	if t == nil {
		return translate.Result{}, fmt.Errorf("%w: no translator for current job", translate.ErrConfiguration)
	}
	return t.Translate(ctx, text)
}

// plan chunks every translatable block of doc, fills in translations cached
// for variant and returns the work items still needing the API, keyed by
// identity.
func (p *pipeline) plan(doc *document.Document, lang, variant string) (map[string]scheduler.WorkItem, map[string][]segmentRef, pageResult, error) {
	items := make(map[string]scheduler.WorkItem)
	refs := make(map[string][]segmentRef)
	var res pageResult

	for i, b := range doc.Blocks() {
		if !b.Translatable() {
			continue
		}
		if !segment.ShouldTranslate(b.Source, p.chunking.MinParagraphLength) {
			res.Skipped++
			continue
		}
		chunks := segment.Chunk(b.Source, p.chunking.MaxParagraphLength)
		if err := doc.SetChunks(i, chunks); err != nil {
			return nil, nil, res, err
		}

		// Titles go first so a partial run still reads sensibly.
		priority := 0
		if b.Kind == document.Heading || b.Kind == document.FrontMatter {
			priority = 1
		}

		for part, text := range chunks {
			res.Segments++
			if p.cache != nil && !p.refresh {
				e, ok, err := p.cache.Get(lang, variant, text)
				if err != nil {
					return nil, nil, res, fmt.Errorf("cache lookup: %w", err)
				}
				if ok {
					if err := doc.SetTranslation(i, part, e.Translation); err != nil {
						return nil, nil, res, err
					}
					res.Cached++
					if p.collector != nil {
						p.collector.CacheHit()
					}
					continue
				}
			}

			item := scheduler.NewWorkItem(text, priority)
			refs[item.ID] = append(refs[item.ID], segmentRef{block: i, part: part})
			if prev, ok := items[item.ID]; !ok || prev.Priority < priority {
				items[item.ID] = item
			}
		}
	}
	return items, refs, res, nil
}

// run translates doc into lang with t, blocking until the queue drains or
// ctx is cancelled. variant names the prompt and model behind t (see
// translate.Client.Fingerprint) and scopes cache reads and writes. On
// cancellation the partial result is returned together with ctx.Err().
func (p *pipeline) run(ctx context.Context, doc *document.Document, lang, variant string, t scheduler.Translator) (pageResult, error) {
	items, refs, res, err := p.plan(doc, lang, variant)
	if err != nil {
		return res, err
	}

	p.mu.Lock()
	p.current = t
	p.doc = doc
	p.lang = lang
	p.variant = variant
	p.refs = refs
	p.result = res
	p.mu.Unlock()

	// Each document starts with a fresh queue and dedup set. The rate
	// windows survive Clear, so the quota spans the whole run.
	p.sched.Clear()

	for _, item := range orderItems(items, refs) {
		if _, err := p.sched.Enqueue(item); err != nil && !errors.Is(err, scheduler.ErrEmptyText) {
			return res, err
		}
	}

	p.sched.Start(ctx)
	_ = p.sched.Wait(context.Background())

	p.mu.Lock()
	res = p.result
	p.current = nil
	p.doc = nil
	p.refs = nil
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// orderItems returns items in document order so that equal priorities keep
// reading order in the queue.
func orderItems(items map[string]scheduler.WorkItem, refs map[string][]segmentRef) []scheduler.WorkItem {
	out := make([]scheduler.WorkItem, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b scheduler.WorkItem) int {
		ra, rb := refs[a.ID][0], refs[b.ID][0]
		if c := cmp.Compare(ra.block, rb.block); c != 0 {
			return c
		}
		return cmp.Compare(ra.part, rb.part)
	})
	return out
}

// applyResult stores a translation in every chunk sharing the identity and
// in the cache.
func (p *pipeline) applyResult(item scheduler.WorkItem, r translate.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return
	}
	refs := p.refs[item.ID]
	for _, ref := range refs {
		if err := p.doc.SetTranslation(ref.block, ref.part, r.TranslatedText); err != nil {
			p.reportLocked(err)
		}
	}
	p.result.Translated += len(refs)
	p.result.Tokens += r.TokensUsed

	if p.cache != nil {
		provider := r.Provider
		if provider == "" {
			provider = p.provider
		}
		if err := p.cache.Put(p.lang, p.variant, item.Text, r.TranslatedText, provider); err != nil {
			p.reportLocked(fmt.Errorf("cache store: %w", err))
		}
	}
}

func (p *pipeline) applyError(err error, item scheduler.WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Failed += len(p.refs[item.ID])
	p.reportLocked(err)
}

func (p *pipeline) reportLocked(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

// estimate counts what a run would send without calling the API.
func (p *pipeline) estimate(doc *document.Document, lang, variant string) (pageResult, int, error) {
	items, _, res, err := p.plan(doc, lang, variant)
	if err != nil {
		return res, 0, err
	}
	tokens := 0
	for _, item := range items {
		tokens += translate.EstimateTokens(item.Text)
	}
	return res, tokens, nil
}
