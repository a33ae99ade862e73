// Package scheduler funnels translation work through a single rate-limited
// API quota.
//
// A Scheduler owns a priority queue of WorkItems, the rolling request and
// token windows, and the daily counter. One dispatch goroutine pulls items one
// at a time, waits whenever a quota axis requires it, and hands each item to
// the Translator. Failed items are retried at the front of the queue a bounded
// number of times, then abandoned.
//
// Usage:
//
//	s := scheduler.New(client, scheduler.Options{OnResult: render})
//	for _, part := range segment.Chunk(text, segment.DefaultMaxParagraphLength) {
//	    s.Enqueue(scheduler.NewWorkItem(part, 0))
//	}
//	s.Start(ctx)
//	s.Wait(ctx)
//
// All methods are safe for concurrent use.
package scheduler

import (
	"cmp"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/minios-linux/pagetrans/segment"
	"github.com/minios-linux/pagetrans/translate"
)

var (
	// ErrEmptyText is returned by Enqueue for text with nothing to translate.
	ErrEmptyText = errors.New("scheduler: empty text")
	// ErrUnsuccessful is reported when the translator answers without a
	// usable translation.
	ErrUnsuccessful = errors.New("scheduler: translation unsuccessful")
)

// Translator performs one translation request.
type Translator interface {
	Translate(ctx context.Context, text string) (translate.Result, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, text string) (translate.Result, error)

// Translate calls f(ctx, text).
func (f TranslatorFunc) Translate(ctx context.Context, text string) (translate.Result, error) {
	return f(ctx, text)
}

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Limits   Limits
	Clock    Clock
	Recorder Recorder

	// OnProgress is called after every dispatch outcome and once at Start.
	OnProgress func(Progress)
	// OnComplete is called when the queue drains.
	OnComplete func()
	// OnError is called once for every abandoned item.
	OnError func(err error, item WorkItem)
	// OnResult receives each successful translation. It may be called for an
	// item dropped by Clear if the request was already in flight.
	OnResult func(item WorkItem, res translate.Result)
	// OnLog receives debug messages.
	OnLog func(format string, args ...any)
}

// Status is a read-only snapshot of scheduler state.
type Status struct {
	QueueLength      int
	ProcessedCount   int
	SucceededCount   int
	State            State
	DailyUsage       DailyUsage
	CanDispatchNow   bool
	RequestsInWindow int
	TokensInWindow   int
	SessionID        string
}

// Scheduler is a rate-limited, deduplicating translation queue serving one
// page session.
type Scheduler struct {
	translator Translator
	opts       Options
	limits     Limits
	clock      Clock
	rec        Recorder
	sessionID  string

	mu        sync.Mutex
	state     State
	queue     []WorkItem
	queued    map[string]struct{} // pending or in flight
	processed map[string]struct{}
	succeeded int
	win       *rateWindow
	// backoffUntil defers all dispatch after the API answered 429.
	backoffUntil time.Time
	// epoch changes on Clear so late outcomes of in-flight calls are
	// recognized.
	epoch   uint64
	ctx     context.Context
	running bool
	idle    chan struct{}

	// wake is a buffered channel of capacity 1. Enqueue, Pause, Resume and
	// Clear signal it so a waiting loop re-evaluates immediately.
	wake chan struct{}
}

// New creates a Scheduler. Call Start to begin dispatching.
func New(t Translator, opts Options) *Scheduler {
	limits := opts.Limits.withDefaults()
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	now := clock.Now()
	return &Scheduler{
		translator: t,
		opts:       opts,
		limits:     limits,
		clock:      clock,
		rec:        rec,
		sessionID:  ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String(),
		queued:     make(map[string]struct{}),
		processed:  make(map[string]struct{}),
		win:        newRateWindow(limits, now),
		wake:       make(chan struct{}, 1),
	}
}

// SessionID returns the ULID naming this scheduler's page session.
func (s *Scheduler) SessionID() string {
	return s.sessionID
}

// Limits returns the effective limits.
func (s *Scheduler) Limits() Limits {
	return s.limits
}

// ---------------------------------------------------------------------------
// Queue operations
// ---------------------------------------------------------------------------

// Enqueue admits item unless its identity was already processed or is
// pending. The ID is always recomputed from the text. Empty text is rejected
// with ErrEmptyText.
func (s *Scheduler) Enqueue(item WorkItem) (bool, error) {
	if strings.TrimSpace(item.Text) == "" {
		return false, ErrEmptyText
	}
	item.ID = segment.Key(item.Text)

	s.mu.Lock()
	if _, ok := s.processed[item.ID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	if _, ok := s.queued[item.ID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = s.clock.Now()
	}
	s.queue = append(s.queue, item)
	slices.SortStableFunc(s.queue, func(a, b WorkItem) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	s.queued[item.ID] = struct{}{}
	depth := len(s.queue)
	s.mu.Unlock()

	s.rec.Enqueued()
	s.rec.QueueDepth(depth)
	s.signal()
	return true, nil
}

// Start begins draining the queue. It is a no-op when already draining or
// when the queue is empty. ctx bounds the in-flight requests; cancelling it
// pauses the scheduler and requeues the interrupted item.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == Draining || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.state = Draining
	s.ctx = ctx
	p := s.progressLocked()
	launch := s.launchLocked()
	s.mu.Unlock()

	s.logf("session %s: draining %d items", s.sessionID, p.Total-p.Current)
	s.emitProgress(p)
	if launch {
		go s.run()
	} else {
		s.signal()
	}
}

// Pause stops new dispatches. A request already in flight completes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.state = Paused
	s.mu.Unlock()
	s.signal()
}

// Resume continues a paused scheduler if it still has queued items. If the
// pause came from the Start context being cancelled, dispatching continues
// without a context deadline; use Start with a fresh context to bound it
// again.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != Paused || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.state = Draining
	if s.ctx == nil || s.ctx.Err() != nil {
		s.ctx = context.Background()
	}
	launch := s.launchLocked()
	s.mu.Unlock()

	if launch {
		go s.run()
	} else {
		s.signal()
	}
}

// Clear drops the pending queue and the processed set and returns to Idle.
// It does not cancel a request in flight and fires no callbacks for the
// dropped items. Rate windows are kept: requests already made still count
// against the quota.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.queued = make(map[string]struct{})
	s.processed = make(map[string]struct{})
	s.succeeded = 0
	s.state = Idle
	s.epoch++
	s.mu.Unlock()

	s.rec.QueueDepth(0)
	s.signal()
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := ""
	if len(s.queue) > 0 {
		next = s.queue[0].Text
	}
	wait, _ := s.win.delay(now, next, s.backoffUntil)
	return Status{
		QueueLength:      len(s.queue),
		ProcessedCount:   len(s.processed),
		SucceededCount:   s.succeeded,
		State:            s.state,
		DailyUsage:       s.win.daily,
		CanDispatchNow:   wait == 0,
		RequestsInWindow: len(s.win.requests),
		TokensInWindow:   s.win.tokensInWindow(),
		SessionID:        s.sessionID,
	}
}

// Progress returns the current progress snapshot.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// Wait blocks until the dispatch loop stops (drained, paused or cleared) or
// ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// launchLocked marks the loop as running and reports whether a new goroutine
// must be started.
func (s *Scheduler) launchLocked() bool {
	if s.running {
		return false
	}
	s.running = true
	s.idle = make(chan struct{})
	return true
}

func (s *Scheduler) run() {
	// A stall spans every re-evaluation until the next dispatch or until the
	// loop stops; it is recorded once, with its real duration.
	var (
		stallStart  time.Time
		stallReason string
	)
	endStall := func(now time.Time) {
		if stallStart.IsZero() {
			return
		}
		s.rec.Waited(stallReason, now.Sub(stallStart))
		stallStart = time.Time{}
	}

	for {
		s.mu.Lock()
		if s.state != Draining || len(s.queue) == 0 {
			drained := s.state == Draining
			if drained {
				s.state = Idle
			}
			s.running = false
			idle := s.idle
			s.mu.Unlock()

			endStall(s.clock.Now())

			if drained {
				s.logf("session %s: queue drained", s.sessionID)
				if s.opts.OnComplete != nil {
					s.opts.OnComplete()
				}
			}
			close(idle)
			return
		}

		now := s.clock.Now()
		ctx := s.ctx
		wait, reason := s.win.delay(now, s.queue[0].Text, s.backoffUntil)
		if wait > 0 {
			s.mu.Unlock()
			if stallStart.IsZero() || reason != stallReason {
				s.logf("waiting %v (%s)", wait, reason)
			}
			if stallStart.IsZero() {
				stallStart = now
			}
			stallReason = reason

			select {
			case <-s.clock.After(wait):
			case <-s.wake:
			case <-ctx.Done():
				s.mu.Lock()
				if s.state == Draining {
					s.state = Paused
				}
				s.mu.Unlock()
			}
			continue
		}

		if !s.win.pacer.AllowN(now, 1) {
			s.mu.Unlock()
			continue
		}
		item := s.queue[0]
		s.queue = slices.Delete(s.queue, 0, 1)
		epoch := s.epoch
		depth := len(s.queue)
		s.mu.Unlock()

		endStall(now)

		s.rec.Dispatched()
		s.rec.QueueDepth(depth)
		s.logf("dispatch %s (attempt %d, %d queued)", shortID(item.ID), item.RetryCount+1, depth)

		res, err := s.translator.Translate(ctx, item.Text)
		if err == nil && !res.Success {
			err = ErrUnsuccessful
		}
		s.finish(ctx, epoch, item, res, err)
	}
}

// finish applies the outcome of one dispatch.
func (s *Scheduler) finish(ctx context.Context, epoch uint64, item WorkItem, res translate.Result, err error) {
	now := s.clock.Now()
	s.mu.Lock()

	if epoch != s.epoch {
		// Cleared while in flight: the identity is no longer tracked.
		if err == nil {
			s.win.record(now, res.TokensUsed)
		}
		s.mu.Unlock()
		if err == nil {
			s.rec.Succeeded(res.TokensUsed)
			if s.opts.OnResult != nil {
				s.opts.OnResult(item, res)
			}
		} else {
			s.logf("dropping error for cleared item %s: %v", shortID(item.ID), err)
		}
		return
	}

	if err == nil {
		s.win.record(now, res.TokensUsed)
		delete(s.queued, item.ID)
		s.processed[item.ID] = struct{}{}
		s.succeeded++
		p := s.progressLocked()
		s.mu.Unlock()

		s.rec.Succeeded(res.TokensUsed)
		s.emitProgress(p)
		if s.opts.OnResult != nil {
			s.opts.OnResult(item, res)
		}
		return
	}

	if ctx.Err() != nil {
		// Interrupted, not failed: requeue without consuming a retry.
		s.queue = slices.Insert(s.queue, 0, item)
		if s.state == Draining {
			s.state = Paused
		}
		s.mu.Unlock()
		s.logf("dispatch of %s interrupted: %v", shortID(item.ID), ctx.Err())
		return
	}

	var rle *translate.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		if until := now.Add(rle.RetryAfter); until.After(s.backoffUntil) {
			s.backoffUntil = until
		}
	}

	permanent := errors.Is(err, translate.ErrConfiguration)
	if !permanent && item.RetryCount < s.limits.MaxRetries {
		item.RetryCount++
		s.queue = slices.Insert(s.queue, 0, item)
		p := s.progressLocked()
		s.mu.Unlock()

		s.rec.Retried()
		s.logf("retry %d/%d for %s: %v", item.RetryCount, s.limits.MaxRetries, shortID(item.ID), err)
		s.emitProgress(p)
		return
	}

	delete(s.queued, item.ID)
	s.processed[item.ID] = struct{}{}
	p := s.progressLocked()
	s.mu.Unlock()

	s.rec.Abandoned()
	if s.opts.OnError != nil {
		s.opts.OnError(fmt.Errorf("translating %s after %d attempts: %w", shortID(item.ID), item.RetryCount+1, err), item)
	}
	s.emitProgress(p)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Scheduler) progressLocked() Progress {
	return Report(len(s.processed), len(s.queue), s.state)
}

func (s *Scheduler) emitProgress(p Progress) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(p)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.opts.OnLog != nil {
		s.opts.OnLog(format, args...)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
