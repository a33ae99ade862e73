package scheduler

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/minios-linux/pagetrans/translate"
)

// windowSpan is the trailing period for the per-minute quotas.
const windowSpan = time.Minute

// Wait reasons passed to Recorder.Waited.
const (
	WaitPacing  = "pacing"
	WaitRPM     = "rpm"
	WaitTPM     = "tpm"
	WaitRPD     = "rpd"
	WaitBackoff = "backoff"
)

// Limits are the quota ceilings enforced before every dispatch.
type Limits struct {
	// RPM is the requests-per-minute ceiling.
	RPM int
	// TPM is the tokens-per-minute ceiling.
	TPM int
	// RPD is the requests-per-day ceiling.
	RPD int
	// MaxRetries is how many times a failed item is retried before it is
	// abandoned. Zero selects the default; a negative value disables retries.
	MaxRetries int
}

// DefaultLimits returns the free-tier quotas.
func DefaultLimits() Limits {
	return Limits{RPM: 15, TPM: 250000, RPD: 1000, MaxRetries: 2}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.RPM <= 0 {
		l.RPM = d.RPM
	}
	if l.TPM <= 0 {
		l.TPM = d.TPM
	}
	if l.RPD <= 0 {
		l.RPD = d.RPD
	}
	switch {
	case l.MaxRetries == 0:
		l.MaxRetries = d.MaxRetries
	case l.MaxRetries < 0:
		l.MaxRetries = 0
	}
	return l
}

// DailyUsage is the per-day counter. Day is a YYYY-MM-DD key in the
// scheduler clock's location.
type DailyUsage struct {
	Requests int
	Tokens   int
	Day      string
}

type tokenRecord struct {
	at     time.Time
	tokens int
}

// rateWindow tracks recent activity against the limits. It is guarded by the
// scheduler mutex.
type rateWindow struct {
	limits   Limits
	requests []time.Time
	tokens   []tokenRecord
	daily    DailyUsage
	// pacer spaces dispatches evenly at 60s/RPM.
	pacer *rate.Limiter
}

func newRateWindow(limits Limits, now time.Time) *rateWindow {
	return &rateWindow{
		limits: limits,
		daily:  DailyUsage{Day: dayKey(now)},
		pacer:  rate.NewLimiter(rate.Every(windowSpan/time.Duration(limits.RPM)), 1),
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// prune drops entries that left the trailing window and resets the daily
// counter when the date changed.
func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]

	j := 0
	for j < len(w.tokens) && !w.tokens[j].at.After(cutoff) {
		j++
	}
	w.tokens = w.tokens[j:]

	if day := dayKey(now); day != w.daily.Day {
		w.daily = DailyUsage{Day: day}
	}
}

// record accounts for one completed request.
func (w *rateWindow) record(now time.Time, tokens int) {
	w.prune(now)
	w.requests = append(w.requests, now)
	w.tokens = append(w.tokens, tokenRecord{at: now, tokens: tokens})
	w.daily.Requests++
	w.daily.Tokens += tokens
}

func (w *rateWindow) tokensInWindow() int {
	sum := 0
	for _, r := range w.tokens {
		sum += r.tokens
	}
	return sum
}

// pacingDelay is how long until the pacer holds a full token.
func (w *rateWindow) pacingDelay(now time.Time) time.Duration {
	avail := w.pacer.TokensAt(now)
	if avail >= 1 {
		return 0
	}
	d := time.Duration((1 - avail) / float64(w.pacer.Limit()) * float64(time.Second))
	// Round up so the wait never undershoots the refill.
	d = (d + time.Millisecond - 1).Truncate(time.Millisecond)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// delay returns how long dispatch of text must wait at now, and the axis
// that imposes the longest wait. The window is pruned first.
func (w *rateWindow) delay(now time.Time, text string, backoffUntil time.Time) (time.Duration, string) {
	w.prune(now)

	var wait time.Duration
	reason := ""
	consider := func(d time.Duration, why string) {
		if d > wait {
			wait, reason = d, why
		}
	}

	consider(w.pacingDelay(now), WaitPacing)

	if len(w.requests) >= w.limits.RPM {
		consider(w.requests[0].Add(windowSpan).Sub(now), WaitRPM)
	}

	if len(w.tokens) > 0 && w.tokensInWindow()+translate.EstimateTokens(text) > w.limits.TPM {
		consider(w.tokens[0].at.Add(windowSpan).Sub(now), WaitTPM)
	}

	if w.daily.Requests >= w.limits.RPD {
		consider(nextMidnight(now).Sub(now), WaitRPD)
	}

	if now.Before(backoffUntil) {
		consider(backoffUntil.Sub(now), WaitBackoff)
	}

	return wait, reason
}
