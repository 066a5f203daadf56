// Package readiness implements the CLI Readiness Detector (C2): it
// decides whether an interactive AI CLI is running in a session via the
// slash-probe protocol, without parsing the CLI's output semantically.
//
// [Detector] wraps a [term.Driver] (or any fake standing in for it) and
// holds the per-session result cache and probe limiters; the probe
// itself is a peek/sendKeys sequence over plain driver calls.
package readiness

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentmux/agentmux/internal/term"
)

// Defaults per spec.md §4.2.
const (
	DefaultSettleDelay    = 400 * time.Millisecond
	DefaultGrowthThresh   = 3
	DefaultCacheTTL       = 2 * time.Second
	DefaultCapturedLines  = 50
	DefaultPrefixWindow   = 200 // bytes from the end of `after` to search for `before`
)

// Clock abstracts time.Now/time.Sleep for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time     { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

type cacheEntry struct {
	result  bool
	at      time.Time
}

// Detector answers isCliInteractive(sessionName) via the slash-probe
// protocol, with a per-session result cache (spec.md §4.2 "Caching") and
// a per-session probe rate limiter. The limiter does not cap probes: a
// caller that finds no cached result probes even when no token is
// available, so concurrent cache misses can each run their own probe.
type Detector struct {
	driver term.Driver
	clock  Clock

	SettleDelay  time.Duration
	GrowthThresh int
	CacheTTL     time.Duration
	Lines        int

	mu       sync.Mutex
	cache    map[string]cacheEntry
	limiters map[string]*rate.Limiter
}

// New returns a [Detector] backed by driver, using spec-default timings.
func New(driver term.Driver) *Detector {
	return &Detector{
		driver:       driver,
		clock:        realClock{},
		SettleDelay:  DefaultSettleDelay,
		GrowthThresh: DefaultGrowthThresh,
		CacheTTL:     DefaultCacheTTL,
		Lines:        DefaultCapturedLines,
		cache:        make(map[string]cacheEntry),
		limiters:     make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the clock; used by tests to avoid real sleeps.
func (d *Detector) WithClock(c Clock) *Detector {
	d.clock = c
	return d
}

func (d *Detector) limiterFor(name string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[name]
	if !ok {
		// One probe allowed per cache TTL window, bursts of 1: this is
		// exactly the cadence a cache-miss-then-probe caller needs, no
		// faster.
		l = rate.NewLimiter(rate.Every(d.ttl()), 1)
		d.limiters[name] = l
	}
	return l
}

func (d *Detector) ttl() time.Duration {
	if d.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return d.CacheTTL
}

// IsCliInteractive reports whether the CLI in sessionName has reached an
// interactive prompt, per the slash-probe protocol (spec.md §4.2). Cached
// for [Detector.CacheTTL]; see [Detector.Invalidate].
func (d *Detector) IsCliInteractive(sessionName string) bool {
	if cached, ok := d.cached(sessionName); ok {
		return cached
	}

	// A caller that gets no limiter token re-reads the cache, in case
	// another caller's probe has just stored a result.
	if !d.limiterFor(sessionName).Allow() {
		if cached, ok := d.cached(sessionName); ok {
			return cached
		}
		// No cached value yet and no token available: still probe once
		// rather than block — the limiter exists to throttle a herd, not
		// to starve a lone caller.
	}

	result := d.probe(sessionName)
	d.mu.Lock()
	d.cache[sessionName] = cacheEntry{result: result, at: d.clock.Now()}
	d.mu.Unlock()
	return result
}

func (d *Detector) cached(sessionName string) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cache[sessionName]
	if !ok {
		return false, false
	}
	if d.clock.Now().Sub(e.at) > d.ttl() {
		return false, false
	}
	return e.result, true
}

// Invalidate drops the cached result for sessionName. Called by the
// Initializer after every state-changing action (spec.md §4.3).
func (d *Detector) Invalidate(sessionName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, sessionName)
}

// probe executes the slash-probe protocol once against the driver.
// Any [term.KindNotFound] from the driver is treated as "not interactive"
// without sending Escape, per spec.md §4.2 "Failure". Any other driver
// error (including timeout) is also reported as false — DetectorInconclusive
// never surfaces as an error upward.
func (d *Detector) probe(sessionName string) bool {
	lines := d.lines()

	before, err := d.driver.CapturePane(sessionName, lines)
	if err != nil {
		return false
	}

	if err := d.driver.SendKeys(sessionName, []string{term.Slash}); err != nil {
		if term.IsNotFound(err) {
			return false
		}
		return false
	}

	d.clock.Sleep(d.settleDelay())

	after, err := d.driver.CapturePane(sessionName, lines)
	if err != nil {
		if term.IsNotFound(err) {
			return false
		}
		after = before // fall through to Escape + negative verdict
	}

	// Escape is always sent on both branches to leave the pane idempotent,
	// as required by spec.md §4.2, unless the session vanished mid-probe.
	_ = d.driver.SendKeys(sessionName, []string{term.Escape})

	return verdictGrowthAndPrefix(before, after, d.growthThresh())
}

func (d *Detector) lines() int {
	if d.Lines <= 0 {
		return DefaultCapturedLines
	}
	return d.Lines
}

func (d *Detector) settleDelay() time.Duration {
	if d.SettleDelay <= 0 {
		return DefaultSettleDelay
	}
	return d.SettleDelay
}

func (d *Detector) growthThresh() int {
	if d.GrowthThresh <= 0 {
		return DefaultGrowthThresh
	}
	return d.GrowthThresh
}

// verdictGrowthAndPrefix implements the spec.md §4.2 decision rule:
// interactive iff len(after) > len(before) + threshold AND after
// contains before as a prefix or within its last [DefaultPrefixWindow]
// bytes.
func verdictGrowthAndPrefix(before, after string, threshold int) bool {
	if len(after) <= len(before)+threshold {
		return false
	}
	if strings.HasPrefix(after, before) {
		return true
	}
	window := after
	if len(window) > DefaultPrefixWindow {
		window = window[len(window)-DefaultPrefixWindow:]
	}
	return strings.Contains(window, before)
}
