// Package host implements the Module Host Contract (C11): the API surface
// a data-source module sees (fetch, resolve, cache, stop-check, emit), per
// spec.md §4.11. Transport is colly/v2; HTML parsing is goquery, both
// grounded on the domain stack wired in SPEC_FULL.md.
package host

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/spiderfoot/core/cache"
	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/ratelimit"
	"github.com/spiderfoot/core/target"
)

// FetchOptions customises a single fetch_url call.
type FetchOptions struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

// FetchResult is the module-visible result of fetch_url.
type FetchResult struct {
	Code    int
	Content string
	Headers map[string][]string
	RealURL string
}

// Resolver abstracts DNS so tests can substitute a fake without touching
// the network.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type netResolver struct{ r *net.Resolver }

func (n netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return n.r.LookupHost(ctx, host)
}
func (n netResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return n.r.LookupAddr(ctx, addr)
}

// Config constructs a Host.
type Config struct {
	ScanID        string
	DefaultTimeout time.Duration
	UserAgent     string
	Limiter       *ratelimit.Limiter
	Resolver      Resolver
	CacheConfig   cache.Config
}

// Host is the single object every module interacts with; one instance per
// scan. It is safe for concurrent use by multiple modules' handleEvent
// invocations (the dispatch engine still serialises per-module calls, but
// the host's own state — cache, dedup sets, rate limiter — is shared).
type Host struct {
	scanID   string
	timeout  time.Duration
	ua       string
	limiter  *ratelimit.Limiter
	resolver Resolver
	cache    *cache.Cache
	collector *colly.Collector

	stopMu sync.RWMutex
	stop   bool

	seenMu sync.Mutex
	seen   map[string]map[string]struct{} // module -> fingerprint set

	target   target.Target
	emit     func(event.Event)

	idCounter uint64
}

// NextEventID mints the next unique event ID for this scan. The host owns
// the scan's ID space since it is the one object constructed exactly once
// per scan (see the ID-indexed arena note in event.go).
func (h *Host) NextEventID() event.ID {
	return event.ID(atomic.AddUint64(&h.idCounter, 1))
}

// New constructs a Host. emit is invoked for every event a module raises
// via NotifyListeners — it is the module host's sole path into the Scan
// Queue, per spec.md §4.11.
func New(cfg Config, emit func(event.Event)) (*Host, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "spiderfoot-core/1.0"
	}
	if cfg.Resolver == nil {
		cfg.Resolver = netResolver{r: net.DefaultResolver}
	}
	c, err := cache.New(cfg.CacheConfig)
	if err != nil {
		return nil, fmt.Errorf("host: construct cache: %w", err)
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.Async(true),
	)
	collector.SetRequestTimeout(cfg.DefaultTimeout)

	return &Host{
		scanID:    cfg.ScanID,
		timeout:   cfg.DefaultTimeout,
		ua:        cfg.UserAgent,
		limiter:   cfg.Limiter,
		resolver:  cfg.Resolver,
		cache:     c,
		collector: collector,
		seen:      make(map[string]map[string]struct{}),
		emit:      emit,
	}, nil
}

// SetTarget records the scan's root target for introspection.
func (h *Host) SetTarget(t target.Target) { h.target = t }

// GetTarget returns the scan's root target.
func (h *Host) GetTarget() target.Target { return h.target }

// Stop sets the scan-level stop flag. Idempotent and non-reversible.
func (h *Host) Stop() {
	h.stopMu.Lock()
	h.stop = true
	h.stopMu.Unlock()
}

// CheckForStop reports whether the scan has been asked to stop.
func (h *Host) CheckForStop() bool {
	h.stopMu.RLock()
	defer h.stopMu.RUnlock()
	return h.stop
}

// FetchURL performs an HTTP GET through the shared rate-limited transport.
func (h *Host) FetchURL(ctx context.Context, rawURL string, opts FetchOptions) (FetchResult, error) {
	if h.CheckForStop() {
		return FetchResult{}, context.Canceled
	}
	if opts.Timeout <= 0 {
		opts.Timeout = h.timeout
	}

	domain := hostOf(rawURL)
	if h.limiter != nil {
		permit, err := h.limiter.Acquire(ctx, domain)
		if err != nil {
			return FetchResult{}, fmt.Errorf("host: rate limit acquire: %w", err)
		}
		defer permit.Release()
	}

	c := h.collector.Clone()
	c.SetRequestTimeout(opts.Timeout)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range opts.Headers {
			r.Headers.Set(k, v)
		}
	})

	var result FetchResult
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		result = FetchResult{
			Code:    r.StatusCode,
			Content: string(r.Body),
			Headers: map[string][]string(*r.Headers),
			RealURL: r.Request.URL.String(),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			result.Code = r.StatusCode
		}
	})

	if err := c.Visit(rawURL); err != nil {
		if h.limiter != nil {
			h.limiter.Feedback(domain, ratelimit.Feedback{Err: err})
		}
		return FetchResult{}, fmt.Errorf("host: fetch %s: %w", rawURL, err)
	}
	c.Wait()

	if h.limiter != nil {
		h.limiter.Feedback(domain, ratelimit.Feedback{StatusCode: result.Code, Err: fetchErr})
	}
	if fetchErr != nil {
		return result, fmt.Errorf("host: fetch %s: %w", rawURL, fetchErr)
	}
	return result, nil
}

// ParseHTML parses an HTML document body for modules that mine structured
// data out of fetched pages, using goquery.
func (h *Host) ParseHTML(body string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

// ResolveHost resolves an A/AAAA-capable hostname to its IP addresses.
func (h *Host) ResolveHost(ctx context.Context, name string) ([]string, error) {
	return h.resolver.LookupHost(ctx, name)
}

// ReverseResolve resolves an IP address to its PTR hostnames.
func (h *Host) ReverseResolve(ctx context.Context, ip string) ([]string, error) {
	return h.resolver.LookupAddr(ctx, ip)
}

// TempStorage returns module's per-scan dedup set, creating it on first use.
// A module calls Seen before emitting to avoid raising duplicate findings
// outside the fingerprint-based dedup the dispatch engine already applies.
func (h *Host) TempStorage(module string) *DedupSet {
	return &DedupSet{host: h, module: module}
}

// DedupSet is a thin per-module view over the host's temp-storage table.
type DedupSet struct {
	host   *Host
	module string
}

// Seen reports whether value has been recorded before for this module, and
// records it if not (atomic check-and-set).
func (d *DedupSet) Seen(value string) bool {
	d.host.seenMu.Lock()
	defer d.host.seenMu.Unlock()
	set, ok := d.host.seen[d.module]
	if !ok {
		set = make(map[string]struct{})
		d.host.seen[d.module] = set
	}
	if _, ok := set[value]; ok {
		return true
	}
	set[value] = struct{}{}
	return false
}

// CacheGet retrieves a previously cached value. maxAge is not checked: an
// entry is returned until the cache's own TTL (cache.Config.TTL) expires it.
func (h *Host) CacheGet(key string, maxAge time.Duration) ([]byte, bool) {
	v, ok, err := h.cache.Get(key)
	if err != nil || !ok {
		return nil, false
	}
	_ = maxAge // freshness enforced by the cache's own TTL configuration
	return v, true
}

// CachePut stores value under key for later CacheGet calls.
func (h *Host) CachePut(key string, value []byte) error {
	return h.cache.Put(key, value)
}

// NotifyListeners is the sole path by which a module raises a new event;
// it hands the event to the engine's emit callback (which enqueues it onto
// the Scan Queue), per spec.md §4.11.
func (h *Host) NotifyListeners(e event.Event) {
	if h.emit != nil {
		h.emit(e)
	}
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexAny(rawURL, "/:"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}
