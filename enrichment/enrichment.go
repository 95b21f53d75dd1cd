// Package enrichment implements the Enrichment Pipeline (C10):
// priority-ordered annotators that run over an event before it is handed to
// the Dispatch Engine's fan-out, per SPEC_FULL.md §4.10.
package enrichment

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spiderfoot/core/event"
)

// Priority controls run order: CRITICAL enrichers run before HIGH, before
// NORMAL, before LOW. Ties break by registration order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Context is threaded through a single event's enrichment run. An enricher
// that sets SkipRemaining stops the remaining chain for that event only.
type Context struct {
	Event         event.Event
	Tags          map[string]string
	SkipRemaining bool
}

// AddTag attaches a key/value annotation to the event being enriched.
func (c *Context) AddTag(key, value string) {
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
	c.Tags[key] = value
}

// Enricher inspects and optionally annotates an event in place via ctx.
type Enricher interface {
	Name() string
	Enrich(ctx *Context)
}

// EnricherFunc adapts a plain function to the Enricher interface.
type EnricherFunc struct {
	FuncName string
	Fn       func(ctx *Context)
}

func (f EnricherFunc) Name() string       { return f.FuncName }
func (f EnricherFunc) Enrich(ctx *Context) { f.Fn(ctx) }

type registration struct {
	enricher   Enricher
	priority   Priority
	eventTypes map[string]struct{} // nil/empty means "all types"
	enabled    bool
	order      int
}

func (r registration) matches(typ string) bool {
	if len(r.eventTypes) == 0 {
		return true
	}
	_, ok := r.eventTypes[typ]
	return ok
}

// Stats tracks per-enricher invocation counts and cumulative duration.
type Stats struct {
	Invocations int64
	TotalTime   time.Duration
}

// Pipeline runs registered enrichers over events in priority order.
type Pipeline struct {
	mu       sync.RWMutex
	regs     []*registration
	stats    map[string]*Stats
	nextOrd  int
}

// New constructs an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{stats: make(map[string]*Stats)}
}

// Register adds an enricher at the given priority, optionally scoped to a
// set of event types (nil means it runs for every type). Enrichers start
// enabled.
func (p *Pipeline) Register(e Enricher, priority Priority, eventTypes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var types map[string]struct{}
	if len(eventTypes) > 0 {
		types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			types[t] = struct{}{}
		}
	}

	p.nextOrd++
	p.regs = append(p.regs, &registration{
		enricher:   e,
		priority:   priority,
		eventTypes: types,
		enabled:    true,
		order:      p.nextOrd,
	})
	p.stats[e.Name()] = &Stats{}
	p.sortLocked()
}

func (p *Pipeline) sortLocked() {
	sort.SliceStable(p.regs, func(i, j int) bool {
		if p.regs[i].priority != p.regs[j].priority {
			return p.regs[i].priority > p.regs[j].priority
		}
		return p.regs[i].order < p.regs[j].order
	})
}

// SetEnabled toggles an enricher by name without removing its registration.
func (p *Pipeline) SetEnabled(name string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.regs {
		if r.enricher.Name() == name {
			r.enabled = enabled
		}
	}
}

// Run executes every enabled, type-matching enricher over e in priority
// order, stopping early if an enricher sets Context.SkipRemaining. It
// returns the accumulated tags.
func (p *Pipeline) Run(e event.Event) map[string]string {
	p.mu.RLock()
	regs := make([]*registration, len(p.regs))
	copy(regs, p.regs)
	p.mu.RUnlock()

	ctx := &Context{Event: e}
	for _, r := range regs {
		if !r.enabled || !r.matches(e.Type()) {
			continue
		}

		start := time.Now()
		p.safeRun(r.enricher, ctx)
		elapsed := time.Since(start)

		p.mu.Lock()
		s := p.stats[r.enricher.Name()]
		s.Invocations++
		s.TotalTime += elapsed
		p.mu.Unlock()

		if ctx.SkipRemaining {
			break
		}
	}
	return ctx.Tags
}

func (p *Pipeline) safeRun(e Enricher, ctx *Context) {
	defer func() { recover() }()
	e.Enrich(ctx)
}

// GetStats returns a snapshot of every enricher's invocation counters.
func (p *Pipeline) GetStats() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Stats, len(p.stats))
	for name, s := range p.stats {
		out[name] = *s
	}
	return out
}

// TagInference is a built-in enricher annotating events with a coarse
// kind tag derived from the event type's naming convention.
var TagInference = EnricherFunc{
	FuncName: "tag_inference",
	Fn: func(ctx *Context) {
		typ := ctx.Event.Type()
		switch {
		case containsAny(typ, "IP", "NETBLOCK", "DOMAIN", "HOSTNAME"):
			ctx.AddTag("kind", "network")
		case containsAny(typ, "EMAIL", "PHONE", "HUMAN", "USERNAME"):
			ctx.AddTag("kind", "identity")
		case containsAny(typ, "MALICIOUS", "VULNERABILITY", "BLACKLISTED"):
			ctx.AddTag("kind", "threat")
		default:
			ctx.AddTag("kind", "other")
		}
	},
}

// DataSizeAnnotation is a built-in enricher recording the byte length of
// the event's data payload, useful for downstream storage-budget decisions.
var DataSizeAnnotation = EnricherFunc{
	FuncName: "data_size_annotation",
	Fn: func(ctx *Context) {
		ctx.AddTag("data_size", strconv.Itoa(len(ctx.Event.Data())))
	},
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
