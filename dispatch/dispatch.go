// Package dispatch implements the Dispatch Engine (C6): module lifecycle,
// the event-type subscription index, worker-pool fan-out, per-module
// serialisation, and stop/cancel semantics, per spec.md §4.6 and §5.
// Grounded on engine/internal/pipeline/pipeline.go's multi-stage worker-pool
// shape and engine/engine.go's facade pattern.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spiderfoot/core/aggregator"
	"github.com/spiderfoot/core/enrichment"
	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/host"
	"github.com/spiderfoot/core/queue"
	"github.com/spiderfoot/core/repository"
	"github.com/spiderfoot/core/sferrors"
	"github.com/spiderfoot/core/target"
	"github.com/spiderfoot/core/telemetry/logging"
	"github.com/spiderfoot/core/telemetry/metrics"
)

// Module is the contract every data-source/analysis module implements,
// per spec.md §4.11's closing paragraph.
type Module interface {
	Name() string
	WatchedEvents() []string
	ProducedEvents() []string
	Setup(h *host.Host, opts map[string]string) error
	SetTarget(t target.Target)
	HandleEvent(e event.Event) error
}

// Status is the engine-observed scan lifecycle outcome.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
	StatusErrored  Status = "ERRORED"
)

// Stats is a point-in-time snapshot of dispatch counters.
type Stats struct {
	EventsProcessed   int64
	ModuleInvocations int64
	ModuleErrors      int64
	Duplicates        int64
	QueueRejected     int64
}

// Config constructs an Engine.
type Config struct {
	ScanID    string
	Modules   []Module
	LoadOrder []string // from resolver.Result.LoadOrder; authoritative dispatch order

	ModuleOptions map[string]map[string]string

	Workers        int
	Queue          queue.Config
	EnqueueTimeout time.Duration
	DequeueTimeout time.Duration
	MaxRetries     int

	Enrichment *enrichment.Pipeline
	Aggregator *aggregator.Aggregator
	Repository repository.Repository
	Logger     logging.Logger
	Metrics    metrics.Provider
}

// Engine is the single-scan Dispatch Engine (C6).
type Engine struct {
	cfg     Config
	modules map[string]Module

	subsByType map[string][]string // event type -> ordered, deduped module names
	wildcard   []string

	q    *queue.Queue
	h    *host.Host
	agg  *aggregator.Aggregator
	enr  *enrichment.Pipeline
	repo repository.Repository
	log  logging.Logger
	met  metrics.Provider

	eventsCounter     metrics.Counter
	invocationCounter metrics.Counter
	errorCounter      metrics.Counter
	rejectedCounter   metrics.Counter

	moduleMu map[string]*sync.Mutex

	erroredMu sync.Mutex
	errored   map[string]bool

	work     sync.WaitGroup
	workers  sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	stats Stats
}

// New validates cfg and constructs an Engine. AttachHost must be called
// before Run.
func New(cfg Config) (*Engine, error) {
	if cfg.ScanID == "" {
		return nil, sferrors.New(sferrors.ErrFatal, "", "", fmt.Errorf("dispatch: ScanID is required"))
	}
	modules := make(map[string]Module, len(cfg.Modules))
	for _, m := range cfg.Modules {
		modules[m.Name()] = m
	}
	for _, name := range cfg.LoadOrder {
		if _, ok := modules[name]; !ok {
			return nil, sferrors.New(sferrors.ErrFatal, name, "", fmt.Errorf("dispatch: load order names unregistered module %q", name))
		}
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > 8 {
			cfg.Workers = 8
		}
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 200 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Enrichment == nil {
		cfg.Enrichment = enrichment.New()
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = aggregator.New(cfg.ScanID)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}

	moduleMu := make(map[string]*sync.Mutex, len(modules))
	for name := range modules {
		moduleMu[name] = &sync.Mutex{}
	}

	e := &Engine{
		cfg:        cfg,
		modules:    modules,
		subsByType: make(map[string][]string),
		q:          queue.New(cfg.Queue),
		agg:        cfg.Aggregator,
		enr:        cfg.Enrichment,
		repo:       cfg.Repository,
		log:        cfg.Logger,
		met:        cfg.Metrics,
		moduleMu:   moduleMu,
		errored:    make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
	e.eventsCounter = cfg.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "spiderfoot", Subsystem: "dispatch", Name: "events_processed_total",
		Help: "Events that passed through the dispatch engine's dequeue loop.",
	}})
	e.invocationCounter = cfg.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "spiderfoot", Subsystem: "dispatch", Name: "module_invocations_total",
		Help: "HandleEvent calls delivered to modules.", Labels: []string{"module"},
	}})
	e.errorCounter = cfg.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "spiderfoot", Subsystem: "dispatch", Name: "module_errors_total",
		Help: "HandleEvent calls that returned an error or panicked.", Labels: []string{"module"},
	}})
	e.rejectedCounter = cfg.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "spiderfoot", Subsystem: "dispatch", Name: "events_rejected_total",
		Help: "Events dropped because the scan queue refused them under backpressure.",
	}})
	return e, nil
}

// AttachHost wires the module host the engine will pass to Setup and whose
// emit callback (constructed by the caller as e.Emit) feeds this engine's
// queue. The host must have been constructed with e.Emit as its emit
// function before this call.
func (e *Engine) AttachHost(h *host.Host) { e.h = h }

// Emit is the engine's sole ingestion path for module-raised events —
// pass this as the emit callback to host.New. It silently drops the event
// (after logging) on a rejected enqueue, matching the QueueRejected
// classification in spec.md §7.
func (e *Engine) Emit(ev event.Event) {
	e.enqueue(ev, queue.PriorityNormal)
}

func (e *Engine) enqueue(ev event.Event, priority queue.Priority) {
	e.work.Add(1)
	id := fmt.Sprintf("%s:%d", e.cfg.ScanID, ev.ID())
	ok := e.q.Put(ev, priority, id, e.cfg.MaxRetries, nil, e.cfg.EnqueueTimeout)
	if !ok {
		e.work.Done()
		atomic.AddInt64(&e.stats.QueueRejected, 1)
		e.rejectedCounter.Inc(1)
		e.log.WarnCtx(context.Background(), "dispatch: event rejected by queue",
			"scan_id", e.cfg.ScanID, "event_type", ev.Type(), "module", ev.ProducingModule())
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		EventsProcessed:   atomic.LoadInt64(&e.stats.EventsProcessed),
		ModuleInvocations: atomic.LoadInt64(&e.stats.ModuleInvocations),
		ModuleErrors:      atomic.LoadInt64(&e.stats.ModuleErrors),
		Duplicates:        atomic.LoadInt64(&e.stats.Duplicates),
		QueueRejected:     atomic.LoadInt64(&e.stats.QueueRejected),
	}
}

// Stop sets the scan-level stop flag. Idempotent and non-reversible
// (spec.md §5): workers exit their dequeue loop at the next boundary.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.h != nil {
		e.h.Stop()
	}
}

func (e *Engine) buildSubscriptionIndex() {
	for _, name := range e.cfg.LoadOrder {
		m := e.modules[name]
		for _, et := range m.WatchedEvents() {
			if et == event.TypeWildcard {
				e.wildcard = appendUniqueStr(e.wildcard, name)
				continue
			}
			e.subsByType[et] = appendUniqueStr(e.subsByType[et], name)
		}
	}
}

func appendUniqueStr(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// subscribersFor returns, for et, the type-specific subscribers in load
// order followed by the wildcard subscribers in load order, per the
// §9 Open Question decision (type-specific before "*", both stable).
func (e *Engine) subscribersFor(et string) []string {
	specific := e.subsByType[et]
	if len(e.wildcard) == 0 {
		return specific
	}
	seen := make(map[string]struct{}, len(specific)+len(e.wildcard))
	out := make([]string, 0, len(specific)+len(e.wildcard))
	for _, n := range specific {
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range e.wildcard {
		if _, dup := seen[n]; dup {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Run sets up every module in load order, seeds the ROOT event, starts the
// worker pool, and blocks until the scan drains naturally, ctx is
// cancelled, or Stop is called. It returns the final status.
func (e *Engine) Run(ctx context.Context, t target.Target) (Status, error) {
	if e.h == nil {
		return StatusErrored, sferrors.New(sferrors.ErrFatal, "", "", fmt.Errorf("dispatch: AttachHost was never called"))
	}

	e.h.SetTarget(t)
	for _, name := range e.cfg.LoadOrder {
		m := e.modules[name]
		if err := m.Setup(e.h, e.cfg.ModuleOptions[name]); err != nil {
			e.markErrored(name)
			e.log.ErrorCtx(ctx, "dispatch: module setup failed", "module", name, "error", err)
			continue
		}
		m.SetTarget(t)
	}
	e.buildSubscriptionIndex()

	if e.repo != nil {
		if err := e.repo.CreateScan(e.cfg.ScanID, e.cfg.ScanID, t.Value); err != nil {
			e.log.ErrorCtx(ctx, "dispatch: create scan record failed", "error", err)
		}
		if err := e.repo.SetScanStatus(e.cfg.ScanID, repository.StatusRunning, time.Now(), time.Time{}); err != nil {
			e.log.ErrorCtx(ctx, "dispatch: set scan status failed", "error", err)
		}
	}

	root := event.New(e.h.NextEventID(), event.TypeRoot, t.Value, "engine", 0, false, 100, 100, 0, "")
	e.enqueue(root, queue.PriorityNormal)

	for i := 0; i < e.cfg.Workers; i++ {
		e.workers.Add(1)
		go e.workerLoop(ctx)
	}

	drained := make(chan struct{})
	go func() {
		e.work.Wait()
		close(drained)
	}()

	status := StatusFinished
	select {
	case <-ctx.Done():
		status = StatusAborted
	case <-e.stopCh:
		status = StatusAborted
	case <-drained:
		status = StatusFinished
	}
	e.Stop()
	e.workers.Wait()

	if e.repo != nil {
		if err := e.repo.SetScanStatus(e.cfg.ScanID, toRepoStatus(status), time.Time{}, time.Now()); err != nil {
			e.log.ErrorCtx(ctx, "dispatch: finalize scan status failed", "error", err)
		}
	}
	return status, nil
}

func toRepoStatus(s Status) repository.Status {
	switch s {
	case StatusFinished:
		return repository.StatusFinished
	case StatusAborted:
		return repository.StatusAborted
	default:
		return repository.StatusErrored
	}
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer e.workers.Done()
	for {
		if ctx.Err() != nil || e.h.CheckForStop() {
			return
		}
		item := e.q.Get(e.cfg.DequeueTimeout)
		if item == nil {
			continue
		}
		e.processItem(ctx, item.Payload)
		e.work.Done()
	}
}

func (e *Engine) processItem(ctx context.Context, ev event.Event) {
	e.enr.Run(ev)
	e.agg.AddEvent(ev.Type(), ev.Data(), ev.ProducingModule(), ev.Confidence(), ev.Risk(), ev.GeneratedAt())
	atomic.AddInt64(&e.stats.EventsProcessed, 1)
	e.eventsCounter.Inc(1)

	if e.repo != nil {
		if err := e.repo.AppendEvent(e.cfg.ScanID, ev); err != nil {
			e.log.WarnCtx(ctx, "dispatch: append event to repository failed", "error", err)
		}
	}

	for _, name := range e.subscribersFor(ev.Type()) {
		if e.isErrored(name) {
			continue
		}
		if e.h.TempStorage(name).Seen(ev.Fingerprint()) {
			atomic.AddInt64(&e.stats.Duplicates, 1)
			continue
		}
		e.invokeModule(ctx, name, ev)
	}
}

func (e *Engine) invokeModule(ctx context.Context, name string, ev event.Event) {
	mu := e.moduleMu[name]
	mu.Lock()
	defer mu.Unlock()
	if e.isErrored(name) {
		return
	}

	m := e.modules[name]
	atomic.AddInt64(&e.stats.ModuleInvocations, 1)
	e.invocationCounter.Inc(1, name)

	err := e.safeHandle(m, ev)
	if err != nil {
		atomic.AddInt64(&e.stats.ModuleErrors, 1)
		e.errorCounter.Inc(1, name)
		e.markErrored(name)
		e.log.ErrorCtx(ctx, "dispatch: module handleEvent failed",
			"module", name, "event_type", ev.Type(), "error", err)
	}
}

func (e *Engine) safeHandle(m Module, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = sferrors.New(sferrors.ErrModuleFailure, m.Name(), ev.Type(), fmt.Errorf("panic: %v", r))
		}
	}()
	if herr := m.HandleEvent(ev); herr != nil {
		return sferrors.New(sferrors.ErrModuleFailure, m.Name(), ev.Type(), herr)
	}
	return nil
}

func (e *Engine) markErrored(name string) {
	e.erroredMu.Lock()
	e.errored[name] = true
	e.erroredMu.Unlock()
}

func (e *Engine) isErrored(name string) bool {
	e.erroredMu.Lock()
	defer e.erroredMu.Unlock()
	return e.errored[name]
}

// ErroredModules returns the names of modules that have transitioned to the
// errored state and are no longer dispatched to (spec.md §4.6, "A module
// may mark itself errored; subsequent events to it are skipped").
func (e *Engine) ErroredModules() []string {
	e.erroredMu.Lock()
	defer e.erroredMu.Unlock()
	out := make([]string, 0, len(e.errored))
	for name, v := range e.errored {
		if v {
			out = append(out, name)
		}
	}
	return out
}
