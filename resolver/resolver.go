// Package resolver implements the Module Resolver (C4): turns declared
// watched/produced events plus a target event-type set into a satisfiable,
// topologically ordered execution plan, grounded on
// original_source/spiderfoot/module_resolver.py.
package resolver

import (
	"sort"

	"github.com/spiderfoot/core/event"
)

// Status is the outcome of a Resolve call.
type Status string

const (
	StatusOK           Status = "OK"
	StatusMissingDeps  Status = "MISSING_DEPS"
	StatusCircular     Status = "CIRCULAR"
)

// Descriptor is everything the resolver needs to know about one module
// (ModuleDescriptor, C4).
type Descriptor struct {
	Name           string
	WatchedEvents  []string
	ProducedEvents []string
	RequiredEvents []string // subset of WatchedEvents; hard deps. If empty, any one available WatchedEvents type suffices.
	OptionalEvents []string
	Priority       int
	Enabled        bool
}

// Resolver holds the registered module descriptors and the derived
// producer/consumer indices.
type Resolver struct {
	modules   map[string]Descriptor
	producers map[string][]string // event type -> producing module names
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{
		modules:   make(map[string]Descriptor),
		producers: make(map[string][]string),
	}
}

// Register adds or replaces a module descriptor and rebuilds its producer
// index entries.
func (r *Resolver) Register(d Descriptor) {
	if old, ok := r.modules[d.Name]; ok {
		r.removeFromProducers(old)
	}
	r.modules[d.Name] = d
	for _, et := range d.ProducedEvents {
		r.producers[et] = appendUnique(r.producers[et], d.Name)
	}
}

// RegisterMany registers each of ds in order.
func (r *Resolver) RegisterMany(ds []Descriptor) {
	for _, d := range ds {
		r.Register(d)
	}
}

// Unregister removes a module descriptor; a no-op for an unknown name.
func (r *Resolver) Unregister(name string) {
	d, ok := r.modules[name]
	if !ok {
		return
	}
	r.removeFromProducers(d)
	delete(r.modules, name)
}

func (r *Resolver) removeFromProducers(d Descriptor) {
	for _, et := range d.ProducedEvents {
		r.producers[et] = removeString(r.producers[et], d.Name)
		if len(r.producers[et]) == 0 {
			delete(r.producers, et)
		}
	}
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Get returns a module's descriptor.
func (r *Resolver) Get(name string) (Descriptor, bool) {
	d, ok := r.modules[name]
	return d, ok
}

// ProducersOf returns the registered modules that produce event type et.
func (r *Resolver) ProducersOf(et string) []string {
	out := make([]string, len(r.producers[et]))
	copy(out, r.producers[et])
	sort.Strings(out)
	return out
}

// isEngineProduced reports whether et is produced by the engine itself
// (ROOT or the wildcard), never by a module, and therefore terminates a
// resolver walk without a "missing" entry.
func isEngineProduced(et string) bool {
	return et == event.TypeRoot || et == event.TypeWildcard
}

// Request parameterises a Resolve call.
type Request struct {
	TargetEventTypes []string
	RequiredModules  []string
	ExcludedModules  []string
	IncludeOptional  bool
}

// Result is the outcome of resolving a Request.
type Result struct {
	Status         Status
	LoadOrder      []string
	MissingEvents  map[string][]string // module name -> unmet event types
	CircularChains [][]string
}

// Resolve computes a satisfying module set, its topological load order, and
// any missing-dependency or circularity diagnostics, per SPEC_FULL.md §4.4.
func (r *Resolver) Resolve(req Request) Result {
	excluded := toSet(req.ExcludedModules)

	// 1. Seed with required modules that are registered and not excluded.
	selected := make(map[string]struct{})
	for _, name := range req.RequiredModules {
		if _, ok := r.modules[name]; !ok {
			continue
		}
		if _, ex := excluded[name]; ex {
			continue
		}
		selected[name] = struct{}{}
	}

	// 2. Reverse BFS from each target event type through producers.
	var queue []string
	queue = append(queue, req.TargetEventTypes...)
	visitedEvents := make(map[string]struct{})
	for len(queue) > 0 {
		et := queue[0]
		queue = queue[1:]
		if _, seen := visitedEvents[et]; seen {
			continue
		}
		visitedEvents[et] = struct{}{}
		if isEngineProduced(et) {
			continue
		}
		for _, p := range r.producers[et] {
			if _, ex := excluded[p]; ex {
				continue
			}
			if _, already := selected[p]; already {
				continue
			}
			selected[p] = struct{}{}
			if d, ok := r.modules[p]; ok {
				queue = append(queue, d.WatchedEvents...)
			}
		}
	}

	// 3. Close the set over required/optional events until fixed point.
	missing := make(map[string][]string)
	changed := true
	for changed {
		changed = false
		for name := range snapshotKeys(selected) {
			d, ok := r.modules[name]
			if !ok {
				continue
			}
			need := d.RequiredEvents
			// Without declared required events, the watched events are
			// alternatives: the module is satisfied when any one of them is
			// available (a ROOT or wildcard watch included).
			anyOf := len(need) == 0
			if anyOf {
				need = d.WatchedEvents
			}
			if req.IncludeOptional {
				need = append(append([]string{}, need...), d.OptionalEvents...)
			}
			var unmet []string
			for _, et := range need {
				if et == event.TypeWildcard || isEngineProduced(et) {
					continue
				}
				if hasNonExcludedProducer(selected, r.producers[et], excluded) {
					continue
				}
				// try to add a producer
				added := false
				for _, p := range r.producers[et] {
					if _, ex := excluded[p]; ex {
						continue
					}
					if _, already := selected[p]; !already {
						selected[p] = struct{}{}
						changed = true
						added = true
					}
				}
				if !added && !hasNonExcludedProducer(selected, r.producers[et], excluded) {
					unmet = append(unmet, et)
				}
			}
			if !anyOf || len(unmet) == len(need) {
				for _, et := range unmet {
					missing[name] = appendUnique(missing[name], et)
				}
			}
		}
	}
	// Re-check missing after closure settled, since a later-added producer
	// may satisfy an earlier module's requirement.
	for name, ets := range missing {
		var stillMissing []string
		for _, et := range ets {
			if !hasNonExcludedProducer(selected, r.producers[et], excluded) {
				stillMissing = append(stillMissing, et)
			}
		}
		if len(stillMissing) == 0 || (len(r.modules[name].RequiredEvents) == 0 && len(stillMissing) < len(ets)) {
			delete(missing, name)
		} else {
			missing[name] = stillMissing
		}
	}

	names := make([]string, 0, len(selected))
	for n := range selected {
		names = append(names, n)
	}

	order, remainder := r.topoSort(names)

	if len(remainder) > 0 {
		sort.Strings(remainder)
		return Result{
			Status:         StatusCircular,
			CircularChains: [][]string{remainder},
		}
	}

	if len(missing) > 0 {
		return Result{Status: StatusMissingDeps, LoadOrder: order, MissingEvents: missing}
	}

	return Result{Status: StatusOK, LoadOrder: order}
}

func hasNonExcludedProducer(selected map[string]struct{}, producers []string, excluded map[string]struct{}) bool {
	for _, p := range producers {
		if _, ex := excluded[p]; ex {
			continue
		}
		if _, ok := selected[p]; ok {
			return true
		}
	}
	return false
}

func snapshotKeys(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func toSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

// topoSort runs Kahn's algorithm over producer->consumer edges (an edge
// exists iff consumer watches a type producer emits, excluding self-edges),
// breaking ties by ascending module name for determinism. It returns the
// ordered prefix and the remaining names that could not be ordered (i.e.
// participate in a cycle).
func (r *Resolver) topoSort(names []string) (order []string, remainder []string) {
	inSelected := toSet(names)
	indegree := make(map[string]int, len(names))
	adj := make(map[string][]string, len(names)) // producer -> consumers
	for _, n := range names {
		indegree[n] = 0
	}
	for _, consumer := range names {
		d, ok := r.modules[consumer]
		if !ok {
			continue
		}
		watched := toSet(d.WatchedEvents)
		producersSeen := make(map[string]struct{})
		for et := range watched {
			for _, producer := range r.producers[et] {
				if producer == consumer {
					continue
				}
				if _, ok := inSelected[producer]; !ok {
					continue
				}
				if _, dup := producersSeen[producer]; dup {
					continue
				}
				producersSeen[producer] = struct{}{}
				adj[producer] = append(adj[producer], consumer)
				indegree[consumer]++
			}
		}
	}

	var ready []string
	for _, n := range names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	visited := make(map[string]struct{})
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		if _, done := visited[n]; done {
			continue
		}
		visited[n] = struct{}{}
		order = append(order, n)
		for _, consumer := range adj[n] {
			indegree[consumer]--
			if indegree[consumer] == 0 {
				ready = append(ready, consumer)
			}
		}
	}

	if len(order) < len(names) {
		orderedSet := toSet(order)
		for _, n := range names {
			if _, ok := orderedSet[n]; !ok {
				remainder = append(remainder, n)
			}
		}
	}
	return order, remainder
}

// CheckSatisfaction ignores ordering and reports which watched events of
// names have no producer within names (supplementary operation, §4.4).
func (r *Resolver) CheckSatisfaction(names []string) map[string][]string {
	selected := toSet(names)
	unmet := make(map[string][]string)
	for _, n := range names {
		d, ok := r.modules[n]
		if !ok {
			continue
		}
		var missing []string
		for _, et := range d.WatchedEvents {
			if et == event.TypeWildcard || isEngineProduced(et) {
				continue
			}
			if !hasNonExcludedProducer(selected, r.producers[et], map[string]struct{}{}) {
				missing = append(missing, et)
			}
		}
		if len(missing) > 0 {
			unmet[n] = missing
		}
	}
	return unmet
}

// AllEventTypes returns every watched or produced event type across all
// registered modules.
func (r *Resolver) AllEventTypes() []string {
	set := make(map[string]struct{})
	for _, d := range r.modules {
		for _, et := range d.WatchedEvents {
			set[et] = struct{}{}
		}
		for _, et := range d.ProducedEvents {
			set[et] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for et := range set {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}
