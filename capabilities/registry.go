// Package capabilities implements the Capability Registry (C3): declared
// capabilities, requirements, conflicts and tags per module, grounded on
// original_source/spiderfoot/module_caps.py.
package capabilities

import (
	"sort"
	"sync"
)

// Category is the closed taxonomy a Capability belongs to.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryDataSource   Category = "data_source"
	CategoryAnalysis     Category = "analysis"
	CategoryEnrichment   Category = "enrichment"
	CategoryStorage      Category = "storage"
	CategoryNotification Category = "notification"
	CategoryTransform    Category = "transform"
)

// Capability is a single declared capability a module provides.
type Capability struct {
	Name     string
	Category Category
}

// Requirement is a single declared dependency a module needs satisfied by
// some other selected module's Capability.
type Requirement struct {
	Name     string
	Required bool
}

// Declaration is everything one module declares about itself to the
// registry: its capabilities, requirements, conflicting modules, tags, and
// a priority used only as a resolver hint (§4.3).
type Declaration struct {
	ModuleName   string
	Capabilities []Capability
	Requirements []Requirement
	Conflicts    []string
	Tags         []string
	Priority     int
}

// CapabilityNames returns the declared capability names.
func (d Declaration) CapabilityNames() []string {
	out := make([]string, len(d.Capabilities))
	for i, c := range d.Capabilities {
		out[i] = c.Name
	}
	return out
}

// RequiredNames returns the names of requirements marked Required.
func (d Declaration) RequiredNames() []string {
	var out []string
	for _, r := range d.Requirements {
		if r.Required {
			out = append(out, r.Name)
		}
	}
	return out
}

// OptionalNames returns the names of requirements not marked Required.
func (d Declaration) OptionalNames() []string {
	var out []string
	for _, r := range d.Requirements {
		if !r.Required {
			out = append(out, r.Name)
		}
	}
	return out
}

// Registry is the thread-safe capability store. All mutating operations
// serialise (SPEC_FULL.md §5, "process-wide, protected by internal locks").
// It is an ordinary injectable type, not a hard singleton — Default in
// default.go supplies a process-wide default instance per §9's design note that
// global singletons become injectable dependencies with a default.
type Registry struct {
	mu           sync.RWMutex
	declarations map[string]Declaration
	capIndex     map[string]map[string]struct{} // capability name -> set of module names
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		declarations: make(map[string]Declaration),
		capIndex:     make(map[string]map[string]struct{}),
	}
}

// Register adds or atomically replaces a module's declaration, updating all
// indices. Registering a duplicate name replaces the prior declaration.
func (r *Registry) Register(d Declaration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.declarations[d.ModuleName]; ok {
		r.removeFromIndexLocked(old)
	}
	r.declarations[d.ModuleName] = d
	for _, c := range d.Capabilities {
		set := r.capIndex[c.Name]
		if set == nil {
			set = make(map[string]struct{})
			r.capIndex[c.Name] = set
		}
		set[d.ModuleName] = struct{}{}
	}
}

// Unregister removes a module's declaration. A no-op for an unknown name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.declarations[name]
	if !ok {
		return
	}
	r.removeFromIndexLocked(d)
	delete(r.declarations, name)
}

func (r *Registry) removeFromIndexLocked(d Declaration) {
	for _, c := range d.Capabilities {
		set := r.capIndex[c.Name]
		delete(set, d.ModuleName)
		if len(set) == 0 {
			delete(r.capIndex, c.Name)
		}
	}
}

// Get returns the declaration for name, if registered.
func (r *Registry) Get(name string) (Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.declarations[name]
	return d, ok
}

// FindProviders returns every module name that declares capName.
func (r *Registry) FindProviders(capName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.capIndex[capName]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FindByCategory returns every module declaring at least one capability in cat.
func (r *Registry) FindByCategory(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, d := range r.declarations {
		for _, c := range d.Capabilities {
			if c.Category == cat {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// FindByTag returns every module declaring tag.
func (r *Registry) FindByTag(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, d := range r.declarations {
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ConflictPair is an unordered pair of module names that mutually (or
// one-directionally, per the source) declare a conflict.
type ConflictPair struct{ A, B string }

// FindConflicts returns every pair within names where one declares the
// other in Conflicts, deduplicated regardless of declaration direction.
func (r *Registry) FindConflicts(names []string) []ConflictPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make(map[string]struct{}, len(names))
	for _, n := range names {
		selected[n] = struct{}{}
	}
	seen := make(map[[2]string]struct{})
	var out []ConflictPair
	for _, a := range names {
		da, ok := r.declarations[a]
		if !ok {
			continue
		}
		for _, b := range da.Conflicts {
			if _, in := selected[b]; !in {
				continue
			}
			pair := sortedPair(a, b)
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			out = append(out, ConflictPair{A: pair[0], B: pair[1]})
		}
	}
	return out
}

func sortedPair(a, b string) [2]string {
	if a <= b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// CheckRequirements reports, per module in names, which of its Required
// requirements are unmet by the union of capabilities provided across all
// of names.
func (r *Registry) CheckRequirements(names []string) map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provided := make(map[string]struct{})
	for _, n := range names {
		if d, ok := r.declarations[n]; ok {
			for _, c := range d.Capabilities {
				provided[c.Name] = struct{}{}
			}
		}
	}

	unmet := make(map[string][]string)
	for _, n := range names {
		d, ok := r.declarations[n]
		if !ok {
			continue
		}
		var missing []string
		for _, req := range d.Requirements {
			if !req.Required {
				continue
			}
			if _, ok := provided[req.Name]; !ok {
				missing = append(missing, req.Name)
			}
		}
		if len(missing) > 0 {
			unmet[n] = missing
		}
	}
	return unmet
}

// GetDependencyOrder returns names sorted by (priority asc, required-count
// asc, name asc). This is a hint only — the Module Resolver (C4) computes
// the authoritative topological order.
func (r *Registry) GetDependencyOrder(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(names))
	copy(out, names)
	sort.Slice(out, func(i, j int) bool {
		di, dOKi := r.declarations[out[i]]
		dj, dOKj := r.declarations[out[j]]
		pi, pj := 0, 0
		if dOKi {
			pi = di.Priority
		}
		if dOKj {
			pj = dj.Priority
		}
		if pi != pj {
			return pi < pj
		}
		ri, rj := 0, 0
		if dOKi {
			ri = len(di.RequiredNames())
		}
		if dOKj {
			rj = len(dj.RequiredNames())
		}
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// AllCapabilities returns every distinct capability name registered.
func (r *Registry) AllCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.capIndex))
	for name := range r.capIndex {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AllTags returns every distinct tag across all registered declarations.
func (r *Registry) AllTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, d := range r.declarations {
		for _, t := range d.Tags {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ModuleCount returns the number of registered declarations.
func (r *Registry) ModuleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.declarations)
}

// CapabilityCount returns the number of distinct registered capability names.
func (r *Registry) CapabilityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capIndex)
}
