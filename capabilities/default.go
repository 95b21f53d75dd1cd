package capabilities

import "sync"

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a process-wide Registry instance, created lazily. Unlike
// the source's module-level get_capability_registry() singleton, callers
// are free to construct and inject their own Registry via New() instead —
// Default exists only to give a zero-config process a ready instance
// (SPEC_FULL.md §9: "global mutable singletons should be injectable
// dependencies with a default process-wide instance").
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}
