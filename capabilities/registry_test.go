package capabilities_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/capabilities"
)

func TestRegisterReplacesAndUpdatesIndex(t *testing.T) {
	r := capabilities.New()
	r.Register(capabilities.Declaration{
		ModuleName:   "sfp_dns",
		Capabilities: []capabilities.Capability{{Name: "dns_resolve", Category: capabilities.CategoryNetwork}},
	})
	assert.Equal(t, []string{"sfp_dns"}, r.FindProviders("dns_resolve"))

	r.Register(capabilities.Declaration{
		ModuleName:   "sfp_dns",
		Capabilities: []capabilities.Capability{{Name: "dns_resolve_v2", Category: capabilities.CategoryNetwork}},
	})
	assert.Empty(t, r.FindProviders("dns_resolve"), "replacing a declaration must drop its old index entries")
	assert.Equal(t, []string{"sfp_dns"}, r.FindProviders("dns_resolve_v2"))
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := capabilities.New()
	assert.NotPanics(t, func() { r.Unregister("does_not_exist") })
}

func TestCheckRequirements(t *testing.T) {
	r := capabilities.New()
	r.Register(capabilities.Declaration{
		ModuleName:   "sfp_dns",
		Capabilities: []capabilities.Capability{{Name: "dns_resolve", Category: capabilities.CategoryNetwork}},
	})
	r.Register(capabilities.Declaration{
		ModuleName:   "sfp_port",
		Requirements: []capabilities.Requirement{{Name: "dns_resolve", Required: true}, {Name: "geoip", Required: true}},
	})

	unmet := r.CheckRequirements([]string{"sfp_dns", "sfp_port"})
	require.Contains(t, unmet, "sfp_port")
	assert.Equal(t, []string{"geoip"}, unmet["sfp_port"])
}

func TestFindConflictsDeduplicatesBothDirections(t *testing.T) {
	r := capabilities.New()
	r.Register(capabilities.Declaration{ModuleName: "a", Conflicts: []string{"b"}})
	r.Register(capabilities.Declaration{ModuleName: "b", Conflicts: []string{"a"}})

	pairs := r.FindConflicts([]string{"a", "b"})
	require.Len(t, pairs, 1)
	assert.Equal(t, capabilities.ConflictPair{A: "a", B: "b"}, pairs[0])
}

func TestGetDependencyOrderStableSort(t *testing.T) {
	r := capabilities.New()
	r.Register(capabilities.Declaration{ModuleName: "z", Priority: 1})
	r.Register(capabilities.Declaration{ModuleName: "a", Priority: 1})
	r.Register(capabilities.Declaration{ModuleName: "m", Priority: 0})

	order := r.GetDependencyOrder([]string{"z", "a", "m"})
	assert.Equal(t, []string{"m", "a", "z"}, order)
}
