package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/event"
)

func TestFingerprintCanonicalisesHostnames(t *testing.T) {
	a := event.Fingerprint("INTERNET_NAME", "Example.COM.")
	b := event.Fingerprint("INTERNET_NAME", "example.com")
	assert.Equal(t, a, b, "hostname types must canonicalise case and trailing dot")
}

func TestFingerprintStableAndTypeScoped(t *testing.T) {
	a := event.Fingerprint("MALICIOUS_IPADDR", "1.2.3.4")
	b := event.Fingerprint("MALICIOUS_IPADDR", "1.2.3.4")
	c := event.Fingerprint("IP_ADDRESS", "1.2.3.4")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "fingerprint must be type-scoped")
}

func TestClampsConfidenceVisibilityRisk(t *testing.T) {
	e := event.New(1, "IP_ADDRESS", "1.2.3.4", "sfp_dns", 0, false, 500, -20, 101, "")
	assert.Equal(t, 100, e.Confidence())
	assert.Equal(t, 0, e.Visibility())
	assert.Equal(t, 100, e.Risk())
}

func TestArenaLineageRootFirst(t *testing.T) {
	a := event.NewArena()
	root := event.New(a.NextID(), event.TypeRoot, "example.com", "engine", 0, false, 100, 100, 0, "")
	a.Put(root)
	child := event.New(a.NextID(), "INTERNET_NAME", "example.com", "sfp_dns", root.ID(), true, 100, 100, 0, "")
	a.Put(child)
	grandchild := event.New(a.NextID(), "IP_ADDRESS", "1.2.3.4", "sfp_dns", child.ID(), true, 100, 100, 0, "")
	a.Put(grandchild)

	chain := a.Lineage(grandchild)
	require.Len(t, chain, 3)
	assert.Equal(t, root.ID(), chain[0].ID())
	assert.Equal(t, child.ID(), chain[1].ID())
	assert.Equal(t, grandchild.ID(), chain[2].ID())
}

func TestArenaClearFreesEverything(t *testing.T) {
	a := event.NewArena()
	a.Put(event.New(a.NextID(), event.TypeRoot, "x", "engine", 0, false, 0, 0, 0, ""))
	require.Equal(t, 1, a.Len())
	a.Clear()
	assert.Equal(t, 0, a.Len())
}
