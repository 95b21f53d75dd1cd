package enrichment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/enrichment"
	"github.com/spiderfoot/core/event"
)

func sampleEvent(typ string) event.Event {
	return event.New(1, typ, "data", "sfp_test", 0, false, 100, 100, 0, "")
}

func TestRunsInPriorityOrder(t *testing.T) {
	p := enrichment.New()
	var order []string

	p.Register(enrichment.EnricherFunc{FuncName: "low", Fn: func(ctx *enrichment.Context) { order = append(order, "low") }}, enrichment.PriorityLow, nil)
	p.Register(enrichment.EnricherFunc{FuncName: "critical", Fn: func(ctx *enrichment.Context) { order = append(order, "critical") }}, enrichment.PriorityCritical, nil)
	p.Register(enrichment.EnricherFunc{FuncName: "normal", Fn: func(ctx *enrichment.Context) { order = append(order, "normal") }}, enrichment.PriorityNormal, nil)

	p.Run(sampleEvent("IP_ADDRESS"))
	require.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestEventTypeFilterScoping(t *testing.T) {
	p := enrichment.New()
	ran := false
	p.Register(enrichment.EnricherFunc{FuncName: "only-ip", Fn: func(ctx *enrichment.Context) { ran = true }}, enrichment.PriorityNormal, []string{"IP_ADDRESS"})

	p.Run(sampleEvent("EMAILADDR"))
	assert.False(t, ran)

	p.Run(sampleEvent("IP_ADDRESS"))
	assert.True(t, ran)
}

func TestSkipRemainingStopsChain(t *testing.T) {
	p := enrichment.New()
	secondRan := false
	p.Register(enrichment.EnricherFunc{FuncName: "first", Fn: func(ctx *enrichment.Context) {
		ctx.SkipRemaining = true
	}}, enrichment.PriorityCritical, nil)
	p.Register(enrichment.EnricherFunc{FuncName: "second", Fn: func(ctx *enrichment.Context) { secondRan = true }}, enrichment.PriorityLow, nil)

	p.Run(sampleEvent("IP_ADDRESS"))
	assert.False(t, secondRan)
}

func TestDisabledEnricherDoesNotRun(t *testing.T) {
	p := enrichment.New()
	ran := false
	p.Register(enrichment.EnricherFunc{FuncName: "x", Fn: func(ctx *enrichment.Context) { ran = true }}, enrichment.PriorityNormal, nil)
	p.SetEnabled("x", false)

	p.Run(sampleEvent("IP_ADDRESS"))
	assert.False(t, ran)
}

func TestStatsTrackInvocations(t *testing.T) {
	p := enrichment.New()
	p.Register(enrichment.TagInference, enrichment.PriorityNormal, nil)
	p.Run(sampleEvent("IP_ADDRESS"))
	p.Run(sampleEvent("EMAILADDR"))

	stats := p.GetStats()
	require.Contains(t, stats, "tag_inference")
	assert.EqualValues(t, 2, stats["tag_inference"].Invocations)
}

func TestTagInferenceClassifiesNetwork(t *testing.T) {
	p := enrichment.New()
	p.Register(enrichment.TagInference, enrichment.PriorityNormal, nil)
	tags := p.Run(sampleEvent("IP_ADDRESS"))
	assert.Equal(t, "network", tags["kind"])
}

func TestPanickingEnricherDoesNotBreakChain(t *testing.T) {
	p := enrichment.New()
	secondRan := false
	p.Register(enrichment.EnricherFunc{FuncName: "boom", Fn: func(ctx *enrichment.Context) { panic("x") }}, enrichment.PriorityCritical, nil)
	p.Register(enrichment.EnricherFunc{FuncName: "second", Fn: func(ctx *enrichment.Context) { secondRan = true }}, enrichment.PriorityLow, nil)

	p.Run(sampleEvent("IP_ADDRESS"))
	assert.True(t, secondRan)
}
