package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/telemetry/metrics"
)

func TestNoopProviderDiscardsObservations(t *testing.T) {
	p := metrics.NewNoopProvider()
	c := p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Name: "x"}})
	c.Inc(1)
	require.NoError(t, p.Health(context.Background()))
}

func TestPrometheusProviderAcceptsLabelledIncrements(t *testing.T) {
	p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	counter := p.NewCounter(metrics.CounterOpts{
		CommonOpts: metrics.CommonOpts{Namespace: "spiderfoot", Name: "events_total", Labels: []string{"module"}},
	})
	counter.Inc(1, "sfp_dns")
	counter.Inc(2, "sfp_dns")

	require.NoError(t, p.Health(context.Background()))
	assert.NotNil(t, p.MetricsHandler())
}

func TestPrometheusProviderReusesRegisteredMetric(t *testing.T) {
	p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	opts := metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Name: "reused_total"}}

	first := p.NewCounter(opts)
	second := p.NewCounter(opts)
	first.Inc(1)
	second.Inc(1)
	require.NoError(t, p.Health(context.Background()))
}

func TestPrometheusProviderRejectsInvalidName(t *testing.T) {
	p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	c := p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Name: "bad name!"}})
	c.Inc(1) // must not panic on the noop fallback
}
