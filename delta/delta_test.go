package delta_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/delta"
)

// S5: baseline has one medium-risk CVE; current has the same CVE escalated
// plus a brand new high-risk malicious-IP finding.
func TestAnalyzeScenarioS5(t *testing.T) {
	a := delta.New(nil)
	baseline := []delta.Finding{
		{Type: "VULNERABILITY_CVE", Data: "CVE-1", Module: "sfp_vulndb", Risk: 30},
	}
	current := []delta.Finding{
		{Type: "VULNERABILITY_CVE", Data: "CVE-1", Module: "sfp_vulndb", Risk: 80},
		{Type: "MALICIOUS_IPADDR", Data: "1.2.3.4", Module: "sfp_virustotal", Risk: 80},
	}

	result := a.Analyze(baseline, current)

	added := result.Added()
	require.Len(t, added, 1)
	assert.Equal(t, "MALICIOUS_IPADDR", added[0].Finding.Type)

	changed := result.Changed()
	require.Len(t, changed, 1)
	assert.Equal(t, 50, changed[0].Finding.Risk-changed[0].Previous.Risk)

	rd := result.WeightedRiskDelta()
	assert.Greater(t, rd, 0.0)
	assert.LessOrEqual(t, rd, 100.0)
	assert.Equal(t, "F", result.Grade())
}

// Delta symmetry invariant: delta(A,B) reports exactly the complements of
// delta(B,A) for ADDED/REMOVED, CHANGED entries swap old/new data, and
// UNCHANGED is invariant under swap.
func TestAnalyzeSymmetry(t *testing.T) {
	a := delta.New(nil)
	scanA := []delta.Finding{
		{Type: "IP_ADDRESS", Data: "1.1.1.1", Risk: 10},
		{Type: "IP_ADDRESS", Data: "2.2.2.2", Risk: 20},
	}
	scanB := []delta.Finding{
		{Type: "IP_ADDRESS", Data: "2.2.2.2", Risk: 90},
		{Type: "IP_ADDRESS", Data: "3.3.3.3", Risk: 30},
	}

	forward := a.Analyze(scanA, scanB)
	backward := a.Analyze(scanB, scanA)

	assert.Equal(t, len(forward.Added()), len(backward.Removed()))
	assert.Equal(t, len(forward.Removed()), len(backward.Added()))
	assert.Equal(t, forward.Added()[0].Finding.Data, backward.Removed()[0].Finding.Data)

	fChanged, bChanged := forward.Changed(), backward.Changed()
	require.Len(t, fChanged, 1)
	require.Len(t, bChanged, 1)
	assert.Equal(t, fChanged[0].Finding.Risk, bChanged[0].Previous.Risk)
	assert.Equal(t, fChanged[0].Previous.Risk, bChanged[0].Finding.Risk)

	assert.Len(t, forward.Unchanged(), 0)
	assert.Len(t, backward.Unchanged(), 0)
}

func TestAnalyzeIgnoresConfiguredTypes(t *testing.T) {
	a := delta.New([]string{"RAW_DATA"})
	baseline := []delta.Finding{{Type: "RAW_DATA", Data: "noise", Risk: 0}}
	current := []delta.Finding{{Type: "RAW_DATA", Data: "more noise", Risk: 0}}

	result := a.Analyze(baseline, current)
	assert.Len(t, result.Changes(), 0)
}

func TestAnalyzeSeriesTracksTrend(t *testing.T) {
	a := delta.New(nil)
	scans := []struct {
		ScanID   string
		Findings []delta.Finding
	}{
		{ScanID: "s1", Findings: []delta.Finding{{Type: "IP_ADDRESS", Data: "1.1.1.1", Risk: 10}}},
		{ScanID: "s2", Findings: []delta.Finding{
			{Type: "IP_ADDRESS", Data: "1.1.1.1", Risk: 10},
			{Type: "MALICIOUS_IPADDR", Data: "9.9.9.9", Risk: 90},
		}},
	}

	results := a.AnalyzeSeries(scans)
	require.Len(t, results, 1)

	trend := a.GetTrend()
	require.Len(t, trend, 1)
	assert.Equal(t, "s2", trend[0].ScanID)
	assert.Equal(t, 2, trend[0].TotalFindings)
	assert.Equal(t, 1, trend[0].NewFindings)
}

func TestRiskToSeverityBuckets(t *testing.T) {
	assert.Equal(t, delta.SeverityCritical, delta.RiskToSeverity(95))
	assert.Equal(t, delta.SeverityHigh, delta.RiskToSeverity(75))
	assert.Equal(t, delta.SeverityMedium, delta.RiskToSeverity(50))
	assert.Equal(t, delta.SeverityLow, delta.RiskToSeverity(15))
	assert.Equal(t, delta.SeverityInfo, delta.RiskToSeverity(5))
}
