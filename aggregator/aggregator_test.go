package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/aggregator"
)

func TestAddEventUpdatesAllIndices(t *testing.T) {
	a := aggregator.New("scan-1")
	a.AddEvent("IP_ADDRESS", "192.168.1.1", "sfp_dns", 100, 30, time.Time{})
	a.AddEvent("MALICIOUS_IPADDR", "192.168.1.1", "sfp_virustotal", 90, 80, time.Time{})

	assert.Equal(t, 2, a.TotalEvents())
	assert.Equal(t, 2, a.UniqueTypes())
	assert.Equal(t, 2, a.UniqueModules())

	breakdown := a.GetCategoryBreakdown()
	assert.Equal(t, 1, breakdown["INFRASTRUCTURE"])
	assert.Equal(t, 1, breakdown["THREAT"])
}

func TestOverallRiskScoreWeighting(t *testing.T) {
	a := aggregator.New("scan-1")
	a.AddEvent("VULNERABILITY_CVE_HIGH", "CVE-1", "m", 100, 30, time.Time{})
	a.AddEvent("MALICIOUS_IPADDR", "1.2.3.4", "m", 100, 80, time.Time{})

	score := a.OverallRiskScore()
	assert.Greater(t, score, 30.0, "higher-risk events should pull the weighted average up")
	assert.LessOrEqual(t, score, 100.0)
}

func TestOverallRiskScoreZeroWithNoRiskEvents(t *testing.T) {
	a := aggregator.New("scan-1")
	a.AddEvent("IP_ADDRESS", "1.2.3.4", "m", 100, 0, time.Time{})
	assert.Equal(t, 0.0, a.OverallRiskScore())
}

func TestGetTopRiskEventsSortedDescending(t *testing.T) {
	a := aggregator.New("scan-1")
	a.AddEvent("MALICIOUS_IPADDR", "low", "m", 100, 10, time.Time{})
	a.AddEvent("MALICIOUS_IPADDR", "high", "m", 100, 90, time.Time{})

	top := a.GetTopRiskEvents(10)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Data)
	assert.Equal(t, "low", top[1].Data)
}

func TestResetIsIdempotentForReplay(t *testing.T) {
	a := aggregator.New("scan-1")
	events := []struct {
		typ, data, module string
		confidence, risk  int
	}{
		{"IP_ADDRESS", "1.2.3.4", "sfp_dns", 100, 30},
		{"MALICIOUS_IPADDR", "1.2.3.4", "sfp_vt", 90, 80},
	}
	replay := func() aggregator.Summary {
		for _, e := range events {
			a.AddEvent(e.typ, e.data, e.module, e.confidence, e.risk, time.Time{})
		}
		return a.GetSummary()
	}

	first := replay()
	a.Reset()
	second := replay()

	assert.Equal(t, first.CategoryBreakdown, second.CategoryBreakdown)
	assert.Equal(t, first.ModuleStats, second.ModuleStats)
	assert.Equal(t, first.OverallRiskScore, second.OverallRiskScore)
}

func TestGetTimelineSingleBucketWhenNoSpan(t *testing.T) {
	a := aggregator.New("scan-1")
	now := time.Now()
	a.AddEvent("IP_ADDRESS", "1.2.3.4", "m", 100, 0, now)
	a.AddEvent("IP_ADDRESS", "1.2.3.5", "m", 100, 0, now)

	timeline := a.GetTimeline(10)
	require.Len(t, timeline, 1)
	assert.Equal(t, 2, timeline[0].Count)
}

func TestRenderMarkdownReportConvertsHTMLEvidence(t *testing.T) {
	a := aggregator.New("scan-1")
	a.AddEvent("WEBCONTENT", "<p>found <b>admin</b> panel</p>", "sfp_spider", 90, 60, time.Time{})
	a.AddEvent("IP_ADDRESS", "1.2.3.4", "sfp_dns", 100, 20, time.Time{})

	report, err := a.RenderMarkdownReport()
	require.NoError(t, err)
	assert.Contains(t, report, "scan-1")
	assert.Contains(t, report, "**admin**")
	assert.Contains(t, report, "1.2.3.4")
	assert.NotContains(t, report, "<p>")
}
