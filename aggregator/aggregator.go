// Package aggregator implements the Result Aggregator (C8): converts a
// stream of emitted events into categorised, risk-scored summaries.
// Grounded on original_source/spiderfoot/result_aggregator.py.
package aggregator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// record is the internal per-event retained for top-N/timeline queries.
type record struct {
	eventType  string
	data       string
	module     string
	confidence int
	risk       int
	timestamp  time.Time
}

// TypeStats holds running per-event-type statistics, derived in O(1)
// amortised per event without storing every event's full body (TypeStats, C8).
type TypeStats struct {
	EventType     string
	Count         int
	UniqueValues  int
	AvgConfidence float64
	AvgRisk       float64
	MaxRisk       int
	Modules       []string

	confidenceSum float64
	riskSum       float64
	values        map[string]struct{}
	moduleSet     map[string]struct{}
}

func newTypeStats(eventType string) *TypeStats {
	return &TypeStats{
		EventType: eventType,
		values:    make(map[string]struct{}),
		moduleSet: make(map[string]struct{}),
	}
}

func (s *TypeStats) record(data, module string, confidence, risk int) {
	s.Count++
	s.values[data] = struct{}{}
	s.UniqueValues = len(s.values)
	s.moduleSet[module] = struct{}{}
	s.Modules = sortedKeys(s.moduleSet)
	s.confidenceSum += float64(confidence)
	s.riskSum += float64(risk)
	s.AvgConfidence = round1(s.confidenceSum / float64(s.Count))
	s.AvgRisk = round1(s.riskSum / float64(s.Count))
	if risk > s.MaxRisk {
		s.MaxRisk = risk
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// categoryMap is the deterministic ordered prefix table used to derive a
// category from an event type. Order matters: the first matching entry
// wins, exactly mirroring the Python dict-iteration-order semantics.
var categoryMap = []struct {
	prefix   string
	category string
}{
	{"MALICIOUS_", "THREAT"},
	{"BLACKLISTED_", "THREAT"},
	{"VULNERABILITY_", "VULNERABILITY"},
	{"DEFACED_", "THREAT"},
	{"EMAILADDR", "IDENTITY"},
	{"HUMAN_NAME", "IDENTITY"},
	{"PERSON_NAME", "IDENTITY"},
	{"USERNAME", "IDENTITY"},
	{"PHONE_NUMBER", "IDENTITY"},
	{"IP_ADDRESS", "INFRASTRUCTURE"},
	{"IPV6_ADDRESS", "INFRASTRUCTURE"},
	{"INTERNET_NAME", "INFRASTRUCTURE"},
	{"DOMAIN_NAME", "INFRASTRUCTURE"},
	{"NETBLOCK_", "INFRASTRUCTURE"},
	{"TCP_PORT_", "INFRASTRUCTURE"},
	{"UDP_PORT_", "INFRASTRUCTURE"},
	{"SSL_CERTIFICATE_", "CERTIFICATE"},
	{"URL_", "WEB"},
	{"TARGET_WEB_", "WEB"},
	{"WEBSERVER_", "WEB"},
	{"DNS_", "DNS"},
	{"BGP_", "NETWORK"},
	{"SOCIAL_MEDIA", "SOCIAL"},
	{"ACCOUNT_EXTERNAL", "SOCIAL"},
	{"CLOUD_STORAGE_", "CLOUD"},
	{"PROVIDER_", "INFRASTRUCTURE"},
	{"GEOINFO", "GEOLOCATION"},
	{"COUNTRY_NAME", "GEOLOCATION"},
	{"PHYSICAL_", "GEOLOCATION"},
}

func categorize(eventType string) string {
	for _, entry := range categoryMap {
		if eventType == entry.prefix || hasPrefix(eventType, entry.prefix) {
			return entry.category
		}
	}
	return "OTHER"
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// RiskEvent is a summary-friendly view of one risky finding.
type RiskEvent struct {
	EventType  string
	Data       string
	Module     string
	Risk       int
	Confidence int
}

// TimelineBucket is one equal-width slice of the observed event timeline.
type TimelineBucket struct {
	Bucket int
	Start  time.Time
	End    time.Time
	Count  int
}

// Summary bundles the aggregate view returned by GetSummary.
type Summary struct {
	ScanID            string
	TotalEvents       int
	UniqueTypes       int
	UniqueModules     int
	DurationSeconds   float64
	OverallRiskScore  float64
	CategoryBreakdown map[string]int
	TopRiskEvents     []RiskEvent
	TopEntities       []EntityCount
	ModuleStats       map[string]int
}

// EntityCount pairs a data value with its occurrence count.
type EntityCount struct {
	Value string
	Count int
}

// Aggregator is the single-writer result aggregator: the engine sink.
// Readers see consistent snapshots via the copy-out methods below
// (SPEC_FULL.md §5, "the Aggregator is single-writer... readers see
// consistent snapshots via copy-out methods").
type Aggregator struct {
	mu sync.RWMutex

	scanID    string
	startTime time.Time

	events         []record
	typeStats      map[string]*TypeStats
	moduleCounts   map[string]int
	categoryCounts map[string]int
	riskEvents     []record
}

// New constructs an Aggregator for scanID.
func New(scanID string) *Aggregator {
	return &Aggregator{
		scanID:         scanID,
		startTime:      time.Now(),
		typeStats:      make(map[string]*TypeStats),
		moduleCounts:   make(map[string]int),
		categoryCounts: make(map[string]int),
	}
}

// AddEvent records one event into every index in O(1) amortised.
func (a *Aggregator) AddEvent(eventType, data, module string, confidence, risk int, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := record{eventType: eventType, data: data, module: module, confidence: confidence, risk: risk, timestamp: ts}
	a.events = append(a.events, rec)

	ts2, ok := a.typeStats[eventType]
	if !ok {
		ts2 = newTypeStats(eventType)
		a.typeStats[eventType] = ts2
	}
	ts2.record(data, module, confidence, risk)

	a.moduleCounts[module]++
	a.categoryCounts[categorize(eventType)]++

	if risk > 0 {
		a.riskEvents = append(a.riskEvents, rec)
	}
}

// TotalEvents returns the number of recorded events.
func (a *Aggregator) TotalEvents() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

// UniqueTypes returns the number of distinct event types seen.
func (a *Aggregator) UniqueTypes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.typeStats)
}

// UniqueModules returns the number of distinct modules that have produced events.
func (a *Aggregator) UniqueModules() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.moduleCounts)
}

// Duration returns elapsed time since the aggregator (or the scan) started.
func (a *Aggregator) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Since(a.startTime)
}

// OverallRiskScore computes a self-weighted risk score in [0,100]: higher
// risk events count more (SPEC_FULL.md §4.8 scoring formula).
func (a *Aggregator) OverallRiskScore() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.riskEvents) == 0 {
		return 0.0
	}
	var totalWeight, weightedSum float64
	for _, e := range a.riskEvents {
		weight := float64(e.risk) / 100.0
		weightedSum += float64(e.risk) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.0
	}
	raw := weightedSum / totalWeight
	if raw > 100 {
		raw = 100
	}
	return round1(raw)
}

// GetTypeStats returns a copy of per-type statistics, keyed by type name.
func (a *Aggregator) GetTypeStats() map[string]TypeStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]TypeStats, len(a.typeStats))
	for k, v := range a.typeStats {
		out[k] = *v
	}
	return out
}

// GetModuleStats returns a copy of the per-module event counts as a map; the
// map carries no ordering.
func (a *Aggregator) GetModuleStats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.moduleCounts))
	for k, v := range a.moduleCounts {
		out[k] = v
	}
	return out
}

// GetCategoryBreakdown returns per-category event counts.
func (a *Aggregator) GetCategoryBreakdown() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.categoryCounts))
	for k, v := range a.categoryCounts {
		out[k] = v
	}
	return out
}

// GetTopRiskEvents returns up to limit of the highest-risk events, data
// truncated to 200 characters as in the source.
func (a *Aggregator) GetTopRiskEvents(limit int) []RiskEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sorted := make([]record, len(a.riskEvents))
	copy(sorted, a.riskEvents)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].risk > sorted[j].risk })
	if limit > len(sorted) {
		limit = len(sorted)
	}
	out := make([]RiskEvent, limit)
	for i := 0; i < limit; i++ {
		data := sorted[i].data
		if len(data) > 200 {
			data = data[:200]
		}
		out[i] = RiskEvent{
			EventType:  sorted[i].eventType,
			Data:       data,
			Module:     sorted[i].module,
			Risk:       sorted[i].risk,
			Confidence: sorted[i].confidence,
		}
	}
	return out
}

// GetTopEntities returns up to limit of the most frequently occurring data
// values, skipping values longer than 200 characters (treated as raw blobs).
func (a *Aggregator) GetTopEntities(limit int) []EntityCount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[string]int)
	var order []string
	for _, e := range a.events {
		if len(e.data) > 200 {
			continue
		}
		if _, ok := counts[e.data]; !ok {
			order = append(order, e.data)
		}
		counts[e.data]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if limit > len(order) {
		limit = len(order)
	}
	out := make([]EntityCount, limit)
	for i := 0; i < limit; i++ {
		out[i] = EntityCount{Value: order[i], Count: counts[order[i]]}
	}
	return out
}

// GetTimeline buckets the observed events into `buckets` equal-width ranges
// over [min_ts, max_ts]; the final bucket is inclusive of max_ts.
func (a *Aggregator) GetTimeline(buckets int) []TimelineBucket {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.events) == 0 {
		return nil
	}

	minTS, maxTS := a.events[0].timestamp, a.events[0].timestamp
	for _, e := range a.events {
		if e.timestamp.Before(minTS) {
			minTS = e.timestamp
		}
		if e.timestamp.After(maxTS) {
			maxTS = e.timestamp
		}
	}
	span := maxTS.Sub(minTS)
	if span == 0 {
		return []TimelineBucket{{Start: minTS, End: maxTS, Count: len(a.events)}}
	}

	bucketSize := span / time.Duration(buckets)
	out := make([]TimelineBucket, buckets)
	for i := 0; i < buckets; i++ {
		start := minTS.Add(time.Duration(i) * bucketSize)
		end := start.Add(bucketSize)
		count := 0
		for _, e := range a.events {
			if (e.timestamp.Equal(start) || e.timestamp.After(start)) && e.timestamp.Before(end) {
				count++
			} else if i == buckets-1 && e.timestamp.Equal(end) {
				count++
			}
		}
		out[i] = TimelineBucket{Bucket: i, Start: start, End: end, Count: count}
	}
	return out
}

// GetSummary returns a comprehensive scan summary.
func (a *Aggregator) GetSummary() Summary {
	return Summary{
		ScanID:            a.scanID,
		TotalEvents:       a.TotalEvents(),
		UniqueTypes:       a.UniqueTypes(),
		UniqueModules:     a.UniqueModules(),
		DurationSeconds:   round1(a.Duration().Seconds()),
		OverallRiskScore:  a.OverallRiskScore(),
		CategoryBreakdown: a.GetCategoryBreakdown(),
		TopRiskEvents:     a.GetTopRiskEvents(5),
		TopEntities:       a.GetTopEntities(5),
		ModuleStats:       a.GetModuleStats(),
	}
}

// Reset clears all aggregation data and restarts the duration clock, used to
// verify the aggregator idempotence property (§8): reset() followed by
// replaying a recorded stream reproduces identical GetSummary() output.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
	a.typeStats = make(map[string]*TypeStats)
	a.moduleCounts = make(map[string]int)
	a.categoryCounts = make(map[string]int)
	a.riskEvents = nil
	a.startTime = time.Now()
}

// RenderMarkdownReport renders a human-readable summary of the top-risk
// findings. Data values that look like captured HTML (a module stashing a
// page snippet as evidence) are converted to Markdown rather than dumped
// as raw tags; everything else is quoted as-is.
func (a *Aggregator) RenderMarkdownReport() (string, error) {
	summary := a.GetSummary()
	conv := converter.NewConverter(converter.WithPlugins(base.NewBasePlugin(), commonmark.NewCommonmarkPlugin()))

	var b strings.Builder
	fmt.Fprintf(&b, "# Scan Report: %s\n\n", summary.ScanID)
	fmt.Fprintf(&b, "- Total events: %d\n", summary.TotalEvents)
	fmt.Fprintf(&b, "- Unique event types: %d\n", summary.UniqueTypes)
	fmt.Fprintf(&b, "- Modules that produced findings: %d\n", summary.UniqueModules)
	fmt.Fprintf(&b, "- Overall risk score: %.1f\n\n", summary.OverallRiskScore)

	b.WriteString("## Top risk findings\n\n")
	for _, re := range summary.TopRiskEvents {
		rendered := re.Data
		if looksLikeHTML(re.Data) {
			if md, err := conv.ConvertString(re.Data); err == nil {
				rendered = strings.TrimSpace(md)
			}
		}
		fmt.Fprintf(&b, "- **%s** (risk %d, confidence %d, via %s): %s\n",
			re.EventType, re.Risk, re.Confidence, re.Module, rendered)
	}
	return b.String(), nil
}

func looksLikeHTML(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "<") && strings.Contains(t, ">")
}
