// Package delta implements the Scan Delta Analyzer (C9): a fingerprint-based
// diff between two scans' findings, with risk-delta scoring and letter
// grading. Grounded on original_source/spiderfoot/scan_delta.py, extended
// per SPEC_FULL.md "Supplemented Features" with trend-series tracking.
package delta

import (
	"sort"

	"github.com/spiderfoot/core/event"
)

// ChangeKind classifies how a finding changed between two scans.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "ADDED"
	ChangeRemoved   ChangeKind = "REMOVED"
	ChangeChanged   ChangeKind = "CHANGED"
	ChangeUnchanged ChangeKind = "UNCHANGED"
)

// Severity is used only to weight risk-delta contributions; it does not
// replace Event.Risk, which remains a plain 0-100 integer.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityWeight = map[Severity]float64{
	SeverityCritical: 10,
	SeverityHigh:     5,
	SeverityMedium:   2,
	SeverityLow:      0.5,
	SeverityInfo:     0.1,
}

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:      4,
}

var changeRank = map[ChangeKind]int{
	ChangeAdded:     0,
	ChangeRemoved:   1,
	ChangeChanged:   2,
	ChangeUnchanged: 3,
}

// RiskToSeverity maps a 0-100 risk score onto the five severity buckets
// used for risk-delta weighting.
func RiskToSeverity(risk int) Severity {
	switch {
	case risk >= 90:
		return SeverityCritical
	case risk >= 70:
		return SeverityHigh
	case risk >= 40:
		return SeverityMedium
	case risk >= 10:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Finding is a comparison-grade record independent of the live Event arena,
// letting the analyzer run over two scans that may no longer have live
// event graphs (Finding, C9).
type Finding struct {
	Type       string
	Data       string
	Module     string
	Risk       int
	Confidence int
	ScanID     string
}

// Fingerprint returns Finding's stable comparison key, reusing the exact
// canonicalisation Event.Fingerprint applies so a Finding derived from an
// Event always compares equal to that Event's own fingerprint.
func (f Finding) Fingerprint() string {
	return event.Fingerprint(f.Type, f.Data)
}

// Change is one row of a delta report.
type Change struct {
	Kind       ChangeKind
	Finding    Finding
	Previous   *Finding
	RiskChange int
	Note       string
}

// Result is the outcome of comparing a baseline and current finding set.
type Result struct {
	changes  []Change
	baseline []Finding
	current  []Finding
}

// Changes returns a copy of every change in the result.
func (r Result) Changes() []Change {
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r Result) filter(kind ChangeKind) []Change {
	var out []Change
	for _, c := range r.changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (r Result) Added() []Change     { return r.filter(ChangeAdded) }
func (r Result) Removed() []Change   { return r.filter(ChangeRemoved) }
func (r Result) Changed() []Change   { return r.filter(ChangeChanged) }
func (r Result) Unchanged() []Change { return r.filter(ChangeUnchanged) }

// RiskDelta is the net change in total risk score between current and baseline.
func (r Result) RiskDelta() int {
	var oldRisk, newRisk int
	for _, f := range r.baseline {
		oldRisk += f.Risk
	}
	for _, f := range r.current {
		newRisk += f.Risk
	}
	return newRisk - oldRisk
}

// WeightedRiskDelta computes the severity-weighted risk delta per
// SPEC_FULL.md §4.9: ADDED contributes +w, REMOVED contributes -w, CHANGED
// contributes +0.3w, where w is the severity weight of the finding's risk.
// The sum is clamped to [-100, 100].
func (r Result) WeightedRiskDelta() float64 {
	var sum float64
	for _, c := range r.changes {
		w := severityWeight[RiskToSeverity(c.Finding.Risk)]
		switch c.Kind {
		case ChangeAdded:
			sum += w
		case ChangeRemoved:
			sum -= w
		case ChangeChanged:
			sum += 0.3 * w
		}
	}
	if sum > 100 {
		sum = 100
	}
	if sum < -100 {
		sum = -100
	}
	return sum
}

// Grade maps WeightedRiskDelta onto a letter grade: an improving (more
// negative) delta grades better.
func (r Result) Grade() string {
	d := r.WeightedRiskDelta()
	switch {
	case d <= -10:
		return "A"
	case d <= -2:
		return "B"
	case d <= 2:
		return "C"
	case d <= 10:
		return "D"
	default:
		return "F"
	}
}

// Sorted returns the changes ordered by ascending severity rank (CRITICAL
// first) then ascending change-type rank (ADDED, REMOVED, CHANGED, UNCHANGED).
func (r Result) Sorted() []Change {
	out := r.Changes()
	sort.SliceStable(out, func(i, j int) bool {
		si := severityRank[RiskToSeverity(out[i].Finding.Risk)]
		sj := severityRank[RiskToSeverity(out[j].Finding.Risk)]
		if si != sj {
			return si < sj
		}
		return changeRank[out[i].Kind] < changeRank[out[j].Kind]
	})
	return out
}

// Summary mirrors the source's plain summary dict.
type Summary struct {
	NewFindings    int
	Resolved       int
	Changed        int
	Unchanged      int
	TotalChanges   int
	RiskDelta      int
	BaselineCount  int
	CurrentCount   int
}

// Summary returns the bundled counts used in reports.
func (r Result) Summary() Summary {
	return Summary{
		NewFindings:   len(r.Added()),
		Resolved:      len(r.Removed()),
		Changed:       len(r.Changed()),
		Unchanged:     len(r.Unchanged()),
		TotalChanges:  len(r.changes),
		RiskDelta:     r.RiskDelta(),
		BaselineCount: len(r.baseline),
		CurrentCount:  len(r.current),
	}
}

// TrendPoint is one point in a tracked trend series (supplemented feature).
type TrendPoint struct {
	ScanID         string
	TotalFindings  int
	RiskScore      int
	NewFindings    int
	ResolvedCount  int
}

// Analyzer compares scans, tracks risk trends across a series, and
// categorises changes.
type Analyzer struct {
	ignoreTypes map[string]struct{}
	history     []TrendPoint
}

// New constructs an Analyzer. ignoreTypes, if non-nil, excludes those event
// types from every comparison.
func New(ignoreTypes []string) *Analyzer {
	set := make(map[string]struct{}, len(ignoreTypes))
	for _, t := range ignoreTypes {
		set[t] = struct{}{}
	}
	return &Analyzer{ignoreTypes: set}
}

// Analyze compares baseline against current and classifies every finding.
func (a *Analyzer) Analyze(baseline, current []Finding) Result {
	baseMap := make(map[string]Finding)
	for _, f := range baseline {
		if _, ignored := a.ignoreTypes[f.Type]; ignored {
			continue
		}
		baseMap[f.Fingerprint()] = f
	}
	currMap := make(map[string]Finding)
	for _, f := range current {
		if _, ignored := a.ignoreTypes[f.Type]; ignored {
			continue
		}
		currMap[f.Fingerprint()] = f
	}

	var changes []Change
	for fp, cur := range currMap {
		if base, ok := baseMap[fp]; ok {
			b := base
			if base.Data != cur.Data || base.Risk != cur.Risk {
				changes = append(changes, Change{Kind: ChangeChanged, Finding: cur, Previous: &b, RiskChange: cur.Risk - base.Risk, Note: "rendering or risk changed"})
			} else {
				changes = append(changes, Change{Kind: ChangeUnchanged, Finding: cur, Previous: &b})
			}
		} else {
			changes = append(changes, Change{Kind: ChangeAdded, Finding: cur, Note: "first seen in current scan"})
		}
	}
	for fp, base := range baseMap {
		if _, ok := currMap[fp]; !ok {
			changes = append(changes, Change{Kind: ChangeRemoved, Finding: base, Note: "no longer present in current scan"})
		}
	}

	return Result{changes: changes, baseline: baseline, current: current}
}

// AnalyzeSeries runs Analyze over each consecutive pair in a chronologically
// ordered series of (scanID, findings) tuples, recording a TrendPoint for
// each transition (SPEC_FULL.md "Supplemented Features").
func (a *Analyzer) AnalyzeSeries(scans []struct {
	ScanID   string
	Findings []Finding
}) []Result {
	var results []Result
	for i := 1; i < len(scans); i++ {
		prev, cur := scans[i-1], scans[i]
		res := a.Analyze(prev.Findings, cur.Findings)
		results = append(results, res)

		riskScore := 0
		for _, f := range cur.Findings {
			riskScore += f.Risk
		}
		s := res.Summary()
		a.history = append(a.history, TrendPoint{
			ScanID:        cur.ScanID,
			TotalFindings: len(cur.Findings),
			RiskScore:     riskScore,
			NewFindings:   s.NewFindings,
			ResolvedCount: s.Resolved,
		})
	}
	return results
}

// GetTrend returns the recorded trend history.
func (a *Analyzer) GetTrend() []TrendPoint {
	out := make([]TrendPoint, len(a.history))
	copy(out, a.history)
	return out
}
