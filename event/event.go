// Package event defines the immutable, lineage-tracked finding record that
// flows through a scan: Event (C1).
package event

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Special event types recognised by the core itself, never by a module.
const (
	// TypeRoot seeds a scan; it carries the scan target in Data.
	TypeRoot = "ROOT"
	// TypeWildcard is the synthetic watched-event value meaning "every type".
	TypeWildcard = "*"
)

// ID identifies an Event within a scan's arena. Stable event IDs plus an
// ID-indexed arena replace the weak/parent object references of the source
// implementation, so clearing a scan frees every event atomically and
// lineage lookups are O(1) while the scan is alive (see SPEC_FULL.md §9).
type ID uint64

// Event is an immutable typed finding with a lineage pointer back to the
// event that caused it to be produced. Every field is set at construction;
// nothing on Event is ever mutated after Emit returns it.
type Event struct {
	id              ID
	typ             string
	data            string
	producingModule string
	sourceEvent     ID // zero value (0) denotes "no parent" (the ROOT event)
	hasSource       bool
	generatedAt     time.Time
	confidence      int
	visibility      int
	risk            int
	moduleDataSrc   string
}

// New constructs an Event. generatedAt is captured at construction time.
// confidence, visibility and risk are clamped into [0,100].
func New(id ID, typ, data, producingModule string, source ID, hasSource bool, confidence, visibility, risk int, moduleDataSource string) Event {
	return Event{
		id:              id,
		typ:             typ,
		data:            data,
		producingModule: producingModule,
		sourceEvent:     source,
		hasSource:       hasSource,
		generatedAt:     time.Now(),
		confidence:      clamp(confidence),
		visibility:      clamp(visibility),
		risk:            clamp(risk),
		moduleDataSrc:   moduleDataSource,
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (e Event) ID() ID                  { return e.id }
func (e Event) Type() string             { return e.typ }
func (e Event) Data() string             { return e.data }
func (e Event) ProducingModule() string  { return e.producingModule }
func (e Event) SourceEvent() (ID, bool)  { return e.sourceEvent, e.hasSource }
func (e Event) GeneratedAt() time.Time   { return e.generatedAt }
func (e Event) Confidence() int          { return e.confidence }
func (e Event) Visibility() int          { return e.visibility }
func (e Event) Risk() int                { return e.risk }
func (e Event) ModuleDataSource() string { return e.moduleDataSrc }
func (e Event) IsRoot() bool             { return e.typ == TypeRoot }

// Canonicalize applies the per-event-type dedup normalisation policy decided
// in SPEC_FULL.md §9: hostname-bearing types are lower-cased and trimmed of
// a trailing dot, email addresses are lower-cased, everything else is
// compared byte-for-byte. This is intentionally narrow — the source never
// normalised other types and SPEC_FULL.md forbids inventing policy beyond
// what it observed.
func Canonicalize(typ, data string) string {
	switch {
	case typ == "EMAILADDR":
		return strings.ToLower(data)
	case isHostnameType(typ):
		return strings.TrimSuffix(strings.ToLower(data), ".")
	default:
		return data
	}
}

func isHostnameType(typ string) bool {
	switch typ {
	case "INTERNET_NAME", "DOMAIN_NAME", "AFFILIATE_INTERNET_NAME",
		"AFFILIATE_DOMAIN_NAME", "CO_HOSTED_SITE", "PROVIDER_DNS":
		return true
	}
	return false
}

// Fingerprint returns the stable hash of (type, canonicalised data) used for
// per-module dedup (§8 "Dedup per module") and for Delta comparisons (C9).
func (e Event) Fingerprint() string {
	return Fingerprint(e.typ, e.data)
}

// Fingerprint computes the fingerprint for a (type, data) pair without
// requiring a constructed Event, so the Delta Analyzer (which operates on
// the lighter Finding record) can reuse the exact same algorithm.
func Fingerprint(typ, data string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(typ))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(Canonicalize(typ, data)))
	return typ + "|" + strconv.FormatUint(h.Sum64(), 16)
}
