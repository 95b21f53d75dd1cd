// Package repository defines the injected persistence contract (§6) and an
// in-memory implementation satisfying it exactly, for use in tests and
// standalone runs without an external datastore.
package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spiderfoot/core/event"
)

// Status is a scan's lifecycle state.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusAborted  Status = "ABORTED"
	StatusErrored  Status = "ERRORED"
)

// ScanRecord is the persisted metadata for one scan.
type ScanRecord struct {
	ID      string
	Name    string
	Target  string
	Status  Status
	Started time.Time
	Ended   time.Time
}

// StoredEvent is an event.Event flattened for storage. It keeps Type and
// Data, from which event.Fingerprint recomputes the fingerprint for
// dedup/delta consumers that read back persisted scans without
// reconstructing the live event arena; no fingerprint is stored.
type StoredEvent struct {
	ID              event.ID
	Type            string
	Data            string
	ProducingModule string
	Confidence      int
	Visibility      int
	Risk            int
	HasSource       bool
	Source          event.ID
	RecordedAt      time.Time
}

// ErrScanNotFound is returned by operations referencing an unknown scan ID.
var ErrScanNotFound = fmt.Errorf("repository: scan not found")

// Repository is the persistence contract every scan runner depends on.
type Repository interface {
	CreateScan(id, name, target string) error
	SetScanStatus(id string, status Status, started, ended time.Time) error
	AppendEvent(scanID string, e event.Event) error
	ReadEvents(scanID string, typeFilter string) ([]StoredEvent, error)
	DeleteScan(id string) error
	GetScan(id string) (ScanRecord, error)
}

// InMemory is a Repository backed by process memory, used for tests and
// single-process runs.
type InMemory struct {
	mu     sync.RWMutex
	scans  map[string]*ScanRecord
	events map[string][]StoredEvent
}

// NewInMemory constructs an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		scans:  make(map[string]*ScanRecord),
		events: make(map[string][]StoredEvent),
	}
}

func (r *InMemory) CreateScan(id, name, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[id] = &ScanRecord{ID: id, Name: name, Target: target, Status: StatusCreated}
	return nil
}

func (r *InMemory) SetScanStatus(id string, status Status, started, ended time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.scans[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	rec.Status = status
	if !started.IsZero() {
		rec.Started = started
	}
	if !ended.IsZero() {
		rec.Ended = ended
	}
	return nil
}

// AppendEvent is best-effort: per spec.md §6 it may batch internally. The
// in-memory implementation simply appends under lock.
func (r *InMemory) AppendEvent(scanID string, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[scanID]; !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	source, hasSource := e.SourceEvent()
	r.events[scanID] = append(r.events[scanID], StoredEvent{
		ID:              e.ID(),
		Type:            e.Type(),
		Data:            e.Data(),
		ProducingModule: e.ProducingModule(),
		Confidence:      e.Confidence(),
		Visibility:      e.Visibility(),
		Risk:            e.Risk(),
		HasSource:       hasSource,
		Source:          source,
		RecordedAt:      time.Now(),
	})
	return nil
}

// ReadEvents returns scanID's events, optionally filtered to one event
// type, ordered by insertion (append) order.
func (r *InMemory) ReadEvents(scanID string, typeFilter string) ([]StoredEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.scans[scanID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	all := r.events[scanID]
	if typeFilter == "" {
		out := make([]StoredEvent, len(all))
		copy(out, all)
		return out, nil
	}
	var out []StoredEvent
	for _, e := range all {
		if e.Type == typeFilter {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *InMemory) DeleteScan(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[id]; !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	delete(r.scans, id)
	delete(r.events, id)
	return nil
}

func (r *InMemory) GetScan(id string) (ScanRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scans[id]
	if !ok {
		return ScanRecord{}, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return *rec, nil
}

// ListScans returns every scan ID known to the repository, sorted.
func (r *InMemory) ListScans() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scans))
	for id := range r.scans {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
