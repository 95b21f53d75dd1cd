package dispatch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/dispatch"
	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/host"
	"github.com/spiderfoot/core/queue"
	"github.com/spiderfoot/core/repository"
	"github.com/spiderfoot/core/target"
)

// fakeModule is a minimal dispatch.Module used across these tests. handle
// is invoked under the dispatch engine's per-module serialisation, so the
// counter fields don't need their own locking as long as a test only reads
// them after Run returns.
type fakeModule struct {
	name     string
	watched  []string
	produced []string

	mu         sync.Mutex
	host       *host.Host
	target     target.Target
	invocCount int

	handle func(m *fakeModule, e event.Event) error
}

func (m *fakeModule) Name() string            { return m.name }
func (m *fakeModule) WatchedEvents() []string { return m.watched }
func (m *fakeModule) ProducedEvents() []string { return m.produced }

func (m *fakeModule) Setup(h *host.Host, _ map[string]string) error {
	m.mu.Lock()
	m.host = h
	m.mu.Unlock()
	return nil
}

func (m *fakeModule) SetTarget(t target.Target) {
	m.mu.Lock()
	m.target = t
	m.mu.Unlock()
}

func (m *fakeModule) HandleEvent(e event.Event) error {
	m.mu.Lock()
	m.invocCount++
	m.mu.Unlock()
	if m.handle != nil {
		return m.handle(m, e)
	}
	return nil
}

func (m *fakeModule) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocCount
}

func newTestEngine(t *testing.T, scanID string, mods []dispatch.Module, repo repository.Repository) *dispatch.Engine {
	t.Helper()
	order := make([]string, len(mods))
	for i, m := range mods {
		order[i] = m.Name()
	}
	e, err := dispatch.New(dispatch.Config{
		ScanID:         scanID,
		Modules:        mods,
		LoadOrder:      order,
		Workers:        2,
		Queue:          queue.Config{Capacity: 0, BackpressureAction: queue.ActionBlock},
		DequeueTimeout: 20 * time.Millisecond,
		Repository:     repo,
	})
	require.NoError(t, err)

	var h *host.Host
	h, err = host.New(host.Config{ScanID: scanID}, func(ev event.Event) { e.Emit(ev) })
	require.NoError(t, err)
	e.AttachHost(h)
	return e
}

func TestROOTSeedsEventAndFansOutThroughChain(t *testing.T) {
	a := &fakeModule{
		name:     "sfp_a",
		watched:  []string{event.TypeRoot},
		produced: []string{"TYPE_A"},
	}
	a.handle = func(m *fakeModule, e event.Event) error {
		out := event.New(m.host.NextEventID(), "TYPE_A", "a-value", m.name, e.ID(), true, 80, 80, 10, "")
		m.host.NotifyListeners(out)
		return nil
	}
	b := &fakeModule{
		name:    "sfp_b",
		watched: []string{"TYPE_A"},
	}

	e := newTestEngine(t, "scan-1", []dispatch.Module{a, b}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFinished, status)

	assert.Equal(t, 1, a.invocations())
	assert.Equal(t, 1, b.invocations())
	assert.EqualValues(t, 2, e.Stats().EventsProcessed) // ROOT + TYPE_A
}

func TestPerModuleDedupDropsDuplicateFingerprint(t *testing.T) {
	a := &fakeModule{name: "sfp_a", watched: []string{event.TypeRoot}, produced: []string{"TYPE_A"}}
	a.handle = func(m *fakeModule, e event.Event) error {
		dup := event.New(m.host.NextEventID(), "TYPE_A", "same-value", m.name, e.ID(), true, 50, 50, 0, "")
		m.host.NotifyListeners(dup)
		m.host.NotifyListeners(dup)
		return nil
	}
	b := &fakeModule{name: "sfp_b", watched: []string{"TYPE_A"}}

	e := newTestEngine(t, "scan-2", []dispatch.Module{a, b}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)

	assert.Equal(t, 1, b.invocations())
	assert.EqualValues(t, 1, e.Stats().Duplicates)
}

func TestWildcardSubscribersRunAfterTypeSpecific(t *testing.T) {
	var mu sync.Mutex
	var order []string

	specific := &fakeModule{name: "sfp_specific", watched: []string{"TYPE_A"}}
	specific.handle = func(m *fakeModule, e event.Event) error {
		mu.Lock()
		order = append(order, m.name)
		mu.Unlock()
		return nil
	}
	wildcard := &fakeModule{name: "sfp_wildcard", watched: []string{event.TypeWildcard}}
	wildcard.handle = func(m *fakeModule, e event.Event) error {
		mu.Lock()
		order = append(order, m.name)
		mu.Unlock()
		return nil
	}
	seed := &fakeModule{name: "sfp_seed", watched: []string{event.TypeRoot}, produced: []string{"TYPE_A"}}
	seed.handle = func(m *fakeModule, e event.Event) error {
		m.host.NotifyListeners(event.New(m.host.NextEventID(), "TYPE_A", "v", m.name, e.ID(), true, 10, 10, 0, ""))
		return nil
	}

	e := newTestEngine(t, "scan-3", []dispatch.Module{seed, specific, wildcard}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// wildcard sees ROOT too, so it appears once for ROOT then once for TYPE_A;
	// what matters is that for TYPE_A specifically, sfp_specific precedes sfp_wildcard.
	require.Contains(t, order, "sfp_specific")
	specificIdx, wildcardIdxForTypeA := -1, -1
	seenSpecific := false
	for i, n := range order {
		if n == "sfp_specific" {
			specificIdx = i
			seenSpecific = true
		}
		if n == "sfp_wildcard" && seenSpecific && wildcardIdxForTypeA == -1 {
			wildcardIdxForTypeA = i
		}
	}
	assert.True(t, specificIdx < wildcardIdxForTypeA, "expected sfp_specific to run before sfp_wildcard for TYPE_A")
}

func TestModuleErrorMarksErroredAndSkipsFutureEvents(t *testing.T) {
	failing := &fakeModule{name: "sfp_fail", watched: []string{"TYPE_A"}}
	failing.handle = func(m *fakeModule, e event.Event) error {
		return fmt.Errorf("boom")
	}
	seed := &fakeModule{name: "sfp_seed", watched: []string{event.TypeRoot}, produced: []string{"TYPE_A"}}
	seed.handle = func(m *fakeModule, e event.Event) error {
		m.host.NotifyListeners(event.New(m.host.NextEventID(), "TYPE_A", "v1", m.name, e.ID(), true, 10, 10, 0, ""))
		m.host.NotifyListeners(event.New(m.host.NextEventID(), "TYPE_A", "v2", m.name, e.ID(), true, 10, 10, 0, ""))
		return nil
	}

	e := newTestEngine(t, "scan-4", []dispatch.Module{seed, failing}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)

	assert.Equal(t, 1, failing.invocations())
	assert.Contains(t, e.ErroredModules(), "sfp_fail")
	assert.EqualValues(t, 1, e.Stats().ModuleErrors)
}

func TestModulePanicIsolatedFromOtherModules(t *testing.T) {
	panicker := &fakeModule{name: "sfp_panic", watched: []string{event.TypeRoot}}
	panicker.handle = func(m *fakeModule, e event.Event) error {
		panic("unexpected")
	}
	survivor := &fakeModule{name: "sfp_survivor", watched: []string{event.TypeRoot}}

	e := newTestEngine(t, "scan-5", []dispatch.Module{panicker, survivor}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)

	assert.Equal(t, 1, survivor.invocations())
	assert.Contains(t, e.ErroredModules(), "sfp_panic")
}

func TestStopAbortsInFlightScan(t *testing.T) {
	flooder := &fakeModule{name: "sfp_flood", watched: []string{event.TypeRoot, "TYPE_FLOOD"}, produced: []string{"TYPE_FLOOD"}}
	flooder.handle = func(m *fakeModule, e event.Event) error {
		time.Sleep(2 * time.Millisecond)
		m.host.NotifyListeners(event.New(m.host.NextEventID(), "TYPE_FLOOD", e.Data()+"x", m.name, e.ID(), true, 1, 1, 0, ""))
		return nil
	}

	e := newTestEngine(t, "scan-6", []dispatch.Module{flooder}, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		e.Stop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusAborted, status)
}

func TestRepositoryReceivesScanLifecycleAndEvents(t *testing.T) {
	repo := repository.NewInMemory()
	a := &fakeModule{name: "sfp_a", watched: []string{event.TypeRoot}}

	e := newTestEngine(t, "scan-7", []dispatch.Module{a}, repo)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := e.Run(ctx, target.Target{Value: "example.com", Type: "INTERNET_NAME"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFinished, status)

	rec, err := repo.GetScan("scan-7")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFinished, rec.Status)

	events, err := repo.ReadEvents("scan-7", "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, event.TypeRoot, events[0].Type)
}
