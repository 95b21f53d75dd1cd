// Package queue implements the bounded, priority, back-pressured Scan Queue
// (C5), grounded on original_source/spiderfoot/scan_queue.py.
package queue

import (
	"sync"
	"time"

	"github.com/spiderfoot/core/event"
)

// Priority is the lane an item is enqueued into. Lower values are serviced
// first: HIGH < NORMAL < LOW.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
	priorityCount
)

// BackpressureAction selects what Put does when the queue is at capacity.
type BackpressureAction int

const (
	// ActionReject fails Put immediately when full.
	ActionReject BackpressureAction = iota
	// ActionBlock waits (up to a caller timeout) for room.
	ActionBlock
	// ActionDropOldest evicts the oldest LOW item, then the oldest NORMAL
	// item, never a HIGH item, to make room.
	ActionDropOldest
)

// PressureLevel is a coarse bucket of queue utilisation used for
// back-pressure signalling callbacks.
type PressureLevel int

const (
	PressureNone PressureLevel = iota
	PressureLow
	PressureMedium
	PressureHigh
	PressureCritical
)

// Default utilisation thresholds, matching the source exactly.
var DefaultThresholds = map[PressureLevel]float64{
	PressureNone:     0.0,
	PressureLow:      0.25,
	PressureMedium:   0.50,
	PressureHigh:     0.75,
	PressureCritical: 0.90,
}

// Item is a single unit of queued work (QueueItem, C5).
type Item struct {
	Payload    event.Event
	Priority   Priority
	EnqueuedAt time.Time
	ID         string
	Retries    int
	MaxRetries int
	Metadata   map[string]string
}

// Stats is a point-in-time snapshot of queue counters (QueueStats, C5).
type Stats struct {
	Depth          int
	DLQDepth       int
	EnqueuedTotal  int64
	DequeuedTotal  int64
	RejectedTotal  int64
	DroppedTotal   int64
	RetriedTotal   int64
	AverageWaitSec float64
	PressureLevel  PressureLevel
}

// PressureCallback is invoked on a pressure-level transition, outside any
// critical section (§4.5 invariant).
type PressureCallback func(from, to PressureLevel)

// Config configures a Queue.
type Config struct {
	Capacity            int
	BackpressureAction  BackpressureAction
	PressureThresholds  map[PressureLevel]float64
}

// Queue is the bounded, priority, back-pressured scan queue.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	lanes [priorityCount][]*Item
	dlq   []*Item

	enqueuedTotal int64
	dequeuedTotal int64
	rejectedTotal int64
	droppedTotal  int64
	retriedTotal  int64

	waitSumSec float64
	waitCount  int64

	lastPressure PressureLevel
	callbacks    []PressureCallback
	notified     chan struct{} // closed when the latest callback run finishes

	closed bool
}

// New constructs a Queue. A zero Capacity means unbounded.
func New(cfg Config) *Queue {
	if cfg.PressureThresholds == nil {
		cfg.PressureThresholds = DefaultThresholds
	}
	q := &Queue{cfg: cfg}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) depthLocked() int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// OnPressureChange registers a callback fired on pressure-level transitions.
func (q *Queue) OnPressureChange(cb PressureCallback) {
	q.mu.Lock()
	q.callbacks = append(q.callbacks, cb)
	q.mu.Unlock()
}

// Put enqueues payload at priority. It returns true on success; false when
// ActionReject and full, when ActionBlock's timeout elapses, or when
// ActionDropOldest cannot find a sacrificable item.
func (q *Queue) Put(payload event.Event, priority Priority, id string, maxRetries int, metadata map[string]string, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &Item{
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		ID:         id,
		MaxRetries: maxRetries,
		Metadata:   metadata,
	}

	ok := q.enqueueLocked(item, timeout)
	// Every Put attempt counts as enqueued, accepted or rejected.
	q.enqueuedTotal++
	if ok {
		q.notEmpty.Signal()
		q.checkPressureLocked()
	} else {
		q.rejectedTotal++
	}
	return ok
}

func (q *Queue) enqueueLocked(item *Item, timeout time.Duration) bool {
	if q.cfg.Capacity <= 0 || q.depthLocked() < q.cfg.Capacity {
		q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
		return true
	}

	switch q.cfg.BackpressureAction {
	case ActionReject:
		return false
	case ActionDropOldest:
		if !q.dropOldestLocked() {
			return false
		}
		q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
		return true
	case ActionBlock:
		deadline := time.Now().Add(timeout)
		for q.depthLocked() >= q.cfg.Capacity {
			if timeout <= 0 {
				return false
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false
			}
			waitOnCond(q.notFull, remaining)
			if q.closed {
				return false
			}
		}
		q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
		return true
	default:
		return false
	}
}

// dropOldestLocked drops the oldest LOW item, then the oldest NORMAL item,
// never a HIGH item, to make room for a new arrival.
func (q *Queue) dropOldestLocked() bool {
	for _, p := range []Priority{PriorityLow, PriorityNormal} {
		if len(q.lanes[p]) > 0 {
			q.lanes[p] = q.lanes[p][1:]
			q.droppedTotal++
			return true
		}
	}
	return false
}

// Get dequeues the highest-priority, oldest item, blocking up to timeout.
// Returns nil on timeout.
func (q *Queue) Get(timeout time.Duration) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for q.depthLocked() == 0 {
		if q.closed {
			return nil
		}
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return nil
		}
		if timeout <= 0 {
			return nil
		}
		waitOnCond(q.notEmpty, remaining)
	}

	item := q.dequeueOneLocked()
	if item != nil {
		q.recordDequeueLocked(item)
		q.notFull.Signal()
		q.checkPressureLocked()
	}
	return item
}

// GetBatch drains up to maxItems highest-priority items in one critical section.
func (q *Queue) GetBatch(maxItems int, timeout time.Duration) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for q.depthLocked() == 0 {
		if q.closed {
			return nil
		}
		remaining := time.Until(deadline)
		if timeout <= 0 || remaining <= 0 {
			return nil
		}
		waitOnCond(q.notEmpty, remaining)
	}

	var out []*Item
	for len(out) < maxItems {
		item := q.dequeueOneLocked()
		if item == nil {
			break
		}
		q.recordDequeueLocked(item)
		out = append(out, item)
	}
	q.notFull.Broadcast()
	q.checkPressureLocked()
	return out
}

func (q *Queue) dequeueOneLocked() *Item {
	for p := Priority(0); p < priorityCount; p++ {
		if len(q.lanes[p]) > 0 {
			item := q.lanes[p][0]
			q.lanes[p] = q.lanes[p][1:]
			return item
		}
	}
	return nil
}

func (q *Queue) recordDequeueLocked(item *Item) {
	q.dequeuedTotal++
	wait := time.Since(item.EnqueuedAt).Seconds()
	q.waitSumSec += wait
	q.waitCount++
}

// Requeue increments item's retry count; if it exceeds MaxRetries, the item
// moves to the DLQ and Requeue returns false. Otherwise it's re-enqueued
// with a fresh timestamp and Requeue returns true.
func (q *Queue) Requeue(item *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Retries++
	q.retriedTotal++
	if item.Retries > item.MaxRetries {
		q.dlq = append(q.dlq, item)
		return false
	}
	item.EnqueuedAt = time.Now()
	q.lanes[item.Priority] = append(q.lanes[item.Priority], item)
	q.notEmpty.Signal()
	return true
}

// DrainDLQ removes and returns up to limit items from the dead letter queue.
func (q *Queue) DrainDLQ(limit int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dlq) {
		limit = len(q.dlq)
	}
	out := q.dlq[:limit]
	q.dlq = q.dlq[limit:]
	return out
}

// PeekDLQ returns up to limit items from the DLQ without removing them.
func (q *Queue) PeekDLQ(limit int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dlq) {
		limit = len(q.dlq)
	}
	out := make([]*Item, limit)
	copy(out, q.dlq[:limit])
	return out
}

// ClearDLQ empties the dead letter queue.
func (q *Queue) ClearDLQ() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = nil
}

// Clear empties every lane and wakes any blocked producers.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := range q.lanes {
		q.lanes[p] = nil
	}
	q.notFull.Broadcast()
}

// Close marks the queue closed: blocked Get/Put callers unblock immediately
// (SPEC_FULL.md §5, "the queue's blocked producers/consumers unblock via a
// sentinel wake-up").
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *Queue) checkPressureLocked() {
	level := q.pressureLevelLocked()
	if level == q.lastPressure {
		return
	}
	from := q.lastPressure
	q.lastPressure = level
	cbs := make([]PressureCallback, len(q.callbacks))
	copy(cbs, q.callbacks)
	// Run callbacks outside the critical section per the §4.5 invariant; each
	// run waits for the previous one, so transitions arrive in order.
	prev := q.notified
	done := make(chan struct{})
	q.notified = done
	go func() {
		if prev != nil {
			<-prev
		}
		for _, cb := range cbs {
			safeCall(cb, from, level)
		}
		close(done)
	}()
}

func safeCall(cb PressureCallback, from, to PressureLevel) {
	defer func() { _ = recover() }()
	cb(from, to)
}

func (q *Queue) pressureLevelLocked() PressureLevel {
	if q.cfg.Capacity <= 0 {
		return PressureNone
	}
	util := float64(q.depthLocked()) / float64(q.cfg.Capacity)
	level := PressureNone
	for _, l := range []PressureLevel{PressureCritical, PressureHigh, PressureMedium, PressureLow} {
		if util >= q.cfg.PressureThresholds[l] {
			level = l
			break
		}
	}
	return level
}

// Stats returns a point-in-time snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	avg := 0.0
	if q.waitCount > 0 {
		avg = q.waitSumSec / float64(q.waitCount)
	}
	return Stats{
		Depth:          q.depthLocked(),
		DLQDepth:       len(q.dlq),
		EnqueuedTotal:  q.enqueuedTotal,
		DequeuedTotal:  q.dequeuedTotal,
		RejectedTotal:  q.rejectedTotal,
		DroppedTotal:   q.droppedTotal,
		RetriedTotal:   q.retriedTotal,
		AverageWaitSec: avg,
		PressureLevel:  q.lastPressure,
	}
}

// waitOnCond wakes cond after at most d by scheduling a timed broadcast,
// then waits on cond; the caller re-checks its predicate on every wakeup,
// so a spurious or timed wakeup is indistinguishable to the caller's loop.
func waitOnCond(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	cond.Wait()
	timer.Stop()
}
