package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/event"
	"github.com/spiderfoot/core/queue"
)

func sampleEvent() event.Event {
	return event.New(1, "IP_ADDRESS", "1.2.3.4", "sfp_dns", 0, false, 100, 100, 0, "")
}

// S4: back-pressure REJECT.
func TestPutRejectAtCapacity(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 2, BackpressureAction: queue.ActionReject})
	require.True(t, q.Put(sampleEvent(), queue.PriorityNormal, "1", 0, nil, 0))
	require.True(t, q.Put(sampleEvent(), queue.PriorityNormal, "2", 0, nil, 0))
	assert.False(t, q.Put(sampleEvent(), queue.PriorityNormal, "3", 0, nil, 0))

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.RejectedTotal)
	assert.Equal(t, 2, stats.Depth)
}

func TestPriorityMonotonicity(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 10, BackpressureAction: queue.ActionReject})
	require.True(t, q.Put(sampleEvent(), queue.PriorityLow, "low", 0, nil, 0))
	require.True(t, q.Put(sampleEvent(), queue.PriorityHigh, "high", 0, nil, 0))
	require.True(t, q.Put(sampleEvent(), queue.PriorityNormal, "normal", 0, nil, 0))

	first := q.Get(time.Second)
	require.NotNil(t, first)
	assert.Equal(t, "high", first.ID)

	second := q.Get(time.Second)
	require.NotNil(t, second)
	assert.Equal(t, "normal", second.ID)

	third := q.Get(time.Second)
	require.NotNil(t, third)
	assert.Equal(t, "low", third.ID)
}

func TestDropOldestNeverDropsHigh(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 1, BackpressureAction: queue.ActionDropOldest})
	require.True(t, q.Put(sampleEvent(), queue.PriorityHigh, "h1", 0, nil, 0))
	assert.False(t, q.Put(sampleEvent(), queue.PriorityHigh, "h2", 0, nil, 0), "no sacrificable item exists, so a second HIGH must be refused")

	item := q.Get(time.Second)
	require.NotNil(t, item)
	assert.Equal(t, "h1", item.ID)
}

func TestDropOldestEvictsLowBeforeNormal(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 2, BackpressureAction: queue.ActionDropOldest})
	require.True(t, q.Put(sampleEvent(), queue.PriorityLow, "low", 0, nil, 0))
	require.True(t, q.Put(sampleEvent(), queue.PriorityNormal, "normal", 0, nil, 0))
	require.True(t, q.Put(sampleEvent(), queue.PriorityHigh, "high", 0, nil, 0))

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.DroppedTotal)

	first := q.Get(time.Second)
	require.NotNil(t, first)
	assert.Equal(t, "high", first.ID)
}

func TestRequeueMovesToDLQAfterMaxRetries(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 10, BackpressureAction: queue.ActionReject})
	q.Put(sampleEvent(), queue.PriorityNormal, "1", 1, nil, 0)
	item := q.Get(time.Second)
	require.NotNil(t, item)

	assert.True(t, q.Requeue(item))
	item2 := q.Get(time.Second)
	require.NotNil(t, item2)

	assert.False(t, q.Requeue(item2), "exceeding max retries moves the item to the DLQ")
	assert.Len(t, q.DrainDLQ(10), 1)
}

func TestGetTimesOutOnEmptyQueue(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 10, BackpressureAction: queue.ActionReject})
	start := time.Now()
	item := q.Get(20 * time.Millisecond)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestQueueConservationInvariant(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 2, BackpressureAction: queue.ActionReject})
	q.Put(sampleEvent(), queue.PriorityNormal, "1", 0, nil, 0)
	q.Put(sampleEvent(), queue.PriorityNormal, "2", 0, nil, 0)
	q.Put(sampleEvent(), queue.PriorityNormal, "3", 0, nil, 0) // rejected
	q.Get(time.Second)

	s := q.Stats()
	assert.Equal(t, s.EnqueuedTotal, s.DequeuedTotal+int64(s.Depth)+s.RejectedTotal+s.DroppedTotal)
}

func TestPressureCallbackFiresOnTransition(t *testing.T) {
	q := queue.New(queue.Config{Capacity: 4, BackpressureAction: queue.ActionReject})
	transitions := make(chan [2]queue.PressureLevel, 10)
	q.OnPressureChange(func(from, to queue.PressureLevel) {
		transitions <- [2]queue.PressureLevel{from, to}
	})

	q.Put(sampleEvent(), queue.PriorityNormal, "1", 0, nil, 0) // 25% -> LOW
	q.Put(sampleEvent(), queue.PriorityNormal, "2", 0, nil, 0) // 50% -> MEDIUM

	select {
	case tr := <-transitions:
		assert.Equal(t, queue.PressureNone, tr[0])
		assert.Equal(t, queue.PressureLow, tr[1])
	case <-time.After(time.Second):
		t.Fatal("expected a pressure transition callback")
	}
}
