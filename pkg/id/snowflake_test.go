package id_test

import (
	"sync"
	"testing"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsStrictlyIncreasing(t *testing.T) {
	gen := id.NewGenerator(id.WithNode(1))

	prev := gen.Next()
	for i := 0; i < 10000; i++ {
		next := gen.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	gen := id.NewGenerator()

	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, perWorker)
			for i := range ids {
				ids[i] = gen.Next()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, v := range ids {
				_, dup := seen[v]
				assert.False(t, dup, "duplicate id %d", v)
				seen[v] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gen := id.NewGenerator(id.WithNode(7), id.WithClock(func() time.Time { return now }))

	got := id.Timestamp(gen.Next())
	assert.Equal(t, now.UnixMilli(), got.UnixMilli())
}

func TestClockRegressionKeepsIncreasing(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(1700000000500),
		time.UnixMilli(1700000000400), // clock went backwards
		time.UnixMilli(1700000000450),
	}
	i := 0
	gen := id.NewGenerator(id.WithNode(1), id.WithClock(func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}))

	a := gen.Next()
	b := gen.Next()
	c := gen.Next()
	assert.Greater(t, b, a)
	assert.Greater(t, c, b)
}

func TestNewEventIDSortsByTime(t *testing.T) {
	a := id.NewEventID()
	b := id.NewEventID()
	require.Len(t, a, 26)
	assert.Less(t, a, b)
}
