package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives a ScreenshotCache through deterministic capture times.
type fakeClock struct {
	at time.Time
}

func (f *fakeClock) advance(d time.Duration) { f.at = f.at.Add(d) }

func newClockedCache() (*ScreenshotCache, *fakeClock) {
	clock := &fakeClock{at: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewScreenshotCache()
	cache.now = func() time.Time { return clock.at }
	return cache, clock
}

func TestScreenshotRecentAlwaysLatest(t *testing.T) {
	cache, clock := newClockedCache()

	cache.Put(1, []byte("first"))
	clock.advance(time.Second)
	cache.Put(1, []byte("second"))

	img, ok := cache.Get(1, "recent")
	require.True(t, ok)
	require.Equal(t, []byte("second"), img)
}

func TestScreenshotUnknownSlotFallsBackToRecent(t *testing.T) {
	cache, _ := newClockedCache()
	cache.Put(1, []byte("latest"))

	img, ok := cache.Get(1, "min9000")
	require.True(t, ok)
	require.Equal(t, []byte("latest"), img)

	_, ok = cache.Get(1, "min10")
	require.False(t, ok)
}

func TestScreenshotEmptyCache(t *testing.T) {
	cache, _ := newClockedCache()

	_, ok := cache.Get(42, "recent")
	require.False(t, ok)
}

func TestScreenshotPromotionAndEviction(t *testing.T) {
	cache, clock := newClockedCache()

	cache.Put(1, []byte("A")) // t=0

	clock.advance(11 * time.Minute)
	cache.Put(1, []byte("B")) // A is 11m old: lands in min10

	img, ok := cache.Get(1, "min10")
	require.True(t, ok)
	require.Equal(t, []byte("A"), img)

	clock.advance(20 * time.Minute) // t=31m
	cache.Put(1, []byte("C"))       // B is 20m old: lands in min30; A (31m) ages out of min10

	_, ok = cache.Get(1, "min10")
	require.False(t, ok)

	img, ok = cache.Get(1, "min30")
	require.True(t, ok)
	require.Equal(t, []byte("B"), img)

	img, ok = cache.Get(1, "recent")
	require.True(t, ok)
	require.Equal(t, []byte("C"), img)
}

func TestScreenshotDisplacesOnlyWhenCloserToTarget(t *testing.T) {
	cache, clock := newClockedCache()

	cache.Put(1, []byte("A")) // t=0

	clock.advance(10 * time.Minute)
	cache.Put(1, []byte("B")) // A at exactly 10m: perfect min10 fit

	clock.advance(6 * time.Minute)
	cache.Put(1, []byte("C")) // B is 6m old: fits min10 but is further from 10m than A

	img, ok := cache.Get(1, "min10")
	require.True(t, ok)
	require.Equal(t, []byte("A"), img)
}

func TestScreenshotTooYoungForAnyBucket(t *testing.T) {
	cache, clock := newClockedCache()

	cache.Put(1, []byte("A"))
	clock.advance(time.Minute)
	cache.Put(1, []byte("B")) // A at 1m is below every bucket's lower bound

	for _, spec := range agedBuckets {
		_, ok := cache.Get(1, spec.name)
		require.False(t, ok, "bucket %s should be empty", spec.name)
	}
}

func TestScreenshotSlotsAndRemove(t *testing.T) {
	cache, clock := newClockedCache()

	cache.Put(1, []byte("A"))
	clock.advance(11 * time.Minute)
	cache.Put(1, []byte("B"))

	slots := cache.Slots(1)
	require.Len(t, slots, 5)
	require.Equal(t, "recent", slots[0].Slot)
	require.True(t, slots[0].Present)
	require.Equal(t, "min10", slots[1].Slot)
	require.True(t, slots[1].Present)
	require.False(t, slots[2].Present)

	cache.Remove(1)
	_, ok := cache.Get(1, "recent")
	require.False(t, ok)
	for _, slot := range cache.Slots(1) {
		require.False(t, slot.Present)
	}
}

func TestScreenshotIsolatedPerComputer(t *testing.T) {
	cache, _ := newClockedCache()

	cache.Put(1, []byte("one"))
	cache.Put(2, []byte("two"))

	img, ok := cache.Get(1, "recent")
	require.True(t, ok)
	require.Equal(t, []byte("one"), img)

	cache.Remove(1)
	_, ok = cache.Get(2, "recent")
	require.True(t, ok)
}
