package main

import (
	"sync"
	"time"
)

// ScreenshotCache holds the most recent screen captures per computer in a
// fixed set of approximate-age buckets, giving a rolling two-hour history in
// O(buckets) memory per computer no matter how often captures arrive.
//
// The "recent" bucket always holds the latest capture. On each new capture
// the outgoing entry is promoted into whichever aged buckets its age now
// fits (at least half the target, at most the max), displacing an occupant
// only when strictly closer to the target age, and anything older than its
// bucket's max age is evicted.
type ScreenshotCache struct {
	mu         sync.Mutex
	now        func() time.Time
	byComputer map[uint]map[string]screenshotEntry
}

type screenshotEntry struct {
	data       []byte
	capturedAt time.Time
}

type bucketSpec struct {
	name   string
	target time.Duration
	maxAge time.Duration
}

const recentBucket = "recent"

var agedBuckets = []bucketSpec{
	{"min10", 10 * time.Minute, 15 * time.Minute},
	{"min30", 30 * time.Minute, 45 * time.Minute},
	{"min60", 60 * time.Minute, 90 * time.Minute},
	{"min120", 120 * time.Minute, 180 * time.Minute},
}

func NewScreenshotCache() *ScreenshotCache {
	return &ScreenshotCache{
		now:        time.Now,
		byComputer: make(map[uint]map[string]screenshotEntry),
	}
}

// Put stores a fresh capture as "recent", first running the promote/evict
// pass over the outgoing entry.
func (c *ScreenshotCache) Put(computerID uint, image []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	buckets, ok := c.byComputer[computerID]
	if !ok {
		buckets = make(map[string]screenshotEntry)
		c.byComputer[computerID] = buckets
	}

	if outgoing, ok := buckets[recentBucket]; ok {
		age := now.Sub(outgoing.capturedAt)
		for _, spec := range agedBuckets {
			if age < spec.target/2 || age > spec.maxAge {
				continue
			}
			occupant, occupied := buckets[spec.name]
			if !occupied {
				buckets[spec.name] = outgoing
				continue
			}
			candDist := absDuration(age - spec.target)
			occDist := absDuration(now.Sub(occupant.capturedAt) - spec.target)
			if candDist < occDist {
				buckets[spec.name] = outgoing
			}
		}
	}

	for _, spec := range agedBuckets {
		if occupant, occupied := buckets[spec.name]; occupied {
			if now.Sub(occupant.capturedAt) > spec.maxAge {
				delete(buckets, spec.name)
			}
		}
	}

	buckets[recentBucket] = screenshotEntry{data: image, capturedAt: now}
}

// Get returns the capture in the named bucket. Unknown bucket names fall
// back to "recent". The second return is false when nothing is cached.
func (c *ScreenshotCache) Get(computerID uint, bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets, ok := c.byComputer[computerID]
	if !ok {
		return nil, false
	}
	if !knownBucket(bucket) {
		bucket = recentBucket
	}
	entry, ok := buckets[bucket]
	if !ok {
		return nil, false
	}
	return entry.data, true
}

// SlotStatus describes one bucket's occupancy for display.
type SlotStatus struct {
	Slot       string     `json:"slot"`
	Present    bool       `json:"present"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// Slots reports occupancy of every bucket, recent first.
func (c *ScreenshotCache) Slots(computerID uint) []SlotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets := c.byComputer[computerID]
	statuses := make([]SlotStatus, 0, len(agedBuckets)+1)
	names := append([]string{recentBucket}, bucketNames()...)
	for _, name := range names {
		status := SlotStatus{Slot: name}
		if entry, ok := buckets[name]; ok {
			status.Present = true
			at := entry.capturedAt
			status.CapturedAt = &at
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Remove drops every bucket for a computer.
func (c *ScreenshotCache) Remove(computerID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byComputer, computerID)
}

func knownBucket(name string) bool {
	if name == recentBucket {
		return true
	}
	for _, spec := range agedBuckets {
		if spec.name == name {
			return true
		}
	}
	return false
}

func bucketNames() []string {
	names := make([]string, 0, len(agedBuckets))
	for _, spec := range agedBuckets {
		names = append(names, spec.name)
	}
	return names
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
