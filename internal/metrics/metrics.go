// Package metrics exposes optional observable playback state. It is not
// part of the correctness contract.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the playback counters.
type Snapshot struct {
	SessionID       string
	Representation  string
	BufferOccupancy time.Duration
	Stalls          int
	DroppedFrames   int
	SegmentsFetched int
	SegmentsFailed  int
	BytesFetched    int64
}

// Collector accumulates playback statistics. All methods are safe for
// concurrent use.
type Collector struct {
	mutex sync.Mutex
	snap  Snapshot
}

// NewCollector creates a collector tagged with the session id.
func NewCollector(sessionID string) *Collector {
	return &Collector{snap: Snapshot{SessionID: sessionID}}
}

// SetRepresentation records the tier of the most recent ABR decision.
func (c *Collector) SetRepresentation(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.Representation = id
}

// SetOccupancy records the latest buffer occupancy reading.
func (c *Collector) SetOccupancy(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.BufferOccupancy = d
}

// SegmentFetched records a completed fetch of the given size.
func (c *Collector) SegmentFetched(bytes int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.SegmentsFetched++
	c.snap.BytesFetched += bytes
}

// SegmentFailed records a fetch that exhausted its retries.
func (c *Collector) SegmentFailed() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.SegmentsFailed++
}

// SetStalls records the render clock's stall count.
func (c *Collector) SetStalls(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.Stalls = n
}

// SetDropped records the render clock's dropped-frame count.
func (c *Collector) SetDropped(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.snap.DroppedFrames = n
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.snap
}
