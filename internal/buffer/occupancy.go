// Package buffer holds the state shared across the decode and render
// boundaries: the playback-time occupancy counter and the ordered queue of
// decoded frames.
package buffer

import (
	"sync"
	"time"

	"vvplay/internal/logger"
)

// Occupancy tracks how much decoded-but-unplayed content is queued, in
// playback-time units. The decode pipeline increments it, the playback
// scheduler decrements it, and the ABR engine reads it.
type Occupancy struct {
	mutex      sync.Mutex
	logger     logger.Logger
	queued     time.Duration
	underflows int
}

// NewOccupancy creates an empty occupancy tracker.
func NewOccupancy(log logger.Logger) *Occupancy {
	return &Occupancy{logger: log}
}

// FrameEnqueued records that a frame of the given duration was queued.
func (o *Occupancy) FrameEnqueued(d time.Duration) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.queued += d
}

// FrameConsumed records that a frame of the given duration was played out.
// Consuming more than is queued is a programming error; it is logged and
// clamped rather than allowed to crash playback.
func (o *Occupancy) FrameConsumed(d time.Duration) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if d > o.queued {
		o.underflows++
		o.logger.Errorf("Buffer occupancy underflow: consuming %v with only %v queued", d, o.queued)
		o.queued = 0
		return
	}
	o.queued -= d
}

// Occupancy returns the playback time currently queued.
func (o *Occupancy) Occupancy() time.Duration {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.queued
}

// Underflows returns how many times consumption exceeded the queued amount.
func (o *Occupancy) Underflows() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.underflows
}

// Reset clears the tracker for a stream restart.
func (o *Occupancy) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.queued = 0
	o.underflows = 0
}
