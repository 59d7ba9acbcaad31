// Package playback paces ordered decoded frames to the renderer at the
// rate dictated by their presentation timestamps.
package playback

import (
	"sync"
	"time"

	"vvplay/internal/buffer"
	"vvplay/internal/logger"
	"vvplay/internal/models"
)

// TickResult classifies the outcome of one render-clock tick.
type TickResult int

const (
	// TickFrame means a frame is due and was returned for presentation.
	TickFrame TickResult = iota
	// TickWait means the next frame exists but is not due yet.
	TickWait
	// TickStall means the next required frame has not arrived (buffer
	// underrun). Playback pauses; the clock does not advance.
	TickStall
	// TickFinished means the stream has ended and the queue is drained.
	TickFinished
)

func (r TickResult) String() string {
	switch r {
	case TickFrame:
		return "frame"
	case TickWait:
		return "wait"
	case TickStall:
		return "stall"
	case TickFinished:
		return "finished"
	}
	return "unknown"
}

// StallListener is notified once per transition into the stalled state.
// The session registers the ABR downgrade hook here.
type StallListener func()

// Scheduler is the render clock. A single consumer loop calls Tick; the
// clock anchors on the first presented frame and re-anchors after every
// stall so playback resumes from the correct timestamp with no skip and no
// duplicate.
type Scheduler struct {
	mutex  sync.Mutex
	queue  *buffer.PlaybackQueue
	logger logger.Logger

	started    bool
	stalled    bool
	wallStart  time.Time
	mediaStart time.Duration

	stalls  int
	dropped int
	onStall StallListener
}

// NewScheduler creates a render clock over the given queue.
func NewScheduler(queue *buffer.PlaybackQueue, log logger.Logger) *Scheduler {
	return &Scheduler{queue: queue, logger: log}
}

// SetStallListener registers the underrun callback. Must be called before
// ticking starts.
func (s *Scheduler) SetStallListener(fn StallListener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onStall = fn
}

// Tick advances playback to the given wall-clock instant. When the result
// is TickFrame the returned frame is due for presentation now. Frames whose
// presentation window has already passed are dropped, logged, and counted;
// the tick then reports the next due frame.
func (s *Scheduler) Tick(now time.Time) (models.DecodedFrame, TickResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for {
		head, ok := s.queue.Peek()
		if !ok {
			if s.queue.Closed() {
				return models.DecodedFrame{}, TickFinished
			}
			if !s.started {
				// Startup buffering, not an underrun.
				return models.DecodedFrame{}, TickWait
			}
			if !s.stalled {
				s.stalled = true
				s.stalls++
				s.logger.Warnf("Playback stalled: buffer underrun after %d stalls", s.stalls-1)
				if s.onStall != nil {
					s.onStall()
				}
			}
			return models.DecodedFrame{}, TickStall
		}

		if !s.started || s.stalled {
			// Anchor (or re-anchor after a stall) so the head frame is due
			// exactly now and the timeline continues from its timestamp.
			s.started = true
			s.stalled = false
			s.wallStart = now
			s.mediaStart = head.PTS
		}

		mediaTime := s.mediaStart + now.Sub(s.wallStart)
		if head.PTS > mediaTime {
			return models.DecodedFrame{}, TickWait
		}

		if mediaTime-head.PTS > head.Duration {
			// Presentation window already passed; fast-forward to bound
			// latency growth after stall recovery.
			s.queue.Pop()
			s.dropped++
			s.logger.Warnf("Dropped stale frame %d (late by %v)", head.Seq, mediaTime-head.PTS-head.Duration)
			continue
		}

		s.queue.Pop()
		return head, TickFrame
	}
}

// Stalls returns how many underrun events have occurred.
func (s *Scheduler) Stalls() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stalls
}

// Dropped returns how many stale frames were fast-forwarded past.
func (s *Scheduler) Dropped() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.dropped
}
