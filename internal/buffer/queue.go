package buffer

import (
	"errors"
	"sync"

	"vvplay/internal/models"
)

var (
	// ErrSequenceGap is returned when a push would leave a hole in the
	// sequence numbering. Reordering is the decode pipeline's job; by the
	// time frames reach this queue they must be contiguous.
	ErrSequenceGap = errors.New("frame sequence gap")
	// ErrQueueClosed is returned when pushing to a closed queue.
	ErrQueueClosed = errors.New("playback queue closed")
)

// PlaybackQueue is the ordered-by-sequence-number queue of decoded frames
// between the decode pipeline and the playback scheduler. Sequence numbers
// are strictly increasing and contiguous; a missing frame must arrive as an
// explicit placeholder, never as a gap.
type PlaybackQueue struct {
	mutex     sync.Mutex
	occupancy *Occupancy
	frames    []models.DecodedFrame
	started   bool
	nextSeq   uint64
	closed    bool
}

// NewQueue creates an empty queue. Enqueue and dequeue keep the given
// occupancy tracker up to date.
func NewQueue(occupancy *Occupancy) *PlaybackQueue {
	return &PlaybackQueue{occupancy: occupancy}
}

// Push appends a frame. The first frame establishes the sequence base;
// every later frame must carry exactly the next sequence number.
func (q *PlaybackQueue) Push(f models.DecodedFrame) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started && f.Seq != q.nextSeq {
		return ErrSequenceGap
	}

	q.started = true
	q.nextSeq = f.Seq + 1
	q.frames = append(q.frames, f)
	q.occupancy.FrameEnqueued(f.Duration)
	return nil
}

// Peek returns the head frame without removing it.
func (q *PlaybackQueue) Peek() (models.DecodedFrame, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.frames) == 0 {
		return models.DecodedFrame{}, false
	}
	return q.frames[0], true
}

// Pop removes and returns the head frame.
func (q *PlaybackQueue) Pop() (models.DecodedFrame, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.frames) == 0 {
		return models.DecodedFrame{}, false
	}
	f := q.frames[0]
	// Shift rather than reslice so consumed frames are released promptly.
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	q.occupancy.FrameConsumed(f.Duration)
	return f, true
}

// Len returns the number of queued frames.
func (q *PlaybackQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.frames)
}

// Close marks the end of the stream. Queued frames remain poppable; further
// pushes fail.
func (q *PlaybackQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
}

// Closed reports whether the producer side has finished.
func (q *PlaybackQueue) Closed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}

// Drain empties the queue, releasing all held frames. Used during teardown.
func (q *PlaybackQueue) Drain() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for _, f := range q.frames {
		q.occupancy.FrameConsumed(f.Duration)
	}
	q.frames = nil
}
