// Package decode hands fetched segments to the external decoder on a
// bounded worker pool and releases the resulting frames into the playback
// queue in strict sequence order.
package decode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vvplay/internal/buffer"
	"vvplay/internal/logger"
	"vvplay/internal/models"
)

// Decoder is the external codec collaborator. Decode is treated as a pure,
// stateless-per-segment transformation from compressed bytes to frames.
type Decoder interface {
	Decode(ctx context.Context, seg models.Segment) ([]models.DecodedFrame, error)
}

// Error reports a decode failure on one segment. The affected frame range
// is replaced with placeholders; playback continues.
type Error struct {
	Ref models.SegmentRef
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode segment %s/%d: %v", e.Ref.RepID, e.Ref.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pipeline decodes independent segments in parallel but emits frames into
// the playback queue only once every earlier segment has been emitted. The
// reorder buffer is a map keyed by segment index with a release cursor.
type Pipeline struct {
	decoder Decoder
	queue   *buffer.PlaybackQueue
	logger  logger.Logger

	tasks chan models.Segment
	errs  chan error

	mutex     sync.Mutex
	pending   map[int][]models.DecodedFrame
	nextIndex int
	nextSeq   uint64
	ptsCursor time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	workers int
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline emitting into the given queue. The release
// cursor starts at segment index 0.
func NewPipeline(dec Decoder, queue *buffer.PlaybackQueue, workers int, log logger.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		decoder: dec,
		queue:   queue,
		logger:  log,
		tasks:   make(chan models.Segment, workers*2),
		errs:    make(chan error, 16),
		pending: make(map[int][]models.DecodedFrame),
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
	}
}

// Start spawns the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit hands a fetched segment to the pool. Ownership of the segment
// transfers to the pipeline. Returns false after Stop.
func (p *Pipeline) Submit(seg models.Segment) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.tasks <- seg:
		return true
	}
}

// SkipSegment releases placeholder frames for a segment that could not be
// fetched at any tier, so the release cursor and the timing model stay
// consistent without its data.
func (p *Pipeline) SkipSegment(ref models.SegmentRef) {
	p.release(ref, placeholders(ref))
}

// Errors delivers decode failures for quality fallback decisions. The
// channel is never closed; failures are also representable as placeholder
// frames, so dropping an error here loses nothing but a signal.
func (p *Pipeline) Errors() <-chan error {
	return p.errs
}

// Close stops accepting segments, drains in-flight decodes, and closes the
// playback queue.
func (p *Pipeline) Close() {
	close(p.tasks)
	p.wg.Wait()
	p.queue.Close()
}

// Stop abandons all work promptly without draining.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case seg, ok := <-p.tasks:
			if !ok {
				return
			}
			p.decodeSegment(seg)
		}
	}
}

func (p *Pipeline) decodeSegment(seg models.Segment) {
	frames, err := p.decoder.Decode(p.ctx, seg)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warnf("Decode failed for segment %s/%d, emitting %d placeholder frames: %v",
			seg.Ref.RepID, seg.Ref.Index, seg.Ref.FrameCount, err)
		frames = placeholders(seg.Ref)
		select {
		case p.errs <- &Error{Ref: seg.Ref, Err: err}:
		default:
		}
	} else if len(frames) == 0 {
		// A decoder returning nothing still owes the timeline its range.
		frames = placeholders(seg.Ref)
	}

	p.release(seg.Ref, frames)
}

// placeholders builds explicit missing frames carrying the segment's
// timing so the playback scheduler's clock stays consistent.
func placeholders(ref models.SegmentRef) []models.DecodedFrame {
	frames := make([]models.DecodedFrame, ref.FrameCount)
	for i := range frames {
		frames[i] = models.DecodedFrame{Missing: true, RepID: ref.RepID}
	}
	return frames
}

// release parks the decoded segment and advances the cursor over every
// consecutively complete segment, stamping sequence numbers and timestamps
// as frames leave. Stamping at release time makes gaps impossible.
func (p *Pipeline) release(ref models.SegmentRef, frames []models.DecodedFrame) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.pending[ref.Index] = stampDurations(ref, frames)

	for {
		ready, ok := p.pending[p.nextIndex]
		if !ok {
			return
		}
		delete(p.pending, p.nextIndex)

		for i := range ready {
			ready[i].Seq = p.nextSeq
			ready[i].PTS = p.ptsCursor
			p.nextSeq++
			p.ptsCursor += ready[i].Duration

			if err := p.queue.Push(ready[i]); err != nil {
				p.logger.Errorf("Failed to enqueue frame %d: %v", ready[i].Seq, err)
			}
		}
		p.nextIndex++
	}
}

// stampDurations spreads the segment's playback duration evenly over its
// frames, whatever count the decoder produced.
func stampDurations(ref models.SegmentRef, frames []models.DecodedFrame) []models.DecodedFrame {
	per := ref.Duration / time.Duration(len(frames))
	for i := range frames {
		frames[i].Duration = per
	}
	return frames
}
