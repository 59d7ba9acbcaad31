package decode_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vvplay/internal/buffer"
	"vvplay/internal/decode"
	"vvplay/internal/logger"
	"vvplay/internal/models"
)

// gateDecoder blocks each segment's decode until its gate is opened, making
// completion order fully controllable from the test.
type gateDecoder struct {
	mutex sync.Mutex
	gates map[int]chan struct{}
	fail  map[int]bool
}

func newGateDecoder() *gateDecoder {
	return &gateDecoder{gates: make(map[int]chan struct{}), fail: make(map[int]bool)}
}

func (d *gateDecoder) gate(index int) chan struct{} {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	g, ok := d.gates[index]
	if !ok {
		g = make(chan struct{})
		d.gates[index] = g
	}
	return g
}

func (d *gateDecoder) open(index int) {
	close(d.gate(index))
}

func (d *gateDecoder) Decode(ctx context.Context, seg models.Segment) ([]models.DecodedFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.gate(seg.Ref.Index):
	}

	d.mutex.Lock()
	fail := d.fail[seg.Ref.Index]
	d.mutex.Unlock()
	if fail {
		return nil, fmt.Errorf("corrupt bitstream")
	}

	frames := make([]models.DecodedFrame, seg.Ref.FrameCount)
	for i := range frames {
		frames[i] = models.DecodedFrame{
			Cloud: models.PointCloud{Points: 1, Data: seg.Data},
			RepID: seg.Ref.RepID,
		}
	}
	return frames, nil
}

func segRef(index int) models.SegmentRef {
	return models.SegmentRef{
		RepID:      "R01",
		Index:      index,
		Duration:   time.Second,
		FrameCount: 2,
	}
}

func seg(index int) models.Segment {
	return models.Segment{Ref: segRef(index), Data: []byte{1, 2, 3, 4}}
}

func drain(t *testing.T, q *buffer.PlaybackQueue, want int) []models.DecodedFrame {
	t.Helper()
	var frames []models.DecodedFrame
	require.Eventually(t, func() bool {
		for {
			f, ok := q.Pop()
			if !ok {
				break
			}
			frames = append(frames, f)
		}
		return len(frames) >= want
	}, 2*time.Second, 5*time.Millisecond, "expected %d frames, got %d", want, len(frames))
	return frames
}

func TestPipeline_ReordersOutOfOrderCompletions(t *testing.T) {
	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)
	dec := newGateDecoder()
	p := decode.NewPipeline(dec, q, 3, logger.Nop())
	p.Start()
	defer p.Stop()

	// Submission order [2, 0, 1], completion order [0, 2, 1].
	require.True(t, p.Submit(seg(2)))
	require.True(t, p.Submit(seg(0)))
	require.True(t, p.Submit(seg(1)))

	dec.open(0)
	time.Sleep(20 * time.Millisecond)
	dec.open(2)
	time.Sleep(20 * time.Millisecond)
	dec.open(1)

	frames := drain(t, q, 6)
	require.Len(t, frames, 6)

	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Seq, "emission must be strictly sequence-ordered")
		assert.Equal(t, time.Duration(i)*500*time.Millisecond, f.PTS)
		assert.Equal(t, 500*time.Millisecond, f.Duration)
		assert.False(t, f.Missing)
	}
}

func TestPipeline_DecodeFailureYieldsPlaceholders(t *testing.T) {
	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)
	dec := newGateDecoder()
	dec.fail[1] = true
	p := decode.NewPipeline(dec, q, 2, logger.Nop())
	p.Start()
	defer p.Stop()

	require.True(t, p.Submit(seg(0)))
	require.True(t, p.Submit(seg(1)))
	dec.open(0)
	dec.open(1)

	frames := drain(t, q, 4)
	require.Len(t, frames, 4)

	assert.False(t, frames[0].Missing)
	assert.False(t, frames[1].Missing)
	assert.True(t, frames[2].Missing, "failed segment becomes explicit placeholders")
	assert.True(t, frames[3].Missing)
	assert.Equal(t, time.Duration(1500)*time.Millisecond, frames[3].PTS, "placeholders carry correct timestamps")

	select {
	case err := <-p.Errors():
		var derr *decode.Error
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, 1, derr.Ref.Index)
	case <-time.After(time.Second):
		t.Fatal("decode failure was not reported upward")
	}
}

func TestPipeline_SkipSegmentKeepsCursorMoving(t *testing.T) {
	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)
	dec := newGateDecoder()
	p := decode.NewPipeline(dec, q, 2, logger.Nop())
	p.Start()
	defer p.Stop()

	// Segment 0 is unavailable at every tier; 1 decodes normally.
	p.SkipSegment(segRef(0))
	require.True(t, p.Submit(seg(1)))
	dec.open(1)

	frames := drain(t, q, 4)
	require.Len(t, frames, 4)
	assert.True(t, frames[0].Missing)
	assert.True(t, frames[1].Missing)
	assert.False(t, frames[2].Missing)
	assert.Equal(t, uint64(2), frames[2].Seq)
}

func TestPipeline_CloseDrainsAndClosesQueue(t *testing.T) {
	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)
	dec := newGateDecoder()
	p := decode.NewPipeline(dec, q, 1, logger.Nop())
	p.Start()

	require.True(t, p.Submit(seg(0)))
	dec.open(0)
	p.Close()

	assert.True(t, q.Closed())
	assert.Equal(t, 2, q.Len(), "queued frames survive the close")
}

func TestRawSplitter(t *testing.T) {
	data := make([]byte, 64)
	ref := models.SegmentRef{RepID: "R01", Index: 0, Duration: time.Second, FrameCount: 4}

	frames, err := decode.RawSplitter{}.Decode(context.Background(), models.Segment{Ref: ref, Data: data})
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for _, f := range frames {
		assert.Equal(t, 16, len(f.Cloud.Data))
		assert.Equal(t, 1, f.Cloud.Points)
	}

	_, err = decode.RawSplitter{}.Decode(context.Background(), models.Segment{Ref: ref})
	assert.Error(t, err, "empty segments are a decode failure")
}
