package decode

import (
	"context"
	"fmt"

	"vvplay/internal/models"
)

// pointStride is the packed size of one xyz+rgba point.
const pointStride = 16

// RawSplitter is a trivial Decoder for content whose segments are plain
// concatenations of equally sized packed frames. It exists for headless
// runs and tests; real codecs plug in through the Decoder interface.
type RawSplitter struct{}

// Decode implements Decoder by slicing the segment into Ref.FrameCount
// equal chunks.
func (RawSplitter) Decode(_ context.Context, seg models.Segment) ([]models.DecodedFrame, error) {
	n := seg.Ref.FrameCount
	if n < 1 {
		return nil, fmt.Errorf("segment %s/%d advertises no frames", seg.Ref.RepID, seg.Ref.Index)
	}
	if len(seg.Data) == 0 {
		return nil, fmt.Errorf("segment %s/%d is empty", seg.Ref.RepID, seg.Ref.Index)
	}

	per := len(seg.Data) / n
	if per == 0 {
		return nil, fmt.Errorf("segment %s/%d too small for %d frames", seg.Ref.RepID, seg.Ref.Index, n)
	}

	frames := make([]models.DecodedFrame, n)
	for i := 0; i < n; i++ {
		start := i * per
		end := start + per
		if i == n-1 {
			end = len(seg.Data)
		}
		chunk := seg.Data[start:end]
		frames[i] = models.DecodedFrame{
			Cloud: models.PointCloud{
				Points: len(chunk) / pointStride,
				Data:   chunk,
			},
			RepID: seg.Ref.RepID,
		}
	}
	return frames, nil
}
