package models

import "time"

// SegmentRef identifies one fetchable media segment of one representation.
// It is resolved from the manifest before a fetch is issued.
type SegmentRef struct {
	// RepID is the ID of the representation this segment belongs to.
	RepID string
	// Index is the playback sequence number of the segment, starting at 0.
	Index int
	// URL is the fully-qualified URL to fetch the segment from.
	URL string
	// Duration is the playback duration covered by the segment.
	Duration time.Duration
	// FrameCount is the number of point-cloud frames the segment decodes to.
	FrameCount int
}

// Segment is an immutable unit of fetched, compressed, time-bounded content.
// It is owned by the fetch scheduler until handed to the decode pipeline.
type Segment struct {
	Ref  SegmentRef
	Data []byte
}

// ThroughputSample records the outcome of one completed segment fetch.
// Samples are consumed by the throughput estimator and then discarded.
type ThroughputSample struct {
	Bytes   int64
	Elapsed time.Duration
}

// BitsPerSecond converts the sample into a rate. A zero elapsed time yields
// zero rather than infinity.
func (s ThroughputSample) BitsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / s.Elapsed.Seconds()
}
