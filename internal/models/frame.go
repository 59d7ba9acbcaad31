package models

import "time"

// PointCloud is one decoded point-cloud payload. The streaming core never
// inspects the point data; it only moves it between the decoder and the
// renderer.
type PointCloud struct {
	// Points is the number of points in the cloud.
	Points int
	// Data is the packed point buffer in whatever layout the decoder and
	// renderer agreed on.
	Data []byte
}

// DecodedFrame is one playback-ready point-cloud frame.
type DecodedFrame struct {
	// Seq is the presentation sequence number, strictly increasing and
	// contiguous across the whole stream.
	Seq uint64
	// PTS is the presentation timestamp relative to stream start.
	PTS time.Duration
	// Duration is how long the frame stays on screen.
	Duration time.Duration
	// Cloud holds the decoded payload. Empty when Missing is set.
	Cloud PointCloud
	// Missing marks a placeholder emitted for a frame that failed to
	// decode. Placeholders keep the timing model consistent; the renderer
	// decides how to present them.
	Missing bool
	// RepID records which representation the frame was decoded from.
	RepID string
}
