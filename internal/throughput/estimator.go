// Package throughput maintains a smoothed estimate of achievable download
// bandwidth from completed segment fetches.
package throughput

import (
	"sync"
	"time"

	"vvplay/internal/models"
)

// Estimator computes a byte-weighted harmonic mean over a sliding window of
// recent fetch samples. Weighting by bytes means the estimate over the
// window reduces to total bytes over total elapsed time, so one anomalously
// fast tiny fetch cannot make the estimator wildly overstate capacity.
type Estimator struct {
	mutex    sync.Mutex
	window   int
	fallback float64
	samples  []models.ThroughputSample
}

// New creates an estimator averaging over the given number of samples.
// fallbackBps is returned before any sample exists; callers pass the lowest
// representation's bitrate so cold-start decisions stay conservative.
func New(window int, fallbackBps float64) *Estimator {
	if window < 1 {
		window = 1
	}
	return &Estimator{
		window:   window,
		fallback: fallbackBps,
	}
}

// Record feeds one completed fetch into the estimate. Samples with no bytes
// or no elapsed time carry no rate information and are ignored.
func (e *Estimator) Record(sample models.ThroughputSample) {
	if sample.Bytes <= 0 || sample.Elapsed <= 0 {
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.samples = append(e.samples, sample)
	if len(e.samples) > e.window {
		e.samples = e.samples[len(e.samples)-e.window:]
	}
}

// Estimate returns the sustainable download rate in bits per second.
func (e *Estimator) Estimate() float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.samples) == 0 {
		return e.fallback
	}

	var bytes int64
	var elapsed time.Duration
	for _, s := range e.samples {
		bytes += s.Bytes
		elapsed += s.Elapsed
	}
	if elapsed <= 0 {
		return e.fallback
	}

	return float64(bytes) * 8 / elapsed.Seconds()
}

// SampleCount returns how many samples are currently in the window.
func (e *Estimator) SampleCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.samples)
}

// Reset discards all samples, returning the estimator to its cold-start
// state. Used on stream restart.
func (e *Estimator) Reset() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.samples = e.samples[:0]
}
