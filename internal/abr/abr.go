// Package abr selects the quality tier for each upcoming segment from the
// live throughput estimate and buffer occupancy.
package abr

import (
	"sync"
	"time"

	"vvplay/internal/config"
	"vvplay/internal/logger"
	"vvplay/internal/manifest"
)

// Adapter chooses the representation for the next segment. Implementations
// are invoked once per upcoming segment, immediately before its fetch is
// issued; throughput and buffer state are only valid for that decision
// point.
type Adapter interface {
	// SelectNext picks from reps, which must be ordered ascending by
	// bitrate. last is the previously chosen representation (the zero
	// value on the first call).
	SelectNext(reps []manifest.Representation, throughputBps float64,
		occupancy time.Duration, last manifest.Representation) manifest.Representation
}

// Hybrid is the buffer-aware throughput policy: throughput-bound tier
// choice with a safety factor, a low-water clamp to the lowest tier, and
// single-step upward hysteresis above the high-water mark.
type Hybrid struct {
	mutex   sync.Mutex
	cfg     config.ABR
	logger  logger.Logger
	stalled bool
}

// NewHybrid creates the reference policy with the given tuning.
func NewHybrid(cfg config.ABR, log logger.Logger) *Hybrid {
	return &Hybrid{cfg: cfg, logger: log}
}

// OnStall records a buffer underrun. The next decision is clamped to the
// lowest representation regardless of the throughput estimate.
func (h *Hybrid) OnStall() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stalled = true
}

// SelectNext implements Adapter.
func (h *Hybrid) SelectNext(reps []manifest.Representation, throughputBps float64,
	occupancy time.Duration, last manifest.Representation) manifest.Representation {

	h.mutex.Lock()
	stalled := h.stalled
	h.stalled = false
	h.mutex.Unlock()

	if stalled {
		h.logger.Debugf("ABR: recovering from stall, clamping to %s", reps[0].ID)
		return reps[0]
	}

	// Rebuffer protection dominates everything else.
	if occupancy < h.cfg.LowWater.Std() {
		return reps[0]
	}

	// Highest tier sustainable under the discounted estimate. The list is
	// ascending, so the last tier under the bound wins ties toward the
	// higher bitrate.
	bound := throughputBps * h.cfg.SafetyFactor
	candidate := 0
	for i, rep := range reps {
		if float64(rep.Bitrate) <= bound {
			candidate = i
		}
	}

	lastIdx := indexOf(reps, last)
	if candidate > lastIdx {
		// Stepping up needs a comfortable buffer, and never more than one
		// tier per decision so noisy samples don't cause oscillation.
		if occupancy < h.cfg.HighWater.Std() {
			return reps[lastIdx]
		}
		candidate = lastIdx + 1
	}

	return reps[candidate]
}

// Ladder is a pure throughput ladder with no buffer awareness: the highest
// representation whose bitrate fits under the raw estimate. Kept for
// comparison runs in the simulator.
type Ladder struct{}

// SelectNext implements Adapter.
func (Ladder) SelectNext(reps []manifest.Representation, throughputBps float64,
	_ time.Duration, _ manifest.Representation) manifest.Representation {

	choice := reps[0]
	for _, rep := range reps {
		if float64(rep.Bitrate) <= throughputBps {
			choice = rep
		}
	}
	return choice
}

func indexOf(reps []manifest.Representation, rep manifest.Representation) int {
	for i := range reps {
		if reps[i].ID == rep.ID {
			return i
		}
	}
	return 0
}
