// Package player wires the streaming pipeline together and runs the
// per-segment control loop: read the live throughput and buffer state,
// pick a tier, issue the fetch, and hand completed segments to decode.
package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vvplay/internal/abr"
	"vvplay/internal/buffer"
	"vvplay/internal/config"
	"vvplay/internal/decode"
	"vvplay/internal/fetch"
	"vvplay/internal/logger"
	"vvplay/internal/manifest"
	"vvplay/internal/metrics"
	"vvplay/internal/models"
	"vvplay/internal/playback"
	"vvplay/internal/throughput"
)

// controlPollInterval is how often the control loop re-checks the fetch
// window while the buffer is full or the in-flight bound is reached.
const controlPollInterval = 25 * time.Millisecond

// Session drives playback of one stream from manifest to render clock. A
// session is single-use; restarting a stream means building a new session,
// which resets the estimator and trackers by construction.
type Session struct {
	ID string

	logger   logger.Logger
	cfg      *config.Player
	manifest *manifest.Manifest

	occupancy *buffer.Occupancy
	queue     *buffer.PlaybackQueue
	estimator *throughput.Estimator
	adapter   *abr.Hybrid
	fetcher   *fetch.Scheduler
	pipeline  *decode.Pipeline
	clock     *playback.Scheduler
	collector *metrics.Collector

	results     chan fetch.Result
	outstanding atomic.Int64
	downgraded  map[int]bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSession builds a session for the given manifest. The http.Client is
// shared with the manifest client so connections are reused; dec is the
// external decoder collaborator.
func NewSession(log logger.Logger, cfg *config.Player, m *manifest.Manifest,
	httpClient *http.Client, dec decode.Decoder) *Session {

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	occupancy := buffer.NewOccupancy(log)
	queue := buffer.NewQueue(occupancy)
	id := uuid.NewString()

	s := &Session{
		ID:         id,
		logger:     log,
		cfg:        cfg,
		manifest:   m,
		occupancy:  occupancy,
		queue:      queue,
		estimator:  throughput.New(cfg.Playback.ThroughputWindow, float64(m.Lowest().Bitrate)),
		adapter:    abr.NewHybrid(cfg.ABR, log),
		fetcher:    fetch.NewScheduler(httpClient, log, cfg.UserAgent, cfg.Fetch),
		pipeline:   decode.NewPipeline(dec, queue, cfg.Decode.Workers, log),
		clock:      playback.NewScheduler(queue, log),
		collector:  metrics.NewCollector(id),
		results:    make(chan fetch.Result, cfg.Fetch.Concurrency*2),
		downgraded: make(map[int]bool),
		ctx:        ctx,
		cancel:     cancel,
		group:      group,
	}

	// Underruns are the strongest downgrade signal the ABR engine gets.
	s.clock.SetStallListener(s.adapter.OnStall)

	return s
}

// Clock returns the render clock the renderer collaborator ticks.
func (s *Session) Clock() *playback.Scheduler {
	return s.clock
}

// Start kicks off the fetch scheduler, decode pipeline, and the control and
// result loops.
func (s *Session) Start() {
	s.logger.Infof("Starting session %s: %d representations, %d segments, %.4g fps",
		s.ID, len(s.manifest.Representations()), s.manifest.SegmentCount(), s.manifest.FrameRate)

	s.fetcher.Start()
	s.pipeline.Start()

	s.group.Go(s.controlLoop)
	s.group.Go(s.resultLoop)
	go s.decodeErrorLoop()
}

// Wait blocks until the stream has been fully fetched and decoded or a
// fatal error occurred. The render clock may still be draining the queue
// when Wait returns.
func (s *Session) Wait() error {
	err := s.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop cancels playback promptly. In-flight fetches and decodes are
// abandoned, not awaited, and all held buffers are released.
func (s *Session) Stop() {
	s.logger.Infof("Stopping session %s", s.ID)
	s.cancel()
	s.fetcher.Stop()
	s.pipeline.Stop()
	s.queue.Drain()
}

// Metrics returns a snapshot of the observable playback state.
func (s *Session) Metrics() metrics.Snapshot {
	s.collector.SetOccupancy(s.occupancy.Occupancy())
	s.collector.SetStalls(s.clock.Stalls())
	s.collector.SetDropped(s.clock.Dropped())
	return s.collector.Snapshot()
}

// controlLoop makes one ABR decision per upcoming segment, immediately
// before that segment's fetch is issued. Decisions are never made
// speculatively for segments further ahead: the loop blocks while the
// buffer target is met or the in-flight bound is reached, so every decision
// sees current throughput and buffer state.
func (s *Session) controlLoop() error {
	reps := s.manifest.Representations()
	var last manifest.Representation

	for index := 0; index < s.manifest.SegmentCount(); index++ {
		if err := s.waitForWindow(); err != nil {
			return err
		}

		estimate := s.estimator.Estimate()
		occupancy := s.occupancy.Occupancy()
		rep := s.adapter.SelectNext(reps, estimate, occupancy, last)

		ref, err := s.manifest.SegmentReference(rep.ID, index)
		if err != nil {
			return fmt.Errorf("failed to resolve segment %d of %s: %w", index, rep.ID, err)
		}

		s.logger.Debugf("Session %s: segment %d -> %s (estimate %.0f bps, occupancy %v)",
			s.ID, index, rep.ID, estimate, occupancy)
		s.collector.SetRepresentation(rep.ID)

		s.outstanding.Add(1)
		if !s.fetcher.Queue(fetch.Task{Ref: ref, Result: s.results}) {
			return s.ctx.Err()
		}
		last = rep
	}

	s.logger.Debugf("Session %s: all %d segments issued", s.ID, s.manifest.SegmentCount())
	return nil
}

// waitForWindow blocks until another fetch may be issued: the buffer is
// below target and fewer fetches are outstanding than the in-flight bound.
func (s *Session) waitForWindow() error {
	ticker := time.NewTicker(controlPollInterval)
	defer ticker.Stop()

	for {
		if s.outstanding.Load() < int64(s.cfg.Fetch.Concurrency) &&
			s.occupancy.Occupancy() < s.cfg.Playback.BufferTarget.Std() {
			return nil
		}
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
		}
	}
}

// resultLoop feeds completed fetches into the throughput estimator and the
// decode pipeline, and applies the recovery policy for unavailable
// segments: one re-attempt at the lowest tier, then an explicit skip that
// keeps the timing model intact.
func (s *Session) resultLoop() error {
	total := s.manifest.SegmentCount()

	for completed := 0; completed < total; {
		var res fetch.Result
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case res = <-s.results:
		}

		if res.Err != nil {
			var unavail *fetch.SegmentUnavailableError
			if !errors.As(res.Err, &unavail) {
				if s.ctx.Err() != nil {
					return s.ctx.Err()
				}
				return fmt.Errorf("segment fetch failed: %w", res.Err)
			}

			s.collector.SegmentFailed()
			if s.requeueAtLowest(res.Ref) {
				continue
			}

			s.logger.Warnf("Session %s: segment %d unavailable at every attempted tier, emitting placeholders",
				s.ID, res.Ref.Index)
			s.pipeline.SkipSegment(res.Ref)
			s.outstanding.Add(-1)
			completed++
			continue
		}

		s.estimator.Record(res.Sample)
		s.collector.SegmentFetched(res.Sample.Bytes)

		if !s.pipeline.Submit(res.Segment) {
			return s.ctx.Err()
		}
		s.outstanding.Add(-1)
		completed++
	}

	// Every segment is in the pipeline; drain it and end the queue.
	s.pipeline.Close()
	s.logger.Infof("Session %s: stream fully fetched and decoded", s.ID)
	return nil
}

// requeueAtLowest retries an unavailable segment once at the lowest tier.
// Returns false when the failed fetch already was that retry, or already at
// the lowest tier.
func (s *Session) requeueAtLowest(ref models.SegmentRef) bool {
	lowest := s.manifest.Lowest()
	if s.downgraded[ref.Index] || ref.RepID == lowest.ID {
		return false
	}

	lowRef, err := s.manifest.SegmentReference(lowest.ID, ref.Index)
	if err != nil {
		s.logger.Errorf("Session %s: failed to resolve downgrade for segment %d: %v", s.ID, ref.Index, err)
		return false
	}

	s.downgraded[ref.Index] = true
	s.logger.Warnf("Session %s: segment %d unavailable at %s, retrying at %s",
		s.ID, ref.Index, ref.RepID, lowest.ID)
	return s.fetcher.Queue(fetch.Task{Ref: lowRef, Result: s.results})
}

// decodeErrorLoop surfaces decode failures. The frames themselves arrive as
// placeholders; this is only the fallback signal.
func (s *Session) decodeErrorLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.pipeline.Errors():
			s.logger.Warnf("Session %s: %v", s.ID, err)
		}
	}
}
