// Package fetch issues, sequences, and retries segment downloads. It bounds
// in-flight concurrency so ABR decisions are still fresh when their fetches
// execute, and preserves issue order matching playback order; reordering of
// completions is the decode pipeline's job.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vvplay/internal/config"
	"vvplay/internal/logger"
	"vvplay/internal/models"
)

// SegmentUnavailableError reports that a segment could not be fetched after
// all retry attempts. It is recoverable at the stream level; the scheduler
// does not decide the recovery policy.
type SegmentUnavailableError struct {
	Ref      models.SegmentRef
	Attempts int
	Err      error
}

func (e *SegmentUnavailableError) Error() string {
	return fmt.Sprintf("segment %s/%d unavailable after %d attempts: %v",
		e.Ref.RepID, e.Ref.Index, e.Attempts, e.Err)
}

func (e *SegmentUnavailableError) Unwrap() error { return e.Err }

// Task asks for one segment to be fetched and its result delivered.
type Task struct {
	Ref    models.SegmentRef
	Result chan<- Result
}

// Result carries one completed (or failed) fetch.
type Result struct {
	Ref     models.SegmentRef
	Segment models.Segment
	// Sample is the throughput measurement for a successful fetch.
	Sample models.ThroughputSample
	Err    error
}

// Scheduler downloads segments with bounded concurrency and capped
// exponential backoff on transient failures.
type Scheduler struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
	cfg        config.Fetch

	tasks  chan Task
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler sharing the given http.Client's
// connection pool.
func NewScheduler(client *http.Client, log logger.Logger, userAgent string, cfg config.Fetch) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		httpClient: client,
		logger:     log,
		userAgent:  userAgent,
		cfg:        cfg,
		tasks:      make(chan Task, 64),
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the dispatch loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.dispatch()
}

// Stop cancels in-flight fetches and waits for workers to unwind. No new
// work runs after Stop returns.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Queue submits a fetch without blocking the caller beyond task-channel
// backpressure. Returns false once the scheduler is stopped.
func (s *Scheduler) Queue(t Task) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.tasks <- t:
		return true
	}
}

// dispatch pulls tasks in FIFO order and starts one worker per task once a
// concurrency slot is free. Acquiring the slot before spawning keeps fetch
// issue order equal to queue order.
func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return
			}
			s.wg.Add(1)
			go func(t Task) {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.run(t)
			}(task)
		}
	}
}

func (s *Scheduler) run(t Task) {
	seg, sample, err := s.fetchWithRetry(t.Ref)
	res := Result{Ref: t.Ref, Segment: seg, Sample: sample, Err: err}
	select {
	case t.Result <- res:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) fetchWithRetry(ref models.SegmentRef) (models.Segment, models.ThroughputSample, error) {
	// A request that cannot even be constructed will not succeed on retry.
	if _, err := http.NewRequest(http.MethodGet, ref.URL, nil); err != nil {
		return models.Segment{}, models.ThroughputSample{}, fmt.Errorf("failed to create request: %w", err)
	}

	var lastErr error
	backoff := s.cfg.BackoffBase.Std()

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-s.ctx.Done():
				return models.Segment{}, models.ThroughputSample{}, s.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if limit := s.cfg.BackoffCap.Std(); backoff > limit {
				backoff = limit
			}
		}

		s.logger.Debugf("Fetching segment %s/%d (attempt %d/%d)", ref.RepID, ref.Index, attempt, s.cfg.MaxAttempts)
		data, elapsed, err := s.fetchOnce(ref)
		if err == nil {
			sample := models.ThroughputSample{Bytes: int64(len(data)), Elapsed: elapsed}
			s.logger.Debugf("Fetched segment %s/%d: %d bytes in %v", ref.RepID, ref.Index, len(data), elapsed)
			return models.Segment{Ref: ref, Data: data}, sample, nil
		}
		if s.ctx.Err() != nil {
			return models.Segment{}, models.ThroughputSample{}, s.ctx.Err()
		}

		lastErr = err
		s.logger.Warnf("Fetch attempt %d/%d for segment %s/%d failed: %v",
			attempt, s.cfg.MaxAttempts, ref.RepID, ref.Index, err)
	}

	return models.Segment{}, models.ThroughputSample{}, &SegmentUnavailableError{
		Ref:      ref,
		Attempts: s.cfg.MaxAttempts,
		Err:      lastErr,
	}
}

// fetchOnce performs a single timed attempt. Expiry of the per-attempt
// timeout is treated identically to a network failure.
func (s *Scheduler) fetchOnce(ref models.SegmentRef) ([]byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AttemptTimeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("received status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read body: %w", err)
	}

	return data, time.Since(start), nil
}
