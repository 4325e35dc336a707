// Package scheduler admits paper resolution tasks under a concurrency bound.
//
// Tasks are admitted in submission order. A single dispatcher goroutine pops
// the FIFO queue and blocks on a weighted semaphore, so at most
// MaxConcurrent tasks run at once and no task overtakes an earlier one at
// admission.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// DefaultMaxConcurrent is used when Config.MaxConcurrent is not positive.
const DefaultMaxConcurrent = 20

// TaskFunc resolves one paper. The context is cancelled when the scheduler
// is cancelled.
type TaskFunc func(ctx context.Context, p *domain.Paper) error

// Config holds scheduler settings.
type Config struct {
	MaxConcurrent int
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	InFlight      int   `json:"in_flight"`
	Queued        int   `json:"queued"`
	Peak          int   `json:"peak_in_flight"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	Cancelled     int64 `json:"cancelled"`
}

// Scheduler runs TaskFunc over submitted papers.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	fn     TaskFunc
	max    int
	sem    *semaphore.Weighted

	logger  zerolog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	queue     []*Future
	closed    bool
	inFlight  int
	peak      int
	completed int64
	failed    int64
	cancelled int64

	wake           chan struct{}
	dispatcherDone chan struct{}
	wg             sync.WaitGroup
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithMetrics records in-flight and queue depth.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New starts a scheduler. Cancelling parent has the same effect as Cancel.
func New(parent context.Context, cfg Config, fn TaskFunc, logger zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Scheduler{
		ctx:            ctx,
		cancel:         cancel,
		fn:             fn,
		max:            cfg.MaxConcurrent,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:         logger.With().Str("component", "scheduler").Logger(),
		wake:           make(chan struct{}, 1),
		dispatcherDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.dispatch()
	return s
}

// Submit enqueues p. After Cancel or Close the returned future is already
// complete with domain.ErrCancelled.
func (s *Scheduler) Submit(p *domain.Paper) *Future {
	f := newFuture(p)

	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.cancelled++
		s.mu.Unlock()
		f.complete(domain.ErrCancelled)
		return f
	}
	s.queue = append(s.queue, f)
	queued := len(s.queue)
	inFlight := s.inFlight
	s.mu.Unlock()

	s.metrics.RecordScheduler(inFlight, queued)
	s.signal()
	return f
}

// Cancel stops admission. Queued futures complete with domain.ErrCancelled
// and running tasks see their context cancelled.
func (s *Scheduler) Cancel() {
	s.cancel()
	s.failQueued()
	s.signal()
}

// Close stops accepting submissions and waits for every queued and running
// task to finish. It is safe to call Close after Cancel.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()

	<-s.dispatcherDone
	s.wg.Wait()
	s.cancel()
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		MaxConcurrent: s.max,
		InFlight:      s.inFlight,
		Queued:        len(s.queue),
		Peak:          s.peak,
		Completed:     s.completed,
		Failed:        s.failed,
		Cancelled:     s.cancelled,
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch admits queued futures one at a time.
func (s *Scheduler) dispatch() {
	defer close(s.dispatcherDone)
	defer s.failQueued()

	for {
		f, ok := s.next()
		if !ok {
			return
		}
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.abandon(f)
			return
		}
		s.start(f)
	}
}

// next blocks until a future is queued. It reports false once the
// scheduler is cancelled, or closed with an empty queue.
func (s *Scheduler) next() (*Future, bool) {
	for {
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return nil, false
		}
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return f, true
		}
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.ctx.Done():
		}
	}
}

func (s *Scheduler) start(f *Future) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	inFlight, queued := s.inFlight, len(s.queue)
	s.mu.Unlock()
	s.metrics.RecordScheduler(inFlight, queued)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		err := s.run(f.paper)
		s.finish(f, err)
	}()
}

func (s *Scheduler) run(p *domain.Paper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic for %s: %v", p.ID(), r)
			s.logger.Error().
				Str("paper_id", p.ID()).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()
	return s.fn(s.ctx, p)
}

func (s *Scheduler) finish(f *Future, err error) {
	s.mu.Lock()
	s.inFlight--
	switch {
	case err == nil:
		s.completed++
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCancelled):
		s.cancelled++
	default:
		s.failed++
	}
	inFlight, queued := s.inFlight, len(s.queue)
	s.mu.Unlock()

	s.metrics.RecordScheduler(inFlight, queued)
	f.complete(err)
}

// abandon completes a future popped from the queue but never admitted.
func (s *Scheduler) abandon(f *Future) {
	s.mu.Lock()
	s.cancelled++
	s.mu.Unlock()
	f.complete(domain.ErrCancelled)
}

func (s *Scheduler) failQueued() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.cancelled += int64(len(pending))
	inFlight := s.inFlight
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	for _, f := range pending {
		f.complete(domain.ErrCancelled)
	}
	s.metrics.RecordScheduler(inFlight, 0)
	s.logger.Debug().Int("count", len(pending)).Msg("cancelled queued tasks")
}
