// Package worker drains the grading event queue and runs the write path for
// each event, retrying transient failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/internal/domain/scoring"
	"github.com/okian/contestboard/pkg/logger"
	"github.com/okian/contestboard/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 200 * time.Millisecond
	poolShutdownTimeout     = 30 * time.Second
)

// Processor runs the write path for one event. Re-running it is always safe
// because totals are recomputed from scratch.
type Processor interface {
	OnSubmissionGraded(ctx context.Context, e model.GradingEvent) error
}

// Releaser forgets an event ID so the upstream source may redeliver it.
type Releaser interface {
	Unrecord(ctx context.Context, id string)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.GradingEvent
}

// Worker processes events until its queue closes or ctx is canceled.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	releaser  Releaser
	name      string

	maxRetries   int
	retryBackoff time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(queue Queue, processor Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:        queue,
		processor:    processor,
		name:         "worker",
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.handle(ctx, e)
		}
	}
}

// Shutdown stops the worker after its current event.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) handle(ctx context.Context, e model.GradingEvent) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	err := w.process(ctx, e)
	metrics.RecordEventProcessed(err == nil)
	if err == nil {
		return
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", errorType(err))
	w.logger.Error(ctx, "dropping grading event",
		logger.String("event_id", e.EventID),
		logger.String("contest_id", e.ContestID),
		logger.String("user_id", e.UserID),
		logger.Error(err),
	)
	if w.releaser != nil {
		w.releaser.Unrecord(ctx, e.EventID)
	}
}

// process runs the write path, retrying with linear backoff.
func (w *InMemoryWorker) process(ctx context.Context, e model.GradingEvent) error {
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordWorkerRetry()
			w.logger.Debug(ctx, "retrying grading event",
				logger.String("event_id", e.EventID),
				logger.Int("attempt", attempt),
				logger.Error(err),
			)
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(w.retryBackoff * time.Duration(attempt)):
			}
		}

		err = w.processor.OnSubmissionGraded(ctx, e)
		if err == nil || permanent(err) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", w.maxRetries+1, err)
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, model.ErrInvalidEvent) || errors.Is(err, scoring.ErrMappingNotInContest)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, scoring.ErrMappingNotInContest):
		return "mapping_not_in_contest"
	case errors.Is(err, scoring.ErrDataUnavailable):
		return "data_unavailable"
	default:
		return "write_failed"
	}
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers sharing opts. A non-positive count
// defaults to twice the number of CPUs.
func NewPool(workerCount int, queue Queue, processor Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, processor, workerOpts...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue, lets workers drain what is already queued and
// waits for them, bounded by ctx and poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
