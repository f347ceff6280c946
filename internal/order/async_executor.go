package order

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// JobRunner executes a single job attempt.
type JobRunner interface {
	Execute(ctx context.Context, job *Job) error
}

// AsyncExecutor drains the queue with a fixed worker pool. Broker failures
// that may be transient are retried with linear backoff, reusing the job's
// client order id.
type AsyncExecutor struct {
	queue       *Queue
	runner      JobRunner
	workers     int
	maxAttempts int
	backoff     time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	stop   context.CancelFunc
	log    *zap.Logger
}

// AsyncConfig sizes the worker pool and retry policy.
type AsyncConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

func NewAsyncExecutor(queue *Queue, runner JobRunner, cfg AsyncConfig) *AsyncExecutor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &AsyncExecutor{
		queue:       queue,
		runner:      runner,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		log:         logger.Named("order.async"),
	}
}

// Submit hands a job to the pool without blocking. It reports false when
// the executor is closed or the queue is full.
func (a *AsyncExecutor) Submit(job Job) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.log.Warn("async executor closed; order rejected", zap.String("symbol", job.Request.Symbol))
		return false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	return a.queue.Enqueue(job)
}

// Start launches the workers. They keep ctx's values but not its
// cancellation: they run until Close has drained the queue.
func (a *AsyncExecutor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.stop = cancel
	a.mu.Unlock()
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.queue.Drain(ctx, func(j Job) { a.run(ctx, &j) })
		}()
	}
	a.log.Info("order workers started", zap.Int("workers", a.workers), zap.Int("max_attempts", a.maxAttempts))
}

// Pending returns the number of queued jobs.
func (a *AsyncExecutor) Pending() int {
	return a.queue.Len()
}

// Close stops accepting jobs, lets workers finish what is queued and waits.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		a.queue.Close()
	}
	stop := a.stop
	a.mu.Unlock()
	a.wg.Wait()
	if stop != nil {
		stop()
	}
}

func (a *AsyncExecutor) run(ctx context.Context, job *Job) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		job.Attempt = attempt
		err := a.runner.Execute(ctx, job)
		if err == nil {
			return
		}
		if !retryable(err) || attempt == a.maxAttempts {
			a.log.Error("order job failed",
				zap.Int64("run_id", job.RunID),
				zap.String("client_order_id", job.Request.ClientOrderID),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		wait := a.backoff * time.Duration(attempt)
		a.log.Warn("order attempt failed; retrying",
			zap.String("client_order_id", job.Request.ClientOrderID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// retryable reports whether err is a broker failure worth another attempt:
// transport errors, throttling and 5xx responses.
func retryable(err error) bool {
	var be *errs.BrokerError
	if !errors.As(err, &be) {
		return false
	}
	switch {
	case be.StatusCode == 0:
		return true
	case be.StatusCode == http.StatusTooManyRequests:
		return true
	case be.StatusCode >= 500:
		return true
	}
	return false
}
