package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has begun.
var ErrQueueClosed = errors.New("processing queue is shut down")

// Job asks a worker to process one record.
type Job struct {
	RecordID    string
	SubmittedAt time.Time
}

// Processor runs the processing pipeline for a single record.
type Processor interface {
	ProcessRecord(ctx context.Context, id string) error
}

// Queue is a fixed pool of workers fed from a buffered channel. Enqueue never
// blocks the caller: when the buffer is full the job waits in its own
// goroutine until a slot frees up or the queue shuts down.
type Queue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch      chan Job
	quit    chan struct{}
	wg      sync.WaitGroup
	pending sync.WaitGroup
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds each job. Zero or less disables the bound.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.timeout = d
	}
}

func NewQueue(proc Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 2 * time.Minute,
		ch:      make(chan Job, 256),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("worker recovered from panic", "worker_id", workerID, "record_id", job.RecordID, "panic", fmt.Sprint(r))
		}
	}()

	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := q.proc.ProcessRecord(ctx, job.RecordID); err != nil {
		q.logger.Error("processing failed", "worker_id", workerID, "record_id", job.RecordID, "error", err)
		return
	}
	q.logger.Info("processed record", "worker_id", workerID, "record_id", job.RecordID,
		"waited", start.Sub(job.SubmittedAt), "took", time.Since(start))
}

// Enqueue schedules a record for processing and returns without waiting for it.
func (q *Queue) Enqueue(id string) error {
	job := Job{RecordID: id, SubmittedAt: time.Now()}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "record_id", id)
		return ErrQueueClosed
	}

	select {
	case q.ch <- job:
		q.logger.Debug("queued record for processing", "record_id", id)
	default:
		q.logger.Warn("queue full, deferring job", "record_id", id)
		q.pending.Add(1)
		go func() {
			defer q.pending.Done()
			select {
			case q.ch <- job:
			case <-q.quit:
				q.logger.Warn("dropping deferred job on shutdown", "record_id", id)
			}
		}()
	}
	return nil
}

// Shutdown stops accepting jobs and waits for queued jobs to finish or for
// ctx to end, whichever comes first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	// deferred senders must finish before the channel can be closed
	q.pending.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
