package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PoolConfig configures NewPool. Zero Workers or QueueSize select the
// defaults; a zero Timeout leaves jobs unbounded.
type PoolConfig struct {
	Handler   Handler
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
// Queued jobs are not persisted and are dropped on shutdown.
type Pool struct {
	handler Handler
	workers int
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan Job
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// NewPool creates a Pool. Workers do not run until Start is called.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: cfg.Handler,
		workers: workers,
		timeout: cfg.Timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan Job, queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers. It is a no-op after the first call or after Shutdown.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Dispatch queues job and returns immediately. It never blocks the caller:
// a full queue yields ErrQueueFull.
func (p *Pool) Dispatch(_ context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for running ones to finish. If ctx
// expires first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		if dropped := len(p.queue); dropped > 0 {
			p.logger.Warn("dropping queued jobs", "count", dropped)
		}
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		select {
		case <-p.stop:
			return
		case job := <-p.queue:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := execute(ctx, p.handler, job); err != nil {
		p.logger.Error("job failed", "job_id", job.ID, "action", job.Action, "source", job.SourceKey, "error", err)
	}
}

// execute runs h, converting a panic into an error so one bad job cannot take
// down its worker.
func execute(ctx context.Context, h Handler, job Job) (err error) {
	if h == nil {
		return fmt.Errorf("no handler configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}
