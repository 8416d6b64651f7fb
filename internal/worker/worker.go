package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/metrics"
)

// Worker repeatedly claims and processes one item at a time
type Worker struct {
	id         string
	store      Store
	pipeline   *Pipeline
	backoff    *Backoff
	errorDelay time.Duration
	metrics    *metrics.Metrics
}

// NewWorker creates a worker identified by id
func NewWorker(id string, cfg config.WorkerConfig, store Store, pipeline *Pipeline, m *metrics.Metrics) *Worker {
	return &Worker{
		id:         id,
		store:      store,
		pipeline:   pipeline,
		backoff:    NewBackoff(cfg.BackoffFloor, cfg.BackoffCeil, cfg.BackoffFactor),
		errorDelay: cfg.ErrorDelay,
		metrics:    m,
	}
}

// ID returns the worker identifier recorded on claimed items
func (w *Worker) ID() string {
	return w.id
}

// Run loops until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	logrus.Infof("Worker %s started", w.id)
	defer logrus.Infof("Worker %s stopped", w.id)

	for ctx.Err() == nil {
		claimed, err := w.step(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logrus.Errorf("Worker %s loop error: %v", w.id, err)
			sleep(ctx, w.errorDelay)
		case claimed:
			w.backoff.Reset()
		default:
			sleep(ctx, w.backoff.Next())
		}
	}
}

// step claims and processes at most one item
func (w *Worker) step(ctx context.Context) (claimed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	item, err := w.store.ClaimNext(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("failed to claim item: %w", err)
	}
	if item == nil {
		return false, nil
	}
	if w.metrics != nil {
		w.metrics.Claims.Inc()
	}

	// a claimed item is always driven to a terminal status, even during shutdown
	w.pipeline.Process(context.WithoutCancel(ctx), item)
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Pool runs a fixed number of workers sharing one store
type Pool struct {
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewPool creates cfg.Count workers named prefix-1 .. prefix-N
func NewPool(prefix string, cfg config.WorkerConfig, store Store, pipeline *Pipeline, m *metrics.Metrics) *Pool {
	count := cfg.Count
	if count <= 0 {
		count = 1
	}
	p := &Pool{}
	for i := 1; i <= count; i++ {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("%s-%d", prefix, i), cfg, store, pipeline, m))
	}
	return p
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	logrus.Infof("Worker pool started with %d workers", len(p.workers))
}

// Stop cancels every worker and waits for in-flight items to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	logrus.Info("Worker pool stopped")
}
