// Package queue moves webhook event ids from ingestion to background
// processing, either through an in-process worker pool or through Kafka.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_queue_jobs_total",
		Help: "Webhook jobs handled by the worker pool, labeled by result",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paycore_queue_depth",
		Help: "Webhook jobs waiting in the worker pool",
	})
)

// Handler processes one stored webhook event.
type Handler func(ctx context.Context, eventID int64) error

type Dispatcher interface {
	Dispatch(ctx context.Context, eventID int64) error
}

// Pool is a bounded in-process queue drained by a fixed set of workers.
// Dispatch never blocks: a full queue returns ErrQueueFull and the event is
// left for the sweeper to replay.
type Pool struct {
	workers int
	jobs    chan int64
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, depth int, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &Pool{workers: workers, jobs: make(chan int64, depth), log: log}
}

func (p *Pool) Dispatch(ctx context.Context, eventID int64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}

	select {
	case p.jobs <- eventID:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. They exit once Stop drains the queue.
func (p *Pool) Start(ctx context.Context, handle Handler) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i, handle)
	}
}

func (p *Pool) work(ctx context.Context, n int, handle Handler) {
	defer p.wg.Done()
	for id := range p.jobs {
		queueDepth.Dec()
		if err := handle(ctx, id); err != nil {
			jobsTotal.WithLabelValues("error").Inc()
			p.log.Warn("webhook job failed", "worker", n, "event_id", id, "error", err)
			continue
		}
		jobsTotal.WithLabelValues("ok").Inc()
	}
}

// Stop refuses new jobs, lets the workers finish what is queued and waits
// for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
