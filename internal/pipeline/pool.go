package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/flume/internal/adapters/transport"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
)

// Default pool configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Pool runs one worker per assigned partition. Partition count bounds
// parallelism; within a partition processing is strictly sequential.
type Pool struct {
	transport transport.Transport
	topic     string
	group     string
	deps      Deps

	mu      sync.Mutex
	workers []*Worker
	started bool

	log logger.Logger
}

// NewPool creates a pool consuming topic for the given consumer group.
func NewPool(t transport.Transport, topic, group string, deps Deps) *Pool {
	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}
	return &Pool{
		transport: t,
		topic:     topic,
		group:     group,
		deps:      deps,
		log:       log.Named("pool"),
	}
}

// Start subscribes and spawns a worker per announced partition reader.
// Workers run until ctx is canceled or the transport closes.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	readers, err := p.transport.Subscribe(ctx, p.topic, p.group)
	if err != nil {
		return fmt.Errorf("subscribe %s as %s: %w", p.topic, p.group, err)
	}

	go func() {
		for reader := range readers {
			w := NewWorker(reader, p.deps)

			p.mu.Lock()
			p.workers = append(p.workers, w)
			count := len(p.workers)
			p.mu.Unlock()
			metrics.UpdateWorkerCount(count)

			p.log.Info(ctx, "partition assigned",
				logger.Int("partition", int(reader.Partition())),
				logger.Int("workers", count),
			)
			go w.Run(ctx)
		}
	}()

	return nil
}

// WorkerCount returns the number of spawned workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Shutdown waits for all workers to drain, bounded by ctx and a hard
// timeout. The caller cancels the Run context first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	deadline, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for _, w := range workers {
		select {
		case <-w.Done():
		case <-deadline.Done():
			p.log.Warn(ctx, "worker shutdown timed out")
			return fmt.Errorf("pool shutdown: %w", deadline.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
