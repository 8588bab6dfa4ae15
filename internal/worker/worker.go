package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/metrics"
	"github.com/repolab/repotutor/pkg/types"
)

// Executor runs one job to completion. Implementations mark the job and
// repository state themselves; the pool only dispatches and counts.
type Executor interface {
	Execute(ctx context.Context, job *types.Job) error
}

// Pool polls the job queue and dispatches pending jobs to per-type
// executors, bounded by a fixed concurrency.
type Pool struct {
	jobs      *jobs.Service
	executors map[types.JobType]Executor
	metrics   *metrics.Metrics
	log       *slog.Logger

	pollInterval time.Duration
	concurrency  int

	mu       sync.Mutex
	inflight int
	wg       sync.WaitGroup
}

// New creates a pool. Executors maps each job type the pool should serve
// to the service that runs it.
func New(jobSvc *jobs.Service, executors map[types.JobType]Executor,
	m *metrics.Metrics, pollInterval time.Duration, concurrency int,
	log *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		jobs:         jobSvc,
		executors:    executors,
		metrics:      m,
		log:          log,
		pollInterval: pollInterval,
		concurrency:  concurrency,
	}
}

// Run polls until ctx is canceled, then drains in-flight jobs before
// returning.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.log.Info("worker pool started",
		"concurrency", p.concurrency, "poll_interval", p.pollInterval)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker pool draining")
			p.wg.Wait()
			p.log.Info("worker pool stopped")
			return nil
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error("poll failed", "error", err)
			}
		}
	}
}

// Poll claims up to the pool's free capacity of pending jobs and
// dispatches each on its own goroutine.
func (p *Pool) Poll(ctx context.Context) error {
	free := p.freeSlots()
	if free == 0 {
		return nil
	}

	pending, err := p.jobs.ListPending(ctx, free)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range pending {
		if err := p.jobs.Start(ctx, job); err != nil {
			// Claimed elsewhere between list and start
			if errors.Is(err, types.ErrJobNotPending) {
				continue
			}
			p.log.Error("failed to start job", "job_id", job.ID, "error", err)
			continue
		}
		p.dispatch(ctx, job)
	}
	return nil
}

func (p *Pool) dispatch(ctx context.Context, job *types.Job) {
	executor, ok := p.executors[job.Type]
	if !ok {
		msg := fmt.Sprintf("no executor for job type %q", job.Type)
		p.log.Error("dropping job", "job_id", job.ID, "type", job.Type)
		_ = p.jobs.Fail(ctx, job, msg)
		p.metrics.JobsFailed.WithLabelValues(string(job.Type)).Inc()
		return
	}

	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()
	p.wg.Add(1)
	p.metrics.JobsStarted.WithLabelValues(string(job.Type)).Inc()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.inflight--
			p.mu.Unlock()
		}()

		started := time.Now()
		err := executor.Execute(ctx, job)
		elapsed := time.Since(started)
		p.metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())

		if err != nil {
			p.metrics.JobsFailed.WithLabelValues(string(job.Type)).Inc()
			p.log.Error("job failed",
				"job_id", job.ID, "type", job.Type, "duration", elapsed, "error", err)
			return
		}
		p.metrics.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
		p.log.Info("job completed",
			"job_id", job.ID, "type", job.Type, "duration", elapsed)
	}()
}

func (p *Pool) freeSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := p.concurrency - p.inflight
	if free < 0 {
		return 0
	}
	return free
}

// Inflight reports the number of jobs currently executing.
func (p *Pool) Inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}
