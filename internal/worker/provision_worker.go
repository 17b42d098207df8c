package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/internal/observability/metrics"
)

// Job describes one pending cluster-side provisioning run for an instance
// row already stored in creating status.
type Job struct {
	InstanceID int64
	UserID     string
	PlanType   string
	NodePort   int
}

// Pool runs cluster-side instance creation off the request path. Each job
// gets a bounded timeout; the outcome is folded into the record store as
// running or failed and is observable only through the store, never through
// a return value to the original caller.
type Pool struct {
	cluster domain.ClusterClient
	repo    domain.InstanceRepository
	logger  *slog.Logger
	jobs    chan Job
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPool creates a provisioning pool with the given concurrency and per-job
// timeout.
func NewPool(cluster domain.ClusterClient, repo domain.InstanceRepository, logger *slog.Logger, workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		cluster: cluster,
		repo:    repo,
		logger:  logger,
		jobs:    make(chan Job, workers*4),
		workers: workers,
		timeout: timeout,
	}
}

// Start launches the worker goroutines. On cancellation each worker marks
// any still-queued jobs failed before exiting, so no row is stranded in
// creating status.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("provision worker pool started",
		slog.Int("workers", p.workers),
		slog.Duration("job_timeout", p.timeout),
	)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					p.drain(ctx)
					return
				case job := <-p.jobs:
					p.run(ctx, job)
				}
			}
		}()
	}
}

// drain fails whatever is left on the queue at shutdown.
func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case job := <-p.jobs:
			p.logger.Warn("shutdown with job still queued, marking instance failed",
				slog.Int64("instance_id", job.InstanceID),
				slog.String("user_id", job.UserID),
			)
			p.markFailed(ctx, job)
		default:
			return
		}
	}
}

// Submit enqueues a provisioning job. It never blocks the caller: when the
// queue is full the job is rejected and the row is marked failed immediately,
// which the caller observes by polling.
func (p *Pool) Submit(ctx context.Context, job Job) {
	select {
	case p.jobs <- job:
	default:
		p.logger.Error("provision queue full, marking instance failed",
			slog.Int64("instance_id", job.InstanceID),
			slog.String("user_id", job.UserID),
		)
		p.markFailed(ctx, job)
	}
}

// Wait blocks until all workers have exited. Call after cancelling the
// context passed to Start.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, job Job) {
	logger := p.logger.With(
		slog.Int64("instance_id", job.InstanceID),
		slog.String("user_id", job.UserID),
	)
	logger.Info("starting cluster provisioning",
		slog.String("plan_type", job.PlanType),
		slog.Int("node_port", job.NodePort),
	)
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.cluster.CreateInstance(jobCtx, job.UserID, job.PlanType, job.NodePort)
	if err != nil {
		logger.Error("cluster provisioning failed", slog.String("error", err.Error()))
		metrics.ObserveProvision("error", time.Since(start))
		p.markFailed(ctx, job)
		return
	}

	// Status updates must outlive a provisioning timeout but not a hung
	// store, so they get their own short deadline.
	updateCtx, cancelUpdate := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelUpdate()

	if err := p.repo.UpdateStatus(updateCtx, job.InstanceID, domain.StatusRunning); err != nil {
		logger.Error("failed to mark instance running", slog.String("error", err.Error()))
		return
	}

	logger.Info("instance provisioned", slog.Duration("took", time.Since(start)))
	metrics.ObserveProvision("success", time.Since(start))
	metrics.IncrementActive()
}

func (p *Pool) markFailed(ctx context.Context, job Job) {
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.repo.UpdateStatus(updateCtx, job.InstanceID, domain.StatusFailed); err != nil {
		p.logger.Error("failed to mark instance failed",
			slog.Int64("instance_id", job.InstanceID),
			slog.String("error", err.Error()),
		)
	}
}
