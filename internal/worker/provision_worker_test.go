package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/podbay/internal/domain"
)

type stubCluster struct {
	mu        sync.Mutex
	createErr error
	block     chan struct{}
	created   []string
}

func (s *stubCluster) CreateInstance(ctx context.Context, userID, planType string, nodePort int) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, userID)
	return nil
}

func (s *stubCluster) DeleteInstance(ctx context.Context, userID string) (domain.TeardownResult, error) {
	return domain.TeardownResult{}, nil
}

func (s *stubCluster) ListInstanceStatus(ctx context.Context, userID string) ([]domain.LiveStatus, error) {
	return nil, nil
}

func (s *stubCluster) ClusterResources(ctx context.Context) (domain.ClusterSummary, error) {
	return domain.ClusterSummary{}, nil
}

func (s *stubCluster) StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses map[int64]string
	updated  chan struct{}
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{statuses: map[int64]string{}, updated: make(chan struct{}, 16)}
}

func (r *statusRecorder) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.mu.Lock()
	r.statuses[id] = status
	r.mu.Unlock()
	r.updated <- struct{}{}
	return nil
}

func (r *statusRecorder) statusOf(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

// Remaining InstanceRepository methods, unused by the pool.
func (r *statusRecorder) Create(ctx context.Context, inst *domain.Instance) error { return nil }
func (r *statusRecorder) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	return nil, domain.ErrInstanceNotFound
}
func (r *statusRecorder) ListByUser(ctx context.Context, userID string) ([]*domain.Instance, error) {
	return nil, nil
}
func (r *statusRecorder) ListAll(ctx context.Context) ([]*domain.Instance, error) { return nil, nil }
func (r *statusRecorder) Delete(ctx context.Context, id int64) error              { return nil }
func (r *statusRecorder) UsedPorts(ctx context.Context) ([]int, error)            { return nil, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForUpdate(t *testing.T, repo *statusRecorder) {
	t.Helper()
	select {
	case <-repo.updated:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status update")
	}
}

func TestPoolMarksRunningOnSuccess(t *testing.T) {
	cluster := &stubCluster{}
	repo := newStatusRecorder()
	pool := NewPool(cluster, repo, discardLogger(), 2, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Submit(ctx, Job{InstanceID: 1, UserID: "user-aaaa1111", PlanType: domain.PlanBasic, NodePort: 31000})
	waitForUpdate(t, repo)

	if got := repo.statusOf(1); got != domain.StatusRunning {
		t.Fatalf("expected running, got %q", got)
	}

	cancel()
	pool.Wait()
}

func TestPoolMarksFailedOnClusterError(t *testing.T) {
	cluster := &stubCluster{createErr: errors.New("quota exceeded")}
	repo := newStatusRecorder()
	pool := NewPool(cluster, repo, discardLogger(), 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Submit(ctx, Job{InstanceID: 7, UserID: "user-bbbb2222", PlanType: domain.PlanPro, NodePort: 31001})
	waitForUpdate(t, repo)

	if got := repo.statusOf(7); got != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", got)
	}

	cancel()
	pool.Wait()
}

func TestPoolMarksFailedOnJobTimeout(t *testing.T) {
	cluster := &stubCluster{block: make(chan struct{})}
	repo := newStatusRecorder()
	pool := NewPool(cluster, repo, discardLogger(), 1, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Submit(ctx, Job{InstanceID: 3, UserID: "user-cccc3333", PlanType: domain.PlanBasic, NodePort: 31002})
	waitForUpdate(t, repo)

	if got := repo.statusOf(3); got != domain.StatusFailed {
		t.Fatalf("expected failed after timeout, got %q", got)
	}

	cancel()
	pool.Wait()
}

func TestShutdownFailsQueuedJobs(t *testing.T) {
	cluster := &stubCluster{block: make(chan struct{})}
	repo := newStatusRecorder()
	pool := NewPool(cluster, repo, discardLogger(), 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// First job occupies the single worker; the rest sit on the queue.
	for i := int64(1); i <= 4; i++ {
		pool.Submit(ctx, Job{InstanceID: i, UserID: "user-ffff6666", NodePort: 31000 + int(i)})
	}

	cancel()
	pool.Wait()

	for i := int64(1); i <= 4; i++ {
		if got := repo.statusOf(i); got != domain.StatusFailed {
			t.Fatalf("expected job %d marked failed on shutdown, got %q", i, got)
		}
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	cluster := &stubCluster{block: make(chan struct{})}
	repo := newStatusRecorder()
	pool := NewPool(cluster, repo, discardLogger(), 1, time.Minute)

	// Pool never started: the queue (capacity 4) fills, then overflow jobs
	// are rejected synchronously.
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		pool.Submit(ctx, Job{InstanceID: i, UserID: "user-dddd4444", NodePort: 31000 + int(i)})
	}

	pool.Submit(ctx, Job{InstanceID: 99, UserID: "user-eeee5555", NodePort: 31099})

	if got := repo.statusOf(99); got != domain.StatusFailed {
		t.Fatalf("expected overflow job marked failed, got %q", got)
	}
}
