package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/internal/observability/metrics"
	"github.com/yourorg/podbay/internal/ports"
	"github.com/yourorg/podbay/internal/reliability/retry"
	"github.com/yourorg/podbay/internal/worker"
	"github.com/yourorg/podbay/pkg/cache"
	"github.com/yourorg/podbay/pkg/config"
)

// InstanceView is the user-facing projection of an instance: the stored row
// plus a derived access URL and, for per-user reads, best-effort live status.
type InstanceView struct {
	ID         int64              `json:"id"`
	UserID     string             `json:"userId"`
	Name       string             `json:"podName"`
	PlanType   string             `json:"planType"`
	NodePort   int                `json:"nodePort"`
	Status     string             `json:"status"`
	AccessURL  string             `json:"accessUrl"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	LiveStatus *domain.LiveStatus `json:"liveStatus,omitempty"`
}

// ClusterStatus composes the platform summary with port range usage.
type ClusterStatus struct {
	Cluster domain.ClusterSummary `json:"cluster"`
	Ports   domain.PortStats      `json:"ports"`
}

// JobSubmitter decouples the service from the worker pool implementation.
type JobSubmitter interface {
	Submit(ctx context.Context, job worker.Job)
}

// PodService is the lifecycle orchestrator: it composes the port allocator,
// the record store, and the cluster driver into the provision / list /
// terminate operations exposed over HTTP.
type PodService struct {
	users       domain.UserRepository
	instances   domain.InstanceRepository
	cluster     domain.ClusterClient
	allocator   *ports.Allocator
	submitter   JobSubmitter
	statusCache *cache.Snapshot[domain.ClusterSummary]
	retryCfg    *retry.Config
	maxAttempts int
	accessHost  string
	logger      *slog.Logger
}

// NewPodService wires the orchestrator. All collaborators are injected; the
// service owns no process-wide singletons.
func NewPodService(
	users domain.UserRepository,
	instances domain.InstanceRepository,
	cluster domain.ClusterClient,
	allocator *ports.Allocator,
	submitter JobSubmitter,
	logger *slog.Logger,
	cfg *config.Config,
) *PodService {
	return &PodService{
		users:       users,
		instances:   instances,
		cluster:     cluster,
		allocator:   allocator,
		submitter:   submitter,
		statusCache: cache.NewSnapshot[domain.ClusterSummary](time.Duration(cfg.ClusterStatusCacheSec) * time.Second),
		retryCfg:    retry.DefaultConfig(),
		maxAttempts: cfg.AllocationMaxAttempts,
		accessHost:  cfg.AccessHost,
		logger:      logger,
	}
}

// Provision validates the request, reserves a port, writes the creating row,
// and hands cluster-side creation to the worker pool. It returns immediately;
// the caller polls a read endpoint for the terminal outcome.
func (s *PodService) Provision(ctx context.Context, planType, email string) (*InstanceView, error) {
	if !domain.ValidPlan(planType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPlan, planType)
	}

	userID := generateUserID()

	user := &domain.User{UserID: userID, Email: email}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	inst, err := s.reserveAndRecord(ctx, userID, planType)
	if err != nil {
		return nil, err
	}

	s.submitter.Submit(ctx, worker.Job{
		InstanceID: inst.ID,
		UserID:     inst.UserID,
		PlanType:   inst.PlanType,
		NodePort:   inst.NodePort,
	})

	s.logger.Info("instance provisioning initiated",
		slog.String("user_id", userID),
		slog.String("plan_type", planType),
		slog.Int("node_port", inst.NodePort),
	)

	view := s.view(inst)
	return &view, nil
}

// reserveAndRecord runs the allocate-then-insert loop. The allocator is
// advisory; a racing caller that loses the node_port unique-index race gets
// ErrDuplicatePort from the store and simply reallocates, up to maxAttempts.
func (s *PodService) reserveAndRecord(ctx context.Context, userID, planType string) (*domain.Instance, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		port, err := s.allocator.NextFree(ctx)
		if err != nil {
			return nil, err
		}

		inst := &domain.Instance{
			UserID:   userID,
			Name:     domain.InstanceName(userID, planType),
			PlanType: planType,
			NodePort: port,
		}

		err = s.instances.Create(ctx, inst)
		if err == nil {
			return inst, nil
		}

		s.allocator.Release(ctx, port)

		if !errors.Is(err, domain.ErrDuplicatePort) {
			return nil, err
		}

		lastErr = err
		metrics.ObserveAllocationRetry()
		s.logger.Warn("lost port allocation race, retrying",
			slog.String("user_id", userID),
			slog.Int("port", port),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("port allocation failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// ListForUser returns a user's instances enriched with best-effort live
// status. Enrichment failures are swallowed and logged; rows are returned
// regardless.
func (s *PodService) ListForUser(ctx context.Context, userID string) ([]InstanceView, error) {
	instances, err := s.instances.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var live []domain.LiveStatus
	if len(instances) > 0 {
		live, err = s.cluster.ListInstanceStatus(ctx, userID)
		if err != nil {
			s.logger.Warn("could not get live pod status",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			live = nil
		}
	}

	views := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		view := s.view(inst)
		for i := range live {
			if strings.Contains(live[i].Name, inst.UserID) {
				view.LiveStatus = &live[i]
				break
			}
		}
		views = append(views, view)
	}

	return views, nil
}

// ListAll returns every instance with its access URL. Admin view; no live
// status merge.
func (s *PodService) ListAll(ctx context.Context) ([]InstanceView, error) {
	instances, err := s.instances.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, s.view(inst))
	}
	return views, nil
}

// Terminate tears down an instance's cluster resources and removes its row.
// Teardown is idempotent and the record is always cleared after the attempt:
// the deterministic names mean a later manual sweep can still find any
// stragglers, while an orphaned row would hold its port forever.
func (s *PodService) Terminate(ctx context.Context, id int64) error {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result, err := retry.Do(ctx, s.retryCfg, s.logger, "DeleteInstance", func(ctx context.Context) (domain.TeardownResult, error) {
		r, derr := s.cluster.DeleteInstance(ctx, inst.UserID)
		if derr != nil {
			return r, derr
		}
		if !r.Succeeded() {
			return r, errors.Join(r.Errs...)
		}
		return r, nil
	})
	if err != nil {
		s.logger.Error("cluster teardown incomplete, clearing record anyway",
			slog.Int64("instance_id", id),
			slog.String("user_id", inst.UserID),
			slog.String("error", err.Error()),
		)
		metrics.ObserveTeardown("partial")
	} else {
		s.logger.Info("cluster teardown complete",
			slog.Int64("instance_id", id),
			slog.String("user_id", inst.UserID),
			slog.Bool("deployment_deleted", result.Deployment == domain.StepDeleted),
		)
		metrics.ObserveTeardown("success")
	}

	if err := s.instances.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete instance record: %w", err)
	}

	if inst.Status == domain.StatusRunning {
		metrics.DecrementActive()
	}

	return nil
}

// Status returns the current stored view of a single instance.
func (s *PodService) Status(ctx context.Context, id int64) (*InstanceView, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(inst)
	return &view, nil
}

// ClusterStatus composes the platform summary with port stats. The summary is
// cached briefly to shield the API server from dashboard polling; the call
// never fails, degrading to zero counts when the platform is unreachable.
func (s *PodService) ClusterStatus(ctx context.Context) (ClusterStatus, error) {
	summary, ok := s.statusCache.Get()
	if !ok {
		var err error
		summary, err = s.cluster.ClusterResources(ctx)
		if err != nil {
			s.logger.Warn("cluster summary unavailable", slog.String("error", err.Error()))
			summary = domain.ClusterSummary{}
		}
		s.statusCache.Set(summary)
	}

	stats, err := s.allocator.Stats(ctx)
	if err != nil {
		return ClusterStatus{}, err
	}
	metrics.SetPortUsage(stats.Used, stats.Available)

	return ClusterStatus{Cluster: summary, Ports: stats}, nil
}

// view derives the user-facing projection of a row.
func (s *PodService) view(inst *domain.Instance) InstanceView {
	return InstanceView{
		ID:        inst.ID,
		UserID:    inst.UserID,
		Name:      inst.Name,
		PlanType:  inst.PlanType,
		NodePort:  inst.NodePort,
		Status:    inst.Status,
		AccessURL: fmt.Sprintf("http://%s:%d", s.accessHost, inst.NodePort),
		CreatedAt: inst.CreatedAt,
		UpdatedAt: inst.UpdatedAt,
	}
}

// generateUserID builds the opaque per-request user id.
func generateUserID() string {
	return "user-" + uuid.NewString()[:8]
}
