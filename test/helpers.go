package test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/internal/handler"
	"github.com/yourorg/podbay/internal/ports"
	"github.com/yourorg/podbay/internal/service"
	"github.com/yourorg/podbay/internal/worker"
	"github.com/yourorg/podbay/pkg/config"
)

// memUserRepo is the in-memory stand-in for the Postgres user repository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*domain.User{}}
}

func (m *memUserRepo) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.UserID]; ok {
		return domain.ErrDuplicateUser
	}
	user.ID = int64(len(m.users) + 1)
	user.CreatedAt = time.Now()
	m.users[user.UserID] = user
	return nil
}

func (m *memUserRepo) GetByUserID(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

// memInstanceRepo enforces the same node_port uniqueness the Postgres schema
// does, so allocation races surface the same way in tests.
type memInstanceRepo struct {
	mu        sync.Mutex
	nextID    int64
	instances map[int64]*domain.Instance
}

func newMemInstanceRepo() *memInstanceRepo {
	return &memInstanceRepo{nextID: 1, instances: map[int64]*domain.Instance{}}
}

func (m *memInstanceRepo) Create(ctx context.Context, inst *domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.instances {
		if existing.NodePort == inst.NodePort {
			return domain.ErrDuplicatePort
		}
	}
	inst.ID = m.nextID
	m.nextID++
	inst.Status = domain.StatusCreating
	inst.CreatedAt = time.Now()
	inst.UpdatedAt = inst.CreatedAt
	m.instances[inst.ID] = inst
	return nil
}

func (m *memInstanceRepo) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *memInstanceRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	inst.Status = status
	inst.UpdatedAt = time.Now()
	return nil
}

func (m *memInstanceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Instance
	for _, inst := range m.instances {
		if inst.UserID == userID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memInstanceRepo) ListAll(ctx context.Context) ([]*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Instance
	for _, inst := range m.instances {
		cp := *inst
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memInstanceRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[id]; !ok {
		return domain.ErrInstanceNotFound
	}
	delete(m.instances, id)
	return nil
}

func (m *memInstanceRepo) UsedPorts(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used []int
	for _, inst := range m.instances {
		used = append(used, inst.NodePort)
	}
	return used, nil
}

// fakeCluster records cluster-side calls and lets tests script failures.
type fakeCluster struct {
	mu        sync.Mutex
	createErr error
	created   []string
	deleted   []string
	summary   domain.ClusterSummary
}

func (f *fakeCluster) CreateInstance(ctx context.Context, userID, planType string, nodePort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, userID)
	return nil
}

func (f *fakeCluster) DeleteInstance(ctx context.Context, userID string) (domain.TeardownResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, userID)
	return domain.TeardownResult{
		Deployment: domain.StepDeleted,
		Service:    domain.StepDeleted,
		VolClaim:   domain.StepDeleted,
	}, nil
}

func (f *fakeCluster) ListInstanceStatus(ctx context.Context, userID string) ([]domain.LiveStatus, error) {
	return nil, nil
}

func (f *fakeCluster) ClusterResources(ctx context.Context) (domain.ClusterSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, nil
}

func (f *fakeCluster) StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCluster) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// TestServer is the fully wired API over in-memory collaborators, with the
// real worker pool doing the async provisioning.
type TestServer struct {
	Server  *httptest.Server
	Cluster *fakeCluster

	cancel context.CancelFunc
	pool   *worker.Pool
}

func testConfig() *config.Config {
	return &config.Config{
		AccessHost:            "192.168.31.152",
		PortRangeStart:        31000,
		PortRangeEnd:          31009,
		AllocationMaxAttempts: 3,
		ClusterStatusCacheSec: 10,
		Plans: map[string]config.Plan{
			"basic": {Name: "Basic", Image: "n8nio/n8n:latest", CPUMilli: 500, MemoryMB: 512, StorageGB: 1},
			"pro":   {Name: "Pro", Image: "n8nio/n8n:latest", CPUMilli: 1000, MemoryMB: 1024, StorageGB: 5},
		},
	}
}

// NewTestServer builds the API the same way cmd/server does, minus the
// middleware chain and the real infrastructure.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := newMemUserRepo()
	instances := newMemInstanceRepo()
	cluster := &fakeCluster{}

	allocator := ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd, instances, nil, time.Minute, logger)

	pool := worker.NewPool(cluster, instances, logger, 2, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	podService := service.NewPodService(users, instances, cluster, allocator, pool, logger, cfg)

	mux := http.NewServeMux()
	mux.Handle("POST /api/pods", handler.NewProvisionHandler(podService, logger))
	mux.Handle("GET /api/pods", handler.NewPodsHandler(podService, logger))
	mux.Handle("GET /api/pods/{id}/status", handler.NewPodStatusHandler(podService, logger))
	mux.Handle("DELETE /api/pods/{id}", handler.NewDeleteHandler(podService, logger))
	mux.Handle("GET /api/users/{userId}/pods", handler.NewUserPodsHandler(podService, logger))
	mux.Handle("GET /api/cluster/status", handler.NewClusterStatusHandler(podService, logger))
	mux.Handle("GET /api/plans", handler.NewPlansHandler(cfg, logger))

	server := httptest.NewServer(mux)

	return &TestServer{
		Server:  server,
		Cluster: cluster,
		cancel:  cancel,
		pool:    pool,
	}
}

func (s *TestServer) Close() {
	s.Server.Close()
	s.cancel()
	s.pool.Wait()
}

func (s *TestServer) URL() string {
	return s.Server.URL
}
