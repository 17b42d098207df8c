package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Instance status values. An instance is created in StatusCreating and moves
// to StatusRunning or StatusFailed exactly once, driven by the async
// provisioning outcome. Deletion removes the row entirely rather than
// recording a terminal status.
const (
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusFailed   = "failed"
)

// Plan types select resource sizing via the manifest renderer.
const (
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// ValidPlan reports whether planType is a known plan.
func ValidPlan(planType string) bool {
	return planType == PlanBasic || planType == PlanPro
}

// InstanceName derives the deterministic workload name for a user and plan.
// Teardown relies on this being reconstructible from the row alone, so a
// crashed provisioning actor never strands resources with unknown names.
func InstanceName(userID, planType string) string {
	return fmt.Sprintf("%s-n8n-%s", userID, planType)
}

// User represents an account that owns workload instances.
type User struct {
	ID        int64
	UserID    string // opaque unique id, e.g. "user-3fa81c92"
	Email     string
	Status    string // always "active" in this core
	CreatedAt time.Time
}

// Instance is the durable record of one per-user workload: a deployment plus
// a NodePort service plus a persistent volume claim on the cluster.
type Instance struct {
	ID        int64
	UserID    string
	Name      string
	PlanType  string
	NodePort  int
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LiveStatus is the platform-reported state of a running pod, used only to
// enrich read views. It never drives store transitions.
type LiveStatus struct {
	Name         string    `json:"name"`
	Phase        string    `json:"phase"`
	Ready        bool      `json:"ready"`
	RestartCount int32     `json:"restartCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ClusterSummary is a best-effort cluster-wide resource count. Sub-query
// failures degrade the matching count to zero rather than failing the call.
type ClusterSummary struct {
	Nodes       int `json:"nodes"`
	TotalPods   int `json:"totalPods"`
	RunningPods int `json:"runningPods"`
}

// PortStats describes usage of the NodePort range.
type PortStats struct {
	Total     int   `json:"total"`
	Used      int   `json:"used"`
	Available int   `json:"available"`
	UsedPorts []int `json:"usedPorts"`
}

// StepOutcome is the result of one teardown step.
type StepOutcome int

const (
	StepError StepOutcome = iota
	StepDeleted
	StepNotFound
)

// TeardownResult aggregates the independent deletion steps of an instance's
// cluster resources. Each step is attempted regardless of earlier failures.
type TeardownResult struct {
	Deployment StepOutcome
	Service    StepOutcome
	VolClaim   StepOutcome
	Errs       []error
}

// Succeeded reports whether teardown reached a state the caller can treat as
// done: the workload is confirmed gone, either deleted now or already absent.
func (t TeardownResult) Succeeded() bool {
	return t.Deployment == StepDeleted || t.Deployment == StepNotFound
}

// UserRepository defines durable access to users.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByUserID(ctx context.Context, userID string) (*User, error)
}

// InstanceRepository defines durable access to workload instances. It is the
// single source of truth for what the system believes exists; its unique
// index on node_port is the final arbiter of port exclusivity.
type InstanceRepository interface {
	Create(ctx context.Context, inst *Instance) error
	GetByID(ctx context.Context, id int64) (*Instance, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	ListByUser(ctx context.Context, userID string) ([]*Instance, error)
	ListAll(ctx context.Context) ([]*Instance, error)
	Delete(ctx context.Context, id int64) error
	UsedPorts(ctx context.Context) ([]int, error)
}

// ClusterClient defines the adapter to the orchestration platform. All calls
// are remote and fallible; none are retried at this layer.
type ClusterClient interface {
	CreateInstance(ctx context.Context, userID, planType string, nodePort int) error
	DeleteInstance(ctx context.Context, userID string) (TeardownResult, error)
	ListInstanceStatus(ctx context.Context, userID string) ([]LiveStatus, error)
	ClusterResources(ctx context.Context) (ClusterSummary, error)
	StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error)
}
