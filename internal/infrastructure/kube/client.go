package kube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/internal/reliability/circuitbreaker"
	"github.com/yourorg/podbay/internal/template"
)

// Client adapts domain intent to Kubernetes API calls. It owns exactly the
// three resource kinds backing an instance (volume claim, deployment, service)
// and never retries; retry policy belongs to the orchestrator.
type Client struct {
	clientset      kubernetes.Interface
	namespace      string
	renderer       template.Renderer
	logger         *slog.Logger
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewClient creates a Kubernetes client from a kubeconfig path, falling back
// to in-cluster config when the file cannot be loaded.
func NewClient(kubeconfigPath, namespace string, renderer template.Renderer, logger *slog.Logger) (*Client, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		logger.Warn("kubeconfig not usable, trying in-cluster config",
			slog.String("path", kubeconfigPath),
			slog.String("error", err.Error()),
		)
		cfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return NewFromClientset(clientset, namespace, renderer, logger), nil
}

// NewFromClientset wraps an existing clientset. Used directly by tests with
// the fake clientset.
func NewFromClientset(clientset kubernetes.Interface, namespace string, renderer template.Renderer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	cb := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	cb.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("kubernetes circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &Client{
		clientset:      clientset,
		namespace:      namespace,
		renderer:       renderer,
		logger:         logger,
		circuitBreaker: cb,
	}
}

// CreateInstance creates the resource triple for an instance, strictly volume
// claim -> deployment -> service. A volume claim failure aborts the sequence;
// no compensating rollback is attempted here.
func (c *Client) CreateInstance(ctx context.Context, userID, planType string, nodePort int) error {
	if !c.circuitBreaker.AllowRequest() {
		return &domain.ResourceCreationError{
			Resource: "persistentvolumeclaim",
			Name:     template.VolumeClaimName(userID),
			Err:      fmt.Errorf("kubernetes temporarily unavailable (circuit breaker open)"),
		}
	}

	manifests, err := c.renderer.Render(planType, userID, nodePort)
	if err != nil {
		return err
	}

	// The namespace is force-set on every manifest regardless of what the
	// renderer produced.
	manifests.VolumeClaim.Namespace = c.namespace
	manifests.Deployment.Namespace = c.namespace
	manifests.Service.Namespace = c.namespace

	if _, err := c.clientset.CoreV1().PersistentVolumeClaims(c.namespace).Create(ctx, manifests.VolumeClaim, metav1.CreateOptions{}); err != nil {
		c.circuitBreaker.RecordFailure()
		return &domain.ResourceCreationError{Resource: "persistentvolumeclaim", Name: manifests.VolumeClaim.Name, Err: err}
	}
	c.logger.Info("volume claim created",
		slog.String("user_id", userID),
		slog.String("name", manifests.VolumeClaim.Name),
	)

	if _, err := c.clientset.AppsV1().Deployments(c.namespace).Create(ctx, manifests.Deployment, metav1.CreateOptions{}); err != nil {
		c.circuitBreaker.RecordFailure()
		return &domain.ResourceCreationError{Resource: "deployment", Name: manifests.Deployment.Name, Err: err}
	}
	c.logger.Info("deployment created",
		slog.String("user_id", userID),
		slog.String("name", manifests.Deployment.Name),
	)

	if _, err := c.clientset.CoreV1().Services(c.namespace).Create(ctx, manifests.Service, metav1.CreateOptions{}); err != nil {
		c.circuitBreaker.RecordFailure()
		return &domain.ResourceCreationError{Resource: "service", Name: manifests.Service.Name, Err: err}
	}
	c.logger.Info("service created",
		slog.String("user_id", userID),
		slog.String("name", manifests.Service.Name),
		slog.Int("node_port", nodePort),
	)

	c.circuitBreaker.RecordSuccess()
	return nil
}

// DeleteInstance tears down every resource that could back the user's
// instance. Names are reconstructed from userID alone; both plan variants are
// attempted because the caller may not know which plan produced the live
// workload. Each step is independent and "not found" is an idempotent no-op,
// so repeated calls after the resources are gone never error.
func (c *Client) DeleteInstance(ctx context.Context, userID string) (domain.TeardownResult, error) {
	var result domain.TeardownResult

	if !c.circuitBreaker.AllowRequest() {
		err := fmt.Errorf("kubernetes temporarily unavailable (circuit breaker open)")
		result.Errs = append(result.Errs, err)
		return result, &domain.ResourceDeletionError{Resource: "deployment", Name: domain.InstanceName(userID, domain.PlanBasic), Err: err}
	}

	anyHardError := false

	// Deployment: try both plan variants, stop after the first real deletion.
	result.Deployment = domain.StepNotFound
	for _, plan := range []string{domain.PlanBasic, domain.PlanPro} {
		name := domain.InstanceName(userID, plan)
		err := c.clientset.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
		switch {
		case err == nil:
			c.logger.Info("deployment deleted", slog.String("name", name))
			result.Deployment = domain.StepDeleted
		case apierrors.IsNotFound(err):
			continue
		default:
			anyHardError = true
			result.Deployment = domain.StepError
			result.Errs = append(result.Errs, &domain.ResourceDeletionError{Resource: "deployment", Name: name, Err: err})
		}
		break
	}

	svcName := template.ServiceName(userID)
	err := c.clientset.CoreV1().Services(c.namespace).Delete(ctx, svcName, metav1.DeleteOptions{})
	switch {
	case err == nil:
		c.logger.Info("service deleted", slog.String("name", svcName))
		result.Service = domain.StepDeleted
	case apierrors.IsNotFound(err):
		result.Service = domain.StepNotFound
	default:
		anyHardError = true
		result.Service = domain.StepError
		result.Errs = append(result.Errs, &domain.ResourceDeletionError{Resource: "service", Name: svcName, Err: err})
	}

	pvcName := template.VolumeClaimName(userID)
	err = c.clientset.CoreV1().PersistentVolumeClaims(c.namespace).Delete(ctx, pvcName, metav1.DeleteOptions{})
	switch {
	case err == nil:
		c.logger.Info("volume claim deleted", slog.String("name", pvcName))
		result.VolClaim = domain.StepDeleted
	case apierrors.IsNotFound(err):
		result.VolClaim = domain.StepNotFound
	default:
		anyHardError = true
		result.VolClaim = domain.StepError
		result.Errs = append(result.Errs, &domain.ResourceDeletionError{Resource: "persistentvolumeclaim", Name: pvcName, Err: err})
	}

	if anyHardError {
		c.circuitBreaker.RecordFailure()
	} else {
		c.circuitBreaker.RecordSuccess()
	}

	return result, nil
}

// ListInstanceStatus returns the live pod state for a user's instance via the
// user label selector. Failures surface as StatusQueryError; callers use this
// only to enrich read views.
func (c *Client) ListInstanceStatus(ctx context.Context, userID string) ([]domain.LiveStatus, error) {
	if !c.circuitBreaker.AllowRequest() {
		return nil, &domain.StatusQueryError{UserID: userID, Err: fmt.Errorf("kubernetes temporarily unavailable (circuit breaker open)")}
	}

	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("user=%s", userID),
	})
	if err != nil {
		c.circuitBreaker.RecordFailure()
		return nil, &domain.StatusQueryError{UserID: userID, Err: err}
	}
	c.circuitBreaker.RecordSuccess()

	statuses := make([]domain.LiveStatus, 0, len(pods.Items))
	for _, pod := range pods.Items {
		status := domain.LiveStatus{
			Name:      pod.Name,
			Phase:     string(pod.Status.Phase),
			CreatedAt: pod.CreationTimestamp.Time,
		}
		if len(pod.Status.ContainerStatuses) > 0 {
			status.Ready = pod.Status.ContainerStatuses[0].Ready
			status.RestartCount = pod.Status.ContainerStatuses[0].RestartCount
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// ClusterResources returns a best-effort cluster summary. The node and pod
// sub-queries run concurrently; each failure degrades its counts to zero
// rather than failing the whole call.
func (c *Client) ClusterResources(ctx context.Context) (domain.ClusterSummary, error) {
	var summary domain.ClusterSummary

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		nodes, err := c.clientset.CoreV1().Nodes().List(gctx, metav1.ListOptions{})
		if err != nil {
			c.logger.Warn("failed to list nodes", slog.String("error", err.Error()))
			return nil
		}
		summary.Nodes = len(nodes.Items)
		return nil
	})

	g.Go(func() error {
		pods, err := c.clientset.CoreV1().Pods(c.namespace).List(gctx, metav1.ListOptions{})
		if err != nil {
			c.logger.Warn("failed to list pods", slog.String("error", err.Error()))
			return nil
		}
		summary.TotalPods = len(pods.Items)
		for _, pod := range pods.Items {
			if pod.Status.Phase == corev1.PodRunning {
				summary.RunningPods++
			}
		}
		return nil
	})

	// Sub-queries swallow their own errors, so Wait cannot fail.
	_ = g.Wait()

	return summary, nil
}

// StreamLogs opens a follow stream of a pod's logs.
func (c *Client) StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error) {
	req := c.clientset.CoreV1().Pods(c.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Follow:    true,
		TailLines: int64Ptr(100),
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stream logs for pod %q: %w", podName, err)
	}
	return stream, nil
}

func int64Ptr(v int64) *int64 { return &v }
