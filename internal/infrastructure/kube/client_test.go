package kube

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/internal/template"
	"github.com/yourorg/podbay/pkg/config"
)

const testNamespace = "user-pods"

func testRenderer() template.Renderer {
	return template.NewPlanRenderer(map[string]config.Plan{
		"basic": {CPUMilli: 500, MemoryMB: 512, StorageGB: 1, Image: "n8nio/n8n:latest"},
		"pro":   {CPUMilli: 1000, MemoryMB: 1024, StorageGB: 5, Image: "n8nio/n8n:latest"},
	}, "user-pod-storage")
}

func testClient(clientset *fake.Clientset) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFromClientset(clientset, testNamespace, testRenderer(), logger)
}

func TestCreateInstanceCreatesResourceTriple(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := testClient(clientset)

	if err := c.CreateInstance(context.Background(), "user-abc12345", domain.PlanBasic, 31000); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	if _, err := clientset.CoreV1().PersistentVolumeClaims(testNamespace).Get(context.Background(), "user-abc12345-n8n-storage", metav1.GetOptions{}); err != nil {
		t.Errorf("volume claim missing: %v", err)
	}
	dep, err := clientset.AppsV1().Deployments(testNamespace).Get(context.Background(), "user-abc12345-n8n-basic", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("deployment missing: %v", err)
	}
	if dep.Namespace != testNamespace {
		t.Errorf("expected namespace %q, got %q", testNamespace, dep.Namespace)
	}
	svc, err := clientset.CoreV1().Services(testNamespace).Get(context.Background(), "user-abc12345-n8n-service", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("service missing: %v", err)
	}
	if svc.Spec.Ports[0].NodePort != 31000 {
		t.Errorf("expected node port 31000, got %d", svc.Spec.Ports[0].NodePort)
	}
}

func TestCreateInstanceVolumeClaimFailureAborts(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "persistentvolumeclaims", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("storage class exhausted")
	})
	c := testClient(clientset)

	err := c.CreateInstance(context.Background(), "user-abc12345", domain.PlanBasic, 31000)

	var creationErr *domain.ResourceCreationError
	if !errors.As(err, &creationErr) {
		t.Fatalf("expected ResourceCreationError, got %v", err)
	}
	if creationErr.Resource != "persistentvolumeclaim" {
		t.Fatalf("expected failure on persistentvolumeclaim, got %q", creationErr.Resource)
	}

	deps, _ := clientset.AppsV1().Deployments(testNamespace).List(context.Background(), metav1.ListOptions{})
	if len(deps.Items) != 0 {
		t.Fatalf("expected no deployment after volume claim failure, got %d", len(deps.Items))
	}
	svcs, _ := clientset.CoreV1().Services(testNamespace).List(context.Background(), metav1.ListOptions{})
	if len(svcs.Items) != 0 {
		t.Fatalf("expected no service after volume claim failure, got %d", len(svcs.Items))
	}
}

func TestCreateInstanceUnknownPlan(t *testing.T) {
	c := testClient(fake.NewSimpleClientset())

	err := c.CreateInstance(context.Background(), "user-abc12345", "enterprise", 31000)
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestDeleteInstanceRemovesAllResources(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := testClient(clientset)

	if err := c.CreateInstance(context.Background(), "user-abc12345", domain.PlanPro, 31001); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	result, err := c.DeleteInstance(context.Background(), "user-abc12345")
	if err != nil {
		t.Fatalf("DeleteInstance failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected teardown success, got %+v", result)
	}
	if result.Deployment != domain.StepDeleted {
		t.Errorf("expected deployment deleted, got %v", result.Deployment)
	}
	if result.Service != domain.StepDeleted {
		t.Errorf("expected service deleted, got %v", result.Service)
	}
	if result.VolClaim != domain.StepDeleted {
		t.Errorf("expected volume claim deleted, got %v", result.VolClaim)
	}
}

func TestDeleteInstanceIdempotent(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := testClient(clientset)

	if err := c.CreateInstance(context.Background(), "user-abc12345", domain.PlanBasic, 31000); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	if _, err := c.DeleteInstance(context.Background(), "user-abc12345"); err != nil {
		t.Fatalf("first DeleteInstance failed: %v", err)
	}

	result, err := c.DeleteInstance(context.Background(), "user-abc12345")
	if err != nil {
		t.Fatalf("second DeleteInstance failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected not-found teardown to count as success, got %+v", result)
	}
	if result.Deployment != domain.StepNotFound || result.Service != domain.StepNotFound || result.VolClaim != domain.StepNotFound {
		t.Fatalf("expected all steps not-found, got %+v", result)
	}
	if len(result.Errs) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errs)
	}
}

func TestDeleteInstanceContinuesPastFailure(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := testClient(clientset)

	if err := c.CreateInstance(context.Background(), "user-abc12345", domain.PlanBasic, 31000); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	clientset.PrependReactor("delete", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver hiccup")
	})

	result, err := c.DeleteInstance(context.Background(), "user-abc12345")
	if err != nil {
		t.Fatalf("DeleteInstance failed: %v", err)
	}
	if result.Service != domain.StepError {
		t.Errorf("expected service step error, got %v", result.Service)
	}
	if result.Deployment != domain.StepDeleted {
		t.Errorf("expected deployment still deleted, got %v", result.Deployment)
	}
	if result.VolClaim != domain.StepDeleted {
		t.Errorf("expected volume claim still deleted, got %v", result.VolClaim)
	}
	if len(result.Errs) != 1 {
		t.Fatalf("expected 1 step error, got %v", result.Errs)
	}
	if !result.Succeeded() {
		t.Fatal("workload confirmed gone, teardown should count as success")
	}
}

func TestListInstanceStatusUsesUserLabel(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "user-abc12345-n8n-basic-7d9f8b-x2k4m",
			Namespace: testNamespace,
			Labels:    map[string]string{"app": "n8n", "user": "user-abc12345"},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{
				{Ready: true, RestartCount: 2},
			},
		},
	}
	other := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "user-zzz99999-n8n-pro-5c4b3a-m1n2o",
			Namespace: testNamespace,
			Labels:    map[string]string{"app": "n8n", "user": "user-zzz99999"},
		},
	}
	clientset := fake.NewSimpleClientset(pod, other)
	c := testClient(clientset)

	statuses, err := c.ListInstanceStatus(context.Background(), "user-abc12345")
	if err != nil {
		t.Fatalf("ListInstanceStatus failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	got := statuses[0]
	if got.Name != pod.Name || got.Phase != "Running" || !got.Ready || got.RestartCount != 2 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestClusterResourcesDegradesOnError(t *testing.T) {
	node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}
	clientset := fake.NewSimpleClientset(node)
	clientset.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unreachable")
	})
	c := testClient(clientset)

	summary, err := c.ClusterResources(context.Background())
	if err != nil {
		t.Fatalf("ClusterResources should never fail, got %v", err)
	}
	if summary.Nodes != 1 {
		t.Errorf("expected 1 node, got %d", summary.Nodes)
	}
	if summary.TotalPods != 0 || summary.RunningPods != 0 {
		t.Errorf("expected pod counts degraded to zero, got %+v", summary)
	}
}

func TestClusterResourcesCounts(t *testing.T) {
	objects := []runtime.Object{
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}},
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-2"}},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: testNamespace},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "p2", Namespace: testNamespace},
			Status:     corev1.PodStatus{Phase: corev1.PodPending},
		},
	}
	c := testClient(fake.NewSimpleClientset(objects...))

	summary, err := c.ClusterResources(context.Background())
	if err != nil {
		t.Fatalf("ClusterResources failed: %v", err)
	}
	if summary.Nodes != 2 {
		t.Errorf("expected 2 nodes, got %d", summary.Nodes)
	}
	if summary.TotalPods != 2 {
		t.Errorf("expected 2 pods, got %d", summary.TotalPods)
	}
	if summary.RunningPods != 1 {
		t.Errorf("expected 1 running pod, got %d", summary.RunningPods)
	}
}
