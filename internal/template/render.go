package template

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/yourorg/podbay/internal/domain"
	"github.com/yourorg/podbay/pkg/config"
)

const workloadPort = 5678

// ManifestSet is the triple of coupled resources backing one instance.
type ManifestSet struct {
	VolumeClaim *corev1.PersistentVolumeClaim
	Deployment  *appsv1.Deployment
	Service     *corev1.Service
}

// Renderer produces the cluster manifests for a plan. Implementations must be
// pure: same inputs, same manifests, no I/O.
type Renderer interface {
	Render(planType, userID string, nodePort int) (*ManifestSet, error)
}

// PlanRenderer builds typed manifests from the configured plan presets.
type PlanRenderer struct {
	plans        map[string]config.Plan
	storageClass string
}

// NewPlanRenderer creates a renderer over the configured plans.
func NewPlanRenderer(plans map[string]config.Plan, storageClass string) *PlanRenderer {
	return &PlanRenderer{plans: plans, storageClass: storageClass}
}

// Render builds the volume claim, deployment, and service for one instance.
// Names are deterministic functions of userID and planType so teardown can
// reconstruct them without the original request.
func (r *PlanRenderer) Render(planType, userID string, nodePort int) (*ManifestSet, error) {
	plan, ok := r.plans[planType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, planType)
	}

	labels := map[string]string{
		"app":  "n8n",
		"user": userID,
		"plan": planType,
	}

	name := domain.InstanceName(userID, planType)
	replicas := int32(1)

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   VolumeClaimName(userID),
			Labels: labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: &r.storageClass,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(fmt.Sprintf("%dGi", plan.StorageGB)),
				},
			},
		},
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "n8n",
							Image: plan.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: workloadPort},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(plan.CPUMilli), resource.DecimalSI),
									corev1.ResourceMemory: *resource.NewQuantity(int64(plan.MemoryMB)*1024*1024, resource.BinarySI),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(plan.CPUMilli)*2, resource.DecimalSI),
									corev1.ResourceMemory: *resource.NewQuantity(int64(plan.MemoryMB)*2*1024*1024, resource.BinarySI),
								},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "storage", MountPath: "/home/node/.n8n"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "storage",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: VolumeClaimName(userID),
								},
							},
						},
					},
				},
			},
		},
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ServiceName(userID),
			Labels: labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: labels,
			Ports: []corev1.ServicePort{
				{
					Port:       workloadPort,
					TargetPort: intstr.FromInt32(workloadPort),
					NodePort:   int32(nodePort),
				},
			},
		},
	}

	return &ManifestSet{VolumeClaim: pvc, Deployment: deployment, Service: service}, nil
}

// ServiceName derives the deterministic service name for a user.
func ServiceName(userID string) string {
	return fmt.Sprintf("%s-n8n-service", userID)
}

// VolumeClaimName derives the deterministic volume claim name for a user.
func VolumeClaimName(userID string) string {
	return fmt.Sprintf("%s-n8n-storage", userID)
}
