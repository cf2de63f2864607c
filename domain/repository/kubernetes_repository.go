package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const waitPollInterval = 5 * time.Second

type KubernetesRepository struct {
	clientset kubernetes.Interface
}

func NewKubernetesRepository() (*KubernetesRepository, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve kubeconfig: %w", err)
			}
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return &KubernetesRepository{clientset: clientset}, nil
}

func (r *KubernetesRepository) GetDeployment(ctx context.Context, namespace, name string) (*DeploymentStatus, error) {
	deploy, err := r.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}
	return &DeploymentStatus{
		Name:          deploy.Name,
		Namespace:     deploy.Namespace,
		Replicas:      *deploy.Spec.Replicas,
		ReadyReplicas: deploy.Status.ReadyReplicas,
	}, nil
}

// RolloutRestart does what kubectl does: bump the restartedAt annotation
// on the pod template.
func (r *KubernetesRepository) RolloutRestart(ctx context.Context, namespace, name string) error {
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().UTC().Format(time.RFC3339),
	)
	_, err := r.clientset.AppsV1().Deployments(namespace).Patch(ctx, name,
		types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to restart deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (r *KubernetesRepository) Scale(ctx context.Context, namespace, name string, replicas int32) error {
	scale, err := r.clientset.AppsV1().Deployments(namespace).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get scale of %s/%s: %w", namespace, name, err)
	}
	scale.Spec.Replicas = replicas
	_, err = r.clientset.AppsV1().Deployments(namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to scale %s/%s to %d: %w", namespace, name, replicas, err)
	}
	return nil
}

func (r *KubernetesRepository) WaitForDeploymentReady(ctx context.Context, namespace, name string, timeout time.Duration) error {
	return r.waitFor(ctx, timeout, fmt.Sprintf("deployment %s/%s ready", namespace, name), func(ctx context.Context) (bool, error) {
		deploy, err := r.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		return deploy.Generation <= deploy.Status.ObservedGeneration &&
			deploy.Status.ReadyReplicas == *deploy.Spec.Replicas &&
			deploy.Status.UpdatedReplicas == *deploy.Spec.Replicas, nil
	})
}

func (r *KubernetesRepository) WaitForReplicas(ctx context.Context, namespace, name string, target int32, timeout time.Duration) error {
	return r.waitFor(ctx, timeout, fmt.Sprintf("deployment %s/%s at %d replicas", namespace, name, target), func(ctx context.Context) (bool, error) {
		deploy, err := r.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		return deploy.Status.ReadyReplicas == target, nil
	})
}

func (r *KubernetesRepository) waitFor(ctx context.Context, timeout time.Duration, what string, check func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := check(ctx)
		if err != nil {
			return fmt.Errorf("failed while waiting for %s: %w", what, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", what)
		}
		if err := sleepContext(ctx, waitPollInterval); err != nil {
			return err
		}
	}
}

func (r *KubernetesRepository) CheckPodHealth(ctx context.Context, namespace, app string) (*PodHealth, error) {
	pods, err := r.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", app),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for app=%s: %w", app, err)
	}

	health := &PodHealth{Total: len(pods.Items)}
	for _, pod := range pods.Items {
		if podReady(&pod) {
			health.Ready++
			continue
		}
		health.Unhealthy = append(health.Unhealthy, pod.Name)
	}
	return health, nil
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func (r *KubernetesRepository) CaptureDeploymentState(ctx context.Context, namespace, name string) (*DeploymentState, error) {
	deploy, err := r.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to capture deployment %s/%s: %w", namespace, name, err)
	}
	state := &DeploymentState{
		Name:      deploy.Name,
		Namespace: deploy.Namespace,
		Replicas:  *deploy.Spec.Replicas,
	}
	if len(deploy.Spec.Template.Spec.Containers) > 0 {
		state.Image = deploy.Spec.Template.Spec.Containers[0].Image
	}
	return state, nil
}

// RolloutUndo re-applies the pod template of a previous ReplicaSet
// revision. toRevision 0 means the one before the current.
func (r *KubernetesRepository) RolloutUndo(ctx context.Context, namespace, name string, toRevision int64) error {
	deploy, err := r.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}

	selector, err := metav1.LabelSelectorAsSelector(deploy.Spec.Selector)
	if err != nil {
		return fmt.Errorf("invalid selector on %s/%s: %w", namespace, name, err)
	}
	rsList, err := r.clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to list replicasets for %s/%s: %w", namespace, name, err)
	}

	owned := ownedReplicaSets(deploy, rsList.Items)
	if len(owned) < 2 && toRevision == 0 {
		return fmt.Errorf("no previous revision for %s/%s", namespace, name)
	}

	target := pickRevision(owned, toRevision)
	if target == nil {
		return fmt.Errorf("revision %d not found for %s/%s", toRevision, namespace, name)
	}

	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"template": target.Spec.Template,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build rollback patch: %w", err)
	}
	_, err = r.clientset.AppsV1().Deployments(namespace).Patch(ctx, name,
		types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to roll back %s/%s: %w", namespace, name, err)
	}
	return nil
}

func ownedReplicaSets(deploy *appsv1.Deployment, all []appsv1.ReplicaSet) []appsv1.ReplicaSet {
	var owned []appsv1.ReplicaSet
	for _, rs := range all {
		if metav1.IsControlledBy(&rs, deploy) {
			owned = append(owned, rs)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return rsRevision(&owned[i]) > rsRevision(&owned[j])
	})
	return owned
}

func pickRevision(owned []appsv1.ReplicaSet, toRevision int64) *appsv1.ReplicaSet {
	if toRevision == 0 {
		if len(owned) < 2 {
			return nil
		}
		return &owned[1]
	}
	for i := range owned {
		if rsRevision(&owned[i]) == toRevision {
			return &owned[i]
		}
	}
	return nil
}

func rsRevision(rs *appsv1.ReplicaSet) int64 {
	v, err := strconv.ParseInt(rs.Annotations["deployment.kubernetes.io/revision"], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
