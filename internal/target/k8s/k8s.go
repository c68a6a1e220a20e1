// Package k8s implements ports.Target by rendering and reconciling
// Kubernetes Jobs (spec §4.4.2), grounded on the pod-spec-building approach
// of tektoncd/pipeline's pkg/pod.
package k8s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.sykli.dev/core/internal/k8soptions"
	"go.trai.ch/zerr"
)

const (
	defaultJobTimeout       = 300 * time.Second
	ttlSecondsAfterFinished = int32(300)
	logTailLines            = int64(200)
)

// state is the per-run state threaded through RunContext.TargetState.
type state struct {
	namespace string
}

// Target runs tasks as Kubernetes Jobs against clientset.
type Target struct {
	clientset kubernetes.Interface
	namespace string
	defaults  *domain.K8sOptions
	logger    ports.Logger
}

// NewTarget creates a K8s Target. defaults are the pipeline-level K8sOptions
// merged under every task's own overrides (spec §4.4.3).
func NewTarget(clientset kubernetes.Interface, namespace string, defaults *domain.K8sOptions, logger ports.Logger) *Target {
	return &Target{clientset: clientset, namespace: namespace, defaults: defaults, logger: logger}
}

// Name identifies this target for logging and placement decisions.
func (t *Target) Name() string { return "k8s" }

// Setup creates the target namespace if absent (idempotent) and verifies
// API connectivity (spec §4.4.2 "Namespace bootstrap").
func (t *Target) Setup(ctx context.Context, opts ports.RunTaskOpts) (any, error) {
	_, err := t.clientset.CoreV1().Namespaces().Get(ctx, t.namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: t.namespace}}
		if _, err := t.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
			return nil, zerr.Wrap(err, "failed to create namespace")
		}
	} else if err != nil {
		return nil, zerr.With(domain.ErrKubeconfigInvalid, "namespace", t.namespace)
	}
	return &state{namespace: t.namespace}, nil
}

// Teardown is a no-op: Jobs are deleted individually by RunTask.
func (t *Target) Teardown(ctx context.Context, s any) error { return nil }

// ResolveSecret reads name from the process environment, the reference
// secret source for the K8s target (spec §4.4.2).
func (t *Target) ResolveSecret(ctx context.Context, name string, s any) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", zerr.With(domain.ErrSecretNotFound, "secret", name)
	}
	return v, nil
}

// RunTask creates a Job for task, waits for it to reach a terminal state,
// captures logs on failure, and deletes the Job before returning (spec
// §4.4.2 steps 1-7).
func (t *Target) RunTask(ctx context.Context, task *domain.Task, s any, opts ports.RunTaskOpts) (domain.TaskResult, error) {
	st, ok := s.(*state)
	if !ok {
		return domain.TaskResult{}, zerr.New("k8s target: invalid state")
	}

	merged := k8soptions.Merge(t.defaults, task.K8s)
	if err := k8soptions.Validate(merged); err != nil {
		return domain.TaskResult{}, err
	}

	jobName := fmt.Sprintf("sykli-%s-%s", sanitize(task.Name.String()), uuid.NewString()[:4])
	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	job := buildJob(jobName, st.namespace, task, merged, timeout)

	jobs := t.clientset.BatchV1().Jobs(st.namespace)
	if _, err := jobs.Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return domain.TaskResult{}, zerr.With(zerr.Wrap(err, "failed to create job"), "job", jobName)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, waitErr := t.waitForCompletion(runCtx, jobs, jobName)
	defer t.deleteJob(context.Background(), jobs, jobName)

	if waitErr != nil {
		return domain.TaskResult{}, &domain.Error{
			Code:    domain.CodeTaskTimeout,
			Type:    domain.ErrorTimeout,
			Task:    task.Name.String(),
			Message: "job did not complete within timeout",
		}
	}

	if outcome == corev1.PodSucceeded {
		exitCode := 0
		return domain.TaskResult{Name: task.Name.String(), Status: domain.StatusPassed, ExitCode: &exitCode}, nil
	}

	output := t.fetchLogs(context.Background(), st.namespace, jobName)
	exitCode := 1
	return domain.TaskResult{
		Name:     task.Name.String(),
		Status:   domain.StatusFailed,
		ExitCode: &exitCode,
		Output:   output,
		Error: &domain.Error{
			Code:     domain.CodeJobFailed,
			Type:     domain.ErrorExecution,
			Task:     task.Name.String(),
			Message:  "job failed",
			Output:   output,
			ExitCode: &exitCode,
		},
	}, nil
}

// waitForCompletion polls the Job's status with exponential backoff bounded
// by ctx, returning the terminal pod phase (spec §4.4.2 "State transitions").
func (t *Target) waitForCompletion(ctx context.Context, jobs interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (*batchv1.Job, error)
}, jobName string) (corev1.PodPhase, error) {
	var terminal corev1.PodPhase

	backoff := wait.Backoff{Duration: 500 * time.Millisecond, Factor: 1.6, Steps: 30, Cap: 10 * time.Second}
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		job, err := jobs.Get(ctx, jobName, metav1.GetOptions{})
		if err != nil {
			return false, nil
		}
		for _, c := range job.Status.Conditions {
			if c.Status != corev1.ConditionTrue {
				continue
			}
			switch c.Type {
			case batchv1.JobComplete:
				terminal = corev1.PodSucceeded
				return true, nil
			case batchv1.JobFailed:
				terminal = corev1.PodFailed
				return true, nil
			}
		}
		return false, nil
	})
	return terminal, err
}

func (t *Target) deleteJob(ctx context.Context, jobs interface {
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}, jobName string) {
	propagation := metav1.DeletePropagationBackground
	if err := jobs.Delete(ctx, jobName, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil && t.logger != nil {
		t.logger.Warn("failed to delete job " + jobName)
	}
}

// fetchLogs returns the last logTailLines lines from the job's pod, best
// effort (spec §4.4.2 step 6).
func (t *Target) fetchLogs(ctx context.Context, namespace, jobName string) string {
	pods, err := t.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: "job-name=" + jobName})
	if err != nil || len(pods.Items) == 0 {
		return ""
	}
	tail := logTailLines
	req := t.clientset.CoreV1().Pods(namespace).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{TailLines: &tail})
	stream, err := req.Stream(ctx)
	if err != nil {
		return ""
	}
	defer stream.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(stream)
	return buf.String()
}

// buildJob renders the Job manifest: task container, service sidecars, and
// the K8sOptions overlay (spec §4.4.2 step 2, §4.4.3).
func buildJob(name, namespace string, task *domain.Task, opts *domain.K8sOptions, timeout time.Duration) *batchv1.Job {
	containers := []corev1.Container{taskContainer(task)}
	for _, svc := range task.Services {
		containers = append(containers, corev1.Container{Name: svc.Name, Image: svc.Image})
	}

	podSpec := corev1.PodSpec{
		Containers:    containers,
		RestartPolicy: corev1.RestartPolicyNever,
	}
	applyOverlay(&podSpec, opts)

	deadline := int64((timeout * 3 / 2).Seconds())
	backoffLimit := int32(0)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttlSecondsAfterFinished,
			ActiveDeadlineSeconds:   &deadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"sykli.io/task": task.Name.String()}},
				Spec:       podSpec,
			},
		},
	}
	if opts != nil {
		job.Labels = opts.Labels
		job.Annotations = opts.Annotations
	}
	return job
}

func taskContainer(task *domain.Task) corev1.Container {
	env := make([]corev1.EnvVar, 0, len(task.Env))
	for _, e := range task.Env {
		env = append(env, corev1.EnvVar{Name: e.Key, Value: e.Value})
	}
	return corev1.Container{
		Name:       "task",
		Image:      task.Container,
		Command:    []string{"sh", "-c", task.Command},
		Env:        env,
		WorkingDir: task.WorkingDir.String(),
	}
}

// applyOverlay mutates podSpec in place with the merged K8sOptions fields
// (spec §4.4.2 step 2 "apply ... overlay").
func applyOverlay(podSpec *corev1.PodSpec, opts *domain.K8sOptions) {
	if opts == nil {
		return
	}
	if opts.Resources != nil {
		req, lim := resourceLists(opts.Resources)
		for i := range podSpec.Containers {
			if i == 0 {
				podSpec.Containers[i].Resources = corev1.ResourceRequirements{Requests: req, Limits: lim}
			}
		}
	}
	if opts.NodeSelector != nil {
		podSpec.NodeSelector = opts.NodeSelector
	}
	if opts.ServiceAccountName != nil {
		podSpec.ServiceAccountName = *opts.ServiceAccountName
	}
	if opts.PriorityClassName != nil {
		podSpec.PriorityClassName = *opts.PriorityClassName
	}
	if opts.HostNetwork != nil {
		podSpec.HostNetwork = *opts.HostNetwork
	}
	if opts.DNSPolicy != nil {
		podSpec.DNSPolicy = corev1.DNSPolicy(*opts.DNSPolicy)
	}
	if opts.SecurityContext != nil {
		podSpec.SecurityContext = securityContext(opts.SecurityContext)
	}
	if opts.Affinity != nil {
		if a := affinity(opts.Affinity); a != nil {
			podSpec.Affinity = a
		}
	}
	for _, tol := range opts.Tolerations {
		podSpec.Tolerations = append(podSpec.Tolerations, corev1.Toleration{
			Key: tol.Key, Operator: corev1.TolerationOperator(tol.Operator),
			Value: tol.Value, Effect: corev1.TaintEffect(tol.Effect),
		})
	}
	for _, v := range opts.Volumes {
		podSpec.Volumes = append(podSpec.Volumes, volume(v))
		for i := range podSpec.Containers {
			podSpec.Containers[i].VolumeMounts = append(podSpec.Containers[i].VolumeMounts, corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath})
		}
	}
}

func resourceLists(r *domain.ResourceOptions) (corev1.ResourceList, corev1.ResourceList) {
	req, lim := corev1.ResourceList{}, corev1.ResourceList{}
	if r.RequestsCPU != nil {
		req[corev1.ResourceCPU] = resource.MustParse(*r.RequestsCPU)
	}
	if r.RequestsMemory != nil {
		req[corev1.ResourceMemory] = resource.MustParse(*r.RequestsMemory)
	}
	if r.LimitsCPU != nil {
		lim[corev1.ResourceCPU] = resource.MustParse(*r.LimitsCPU)
	}
	if r.LimitsMemory != nil {
		lim[corev1.ResourceMemory] = resource.MustParse(*r.LimitsMemory)
	}
	return req, lim
}

func securityContext(sc *domain.SecurityContext) *corev1.PodSecurityContext {
	return &corev1.PodSecurityContext{
		RunAsUser:    sc.RunAsUser,
		RunAsGroup:   sc.RunAsGroup,
		RunAsNonRoot: sc.RunAsNonRoot,
		FSGroup:      sc.FSGroup,
	}
}

// affinity round-trips the opaque Raw map through JSON into a corev1.Affinity;
// the pod-spec shape is the Kubernetes API's own and Raw is expected to
// already match it (spec §4.4.3 "task-replaceable affinity override").
// Malformed Raw is dropped rather than failing the run — Validate doesn't
// interpret Affinity beyond "well-formed", so a bad override surfaces as a
// missing affinity rule instead of a validation error.
func affinity(a *domain.Affinity) *corev1.Affinity {
	raw, err := json.Marshal(a.Raw)
	if err != nil {
		return nil
	}
	var out corev1.Affinity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

func volume(v domain.VolumeSpec) corev1.Volume {
	vol := corev1.Volume{Name: v.Name}
	switch {
	case v.HostPath != nil:
		vol.VolumeSource = corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: *v.HostPath}}
	case v.PVClaim != nil:
		vol.VolumeSource = corev1.VolumeSource{PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: *v.PVClaim}}
	default:
		vol.VolumeSource = corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}
	}
	return vol
}

func sanitize(name string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '-'
	}, name))
}
