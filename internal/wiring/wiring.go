// Package wiring is the composition root for the Sykli Core library: it
// constructs a Scheduler wired to one of the two concrete Target
// implementations (local or k8s) plus the cache, event bus, delta
// detector, mesh selector, and logger a run needs.
package wiring

import (
	"os"

	"go.sykli.dev/core/internal/adapters/logger"
	"go.sykli.dev/core/internal/cache"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.sykli.dev/core/internal/delta"
	"go.sykli.dev/core/internal/engine/scheduler"
	"go.sykli.dev/core/internal/events"
	"go.sykli.dev/core/internal/mesh"
	"go.sykli.dev/core/internal/runtime/docker"
	"go.sykli.dev/core/internal/runtime/shell"
	"go.sykli.dev/core/internal/target/k8s"
	"go.sykli.dev/core/internal/target/local"
	"go.trai.ch/zerr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Core bundles the components a caller drives a run through: Scheduler for
// graph execution, Delta for affected-task computation, and Bus to observe
// run progress.
type Core struct {
	Scheduler *scheduler.Scheduler
	Delta     *delta.Detector
	Bus       *events.Bus
	Logger    ports.Logger
}

// LocalConfig parameterizes NewLocal.
type LocalConfig struct {
	Workdir string // run workspace; defaults to os.Getwd() when empty
}

// NewLocal wires a Core whose Target runs tasks on the local machine,
// shelling out to sh or docker per task (spec §4.3).
func NewLocal(cfg LocalConfig) (*Core, error) {
	log := logger.New()
	workdir, err := resolveWorkdir(cfg.Workdir)
	if err != nil {
		return nil, err
	}

	shellRt := shell.NewRuntime(log)
	dockerRt := docker.NewRuntime(log)
	target := local.NewTarget(shellRt, dockerRt, log)

	return newCore(target, workdir, log), nil
}

// KubernetesConfig parameterizes NewKubernetes.
type KubernetesConfig struct {
	Kubeconfig string // path to a kubeconfig file; empty uses the in-cluster service account
	Namespace  string
	Defaults   *ports.PipelineDefaults // K8s field, if set, seeds the target's base K8sOptions
	Workdir    string
}

// NewKubernetes wires a Core whose Target dispatches tasks as Kubernetes
// Jobs (spec §4.4), building the clientset from an explicit kubeconfig path
// or, when empty, the in-cluster service account.
func NewKubernetes(cfg KubernetesConfig) (*Core, error) {
	log := logger.New()
	workdir, err := resolveWorkdir(cfg.Workdir)
	if err != nil {
		return nil, err
	}

	restConfig, err := buildRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, zerr.Wrap(err, "build kubernetes client config")
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, zerr.Wrap(err, "build kubernetes clientset")
	}

	var defaults *domain.K8sOptions
	if cfg.Defaults != nil {
		defaults = cfg.Defaults.K8s
	}
	target := k8s.NewTarget(clientset, cfg.Namespace, defaults, log)

	return newCore(target, workdir, log), nil
}

func newCore(target ports.Target, workdir string, log ports.Logger) *Core {
	bus := events.NewBus()
	store := cache.NewStore(workdir)
	sched := scheduler.NewScheduler(target, store, bus, log)

	return &Core{
		Scheduler: sched,
		Delta:     delta.NewDetector(),
		Bus:       bus,
		Logger:    log,
	}
}

func resolveWorkdir(workdir string) (string, error) {
	if workdir != "" {
		return workdir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", zerr.Wrap(err, "resolve workdir")
	}
	return wd, nil
}

func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// NewSelector constructs the mesh NodeSelector used to place a task on a
// peer when its requires labels call for a node other than the local one
// (spec §4.7).
func NewSelector() ports.NodeSelector {
	return mesh.NewSelector()
}
