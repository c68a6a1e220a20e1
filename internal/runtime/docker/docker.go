// Package docker implements ports.Runtime and ports.ServiceRuntime by
// shelling out to the container engine binary (spec §4.3 "Docker runtime").
// The SDK client (github.com/docker/docker) never appears as a directly-used
// dependency anywhere in the retrieval pack, only pulled in transitively by
// unrelated tools; the spec itself describes "invoking the container engine
// binary", matching the same os/exec approach already used for git in
// internal/delta.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/core/ports"
	"go.trai.ch/zerr"
)

const killGrace = 2 * time.Second

// Runtime implements ports.Runtime against the "docker" CLI.
type Runtime struct {
	logger ports.Logger
	bin    string
}

// NewRuntime creates a docker Runtime.
func NewRuntime(logger ports.Logger) *Runtime {
	return &Runtime{logger: logger, bin: "docker"}
}

// Available reports whether the docker daemon is reachable.
func (r *Runtime) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, r.bin, "info")
	return cmd.Run() == nil
}

// Run runs opts.Image with command under "sh -c", binding mounts, env,
// working directory and network, and removes the container on exit
// (--rm) so a timeout-kill also reclaims it (spec §4.3).
func (r *Runtime) Run(ctx context.Context, command string, opts ports.RunOpts, w io.Writer) (ports.RunResult, error) {
	if opts.Image == "" {
		return ports.RunResult{}, zerr.New("docker runtime requires an image")
	}

	name := containerName()
	args := []string{"run", "--rm", "--name", name}
	for _, m := range opts.Mounts {
		args = append(args, "-v", mountFlag(m))
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir, "-v", opts.Workdir+":"+opts.Workdir)
	}
	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}
	args = append(args, opts.Image, "sh", "-c", command)

	cmd := exec.Command(r.bin, args...)
	var buf bytes.Buffer
	var out io.Writer = &buf
	if w != nil {
		out = io.MultiWriter(&buf, w)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return ports.RunResult{}, zerr.Wrap(err, "failed to start container")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if opts.TimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(opts.TimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		return resultFromExit(buf.String(), err), nil
	case <-timeoutC:
		r.killContainer(name, done)
		return ports.RunResult{}, domain.ErrTaskTimeout
	case <-ctx.Done():
		r.killContainer(name, done)
		return ports.RunResult{}, ctx.Err()
	}
}

// killContainer stops (then forcibly kills) the named container and waits
// for the local "docker run" process to exit, confirming the container is
// gone before returning (spec §4.3 "confirmed dead").
func (r *Runtime) killContainer(name string, done <-chan error) {
	stopCtx, cancel := context.WithTimeout(context.Background(), killGrace)
	defer cancel()
	_ = exec.CommandContext(stopCtx, r.bin, "stop", "-t", "2", name).Run()

	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}
	_ = exec.Command(r.bin, "kill", name).Run()
	<-done
}

// CreateNetwork creates a task-scoped bridge network for sidecar services.
func (r *Runtime) CreateNetwork(ctx context.Context, name string) (ports.NetworkInfo, error) {
	out, err := exec.CommandContext(ctx, r.bin, "network", "create", name).CombinedOutput()
	if err != nil {
		return ports.NetworkInfo{}, zerr.Wrap(err, strings.TrimSpace(string(out)))
	}
	return ports.NetworkInfo{ID: strings.TrimSpace(string(out)), Name: name}, nil
}

// RemoveNetwork deletes a network created by CreateNetwork.
func (r *Runtime) RemoveNetwork(ctx context.Context, net ports.NetworkInfo) error {
	if err := exec.CommandContext(ctx, r.bin, "network", "rm", net.Name).Run(); err != nil {
		return zerr.Wrap(err, "failed to remove network "+net.Name)
	}
	return nil
}

// StartService runs image detached on net, reachable by name to sibling
// containers on the same network.
func (r *Runtime) StartService(ctx context.Context, net ports.NetworkInfo, name, image string) error {
	cmd := exec.CommandContext(ctx, r.bin, "run", "-d", "--rm", "--name", name, "--network", net.Name, image)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to start service"), "output", strings.TrimSpace(string(out)))
	}
	return nil
}

// StopService stops and removes a service container started by StartService.
func (r *Runtime) StopService(ctx context.Context, net ports.NetworkInfo, name string) error {
	if err := exec.CommandContext(ctx, r.bin, "stop", "-t", "2", name).Run(); err != nil {
		return zerr.Wrap(err, "failed to stop service "+name)
	}
	return nil
}

// mountFlag renders a MountSpec as a "docker run -v" argument. Directory
// mounts bind a host path; cache mounts bind a named volume — both use the
// same "<resource>:<path>" syntax.
func mountFlag(m ports.MountSpec) string {
	return m.Resource + ":" + m.Path
}

func containerName() string {
	return fmt.Sprintf("sykli-%d", time.Now().UnixNano())
}

func resultFromExit(output string, err error) ports.RunResult {
	lines := strings.Count(output, "\n")
	if err == nil {
		return ports.RunResult{OK: true, ExitCode: 0, LineCount: lines, Output: output}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return ports.RunResult{OK: false, ExitCode: exitErr.ExitCode(), LineCount: lines, Output: output}
	}
	return ports.RunResult{OK: false, ExitCode: -1, LineCount: lines, Output: output}
}
