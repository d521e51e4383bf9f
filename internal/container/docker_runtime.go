package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	labelPrefix    = "hive"
	bridgeNetwork  = "hive-net"
	containerNameF = "hive-bee-%s"
)

// dockerRuntime implements Runtime against the local Docker engine,
// carried over from the teacher's container.Manager Engine-API plumbing
// almost verbatim in technique.
type dockerRuntime struct {
	docker  *client.Client
	network string
}

func newDockerRuntime() (*dockerRuntime, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &dockerRuntime{docker: docker}, nil
}

func (r *dockerRuntime) ensureNetwork(ctx context.Context) error {
	if r.network != "" {
		return nil
	}
	if _, err := r.docker.NetworkInspect(ctx, bridgeNetwork, network.InspectOptions{}); err == nil {
		r.network = bridgeNetwork
		return nil
	}
	if _, err := r.docker.NetworkCreate(ctx, bridgeNetwork, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("create network %s: %w", bridgeNetwork, err)
	}
	r.network = bridgeNetwork
	slog.Info("created docker network", "network", bridgeNetwork)
	return nil
}

func containerName(agentID string) string {
	return fmt.Sprintf(containerNameF, agentID)
}

// Create builds the container config/host config/networking config from
// spec and creates (but does not start) the container, removing any stale
// same-named container first — carried over from Manager.StartAgent.
func (r *dockerRuntime) Create(ctx context.Context, spec ContainerSpec) (Handle, error) {
	if err := r.ensureNetwork(ctx); err != nil {
		return Handle{}, fmt.Errorf("container runtime: %w", err)
	}

	name := containerName(spec.AgentID)

	timeout := 5
	_ = r.docker.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &timeout})
	_ = r.docker.ContainerRemove(ctx, name, dockercontainer.RemoveOptions{Force: true})

	env := []string{
		fmt.Sprintf("AGENT_ID=%s", spec.AgentID),
		fmt.Sprintf("AGENT_NAME=%s", spec.AgentName),
	}
	if spec.Model != "" {
		env = append(env, fmt.Sprintf("MODEL=%s", spec.Model))
	}
	if spec.ProviderAPIKey != "" {
		env = append(env, fmt.Sprintf("PROVIDER_API_KEY=%s", spec.ProviderAPIKey))
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		bind := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	image := spec.Image

	containerCfg := &dockercontainer.Config{
		Image: image,
		Env:   env,
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".agent":   spec.AgentID,
		},
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds:       binds,
		NetworkMode: dockercontainer.NetworkMode(r.network),
	}

	resp, err := r.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return Handle{}, fmt.Errorf("create container: %w", err)
	}
	return Handle{ID: resp.ID, Name: name}, nil
}

func (r *dockerRuntime) Start(ctx context.Context, h Handle) error {
	if err := r.docker.ContainerStart(ctx, h.ID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", h.Name, err)
	}
	return nil
}

func (r *dockerRuntime) Stop(ctx context.Context, h Handle) error {
	timeout := 10
	if err := r.docker.ContainerStop(ctx, h.ID, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", h.Name, err)
	}
	return nil
}

func (r *dockerRuntime) Remove(ctx context.Context, h Handle) error {
	if err := r.docker.ContainerRemove(ctx, h.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", h.Name, err)
	}
	return nil
}

func (r *dockerRuntime) Inspect(ctx context.Context, h Handle) (InspectResult, error) {
	info, err := r.docker.ContainerInspect(ctx, h.ID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return InspectResult{Running: false, State: "removed"}, nil
		}
		return InspectResult{}, fmt.Errorf("inspect container %s: %w", h.Name, err)
	}
	var startedAt time.Time
	if info.State != nil && info.State.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			startedAt = t
		}
	}
	running := info.State != nil && info.State.Running
	state := "stopped"
	if info.State != nil {
		state = info.State.Status
	}
	return InspectResult{Running: running, StartedAt: startedAt, State: state}, nil
}

// cleanupStale removes any container carrying the hive-managed label that
// is not among the handles currently tracked by the caller's Supervisor,
// grounded on Manager.CleanupStale.
func (r *dockerRuntime) cleanupStale(ctx context.Context, keep map[string]bool) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := r.docker.ContainerList(ctx, dockercontainer.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		if keep[c.ID] {
			continue
		}
		slog.Info("cleaning up stale container", "container", shortID(c.ID))
		_ = r.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
