package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"golang.org/x/sync/semaphore"
)

const (
	profileMountPath = "/data"
	stopTimeoutSecs  = 10

	// Resource limits per surface.
	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU
	pidsLimit        = 512

	surfaceSubnet = "172.28.0.0/16"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
	readyPollInterval   = 200 * time.Millisecond
)

// DockerHost runs one headless-Chromium container per storage scope. The
// scope's named volume holds the browser profile, so releasing a surface
// without purging keeps cookies and logins for the next provision.
type DockerHost struct {
	cli     *client.Client
	image   string
	network string
	port    int
	ready   time.Duration
	sem     *semaphore.Weighted
}

// HostOptions configures a DockerHost.
type HostOptions struct {
	Image                string
	Network              string
	DebugPort            int
	ProvisionConcurrency int
	ReadyTimeout         time.Duration
}

// NewDockerHost creates a Docker-backed surface host.
func NewDockerHost(opts HostOptions) (*DockerHost, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if opts.ProvisionConcurrency < 1 {
		opts.ProvisionConcurrency = 1
	}
	slog.Info("Docker client initialized", "image", opts.Image, "network", opts.Network)
	return &DockerHost{
		cli:     cli,
		image:   opts.Image,
		network: opts.Network,
		port:    opts.DebugPort,
		ready:   opts.ReadyTimeout,
		sem:     semaphore.NewWeighted(int64(opts.ProvisionConcurrency)),
	}, nil
}

func containerName(scope string) string {
	return "surface-" + scope
}

func volumeName(scope string) string {
	return "surface-" + scope + "-data"
}

// Provision creates and attaches to the surface for a storage scope. A
// lingering container for the scope is recycled first so the profile volume
// is only ever mounted once.
func (h *DockerHost) Provision(ctx context.Context, scope string) (Surface, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	name := containerName(scope)

	if inspect, err := h.cli.ContainerInspect(ctx, name); err == nil {
		slog.Info("Found lingering surface container, recycling", "container_id", inspect.ID, "scope", scope)
		if err := h.stopContainer(ctx, inspect.ID); err != nil {
			slog.Warn("Failed to recycle lingering container", "error", err, "container_id", inspect.ID)
		}
	}

	slog.Info("Provisioning surface", "scope", scope, "volume", volumeName(scope))

	config := &container.Config{
		Image: h.image,
		Cmd: []string{
			"--headless",
			"--no-sandbox",
			"--disable-gpu",
			"--remote-debugging-address=0.0.0.0",
			fmt.Sprintf("--remote-debugging-port=%d", h.port),
			"--user-data-dir=" + profileMountPath,
			"--user-agent=" + IdentityUserAgent,
			"about:blank",
		},
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(h.network),
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName(scope),
			Target: profileMountPath,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = h.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return nil, fmt.Errorf("create surface container: %w", createErr)
		}

		// A delayed cleanup can leave the old named container briefly.
		slog.Warn("Surface name conflict during create, retrying",
			"scope", scope,
			"attempt", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := h.cli.ContainerInspect(ctx, name); inspectErr == nil {
			if stopErr := h.stopContainer(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return nil, fmt.Errorf("create surface container after retries: %w", createErr)
	}

	if err := h.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := h.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return nil, fmt.Errorf("start surface container %s: %w", resp.ID, err)
	}

	debugBase, err := h.debugEndpoint(ctx, resp.ID)
	if err != nil {
		h.teardown(ctx, scope, false)
		return nil, err
	}
	if err := h.awaitReady(ctx, debugBase); err != nil {
		h.teardown(ctx, scope, false)
		return nil, err
	}

	cdp, err := dialCDP(ctx, debugBase)
	if err != nil {
		h.teardown(ctx, scope, false)
		return nil, fmt.Errorf("attach to surface %s: %w", scope, err)
	}

	slog.Info("Surface provisioned", "scope", scope, "container_id", resp.ID)
	return &chromeSurface{cdp: cdp}, nil
}

// debugEndpoint resolves the container's address on the surface network.
func (h *DockerHost) debugEndpoint(ctx context.Context, containerID string) (string, error) {
	inspect, err := h.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("inspect surface container: %w", err)
	}
	endpoint, ok := inspect.NetworkSettings.Networks[h.network]
	if !ok || endpoint.IPAddress == "" {
		return "", fmt.Errorf("surface container %s has no address on %s", containerID, h.network)
	}
	return fmt.Sprintf("http://%s:%d", endpoint.IPAddress, h.port), nil
}

// awaitReady polls the DevTools version endpoint until the browser answers.
func (h *DockerHost) awaitReady(ctx context.Context, debugBase string) error {
	deadline := time.Now().Add(h.ready)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, debugBase+"/json/version", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("surface not ready within %s", h.ready)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// Release stops the scope's container. With purgeStorage the profile volume
// is removed too; otherwise the next Provision for the scope picks it up.
func (h *DockerHost) Release(ctx context.Context, scope string, purgeStorage bool) error {
	return h.teardown(ctx, scope, purgeStorage)
}

func (h *DockerHost) teardown(ctx context.Context, scope string, purgeStorage bool) error {
	name := containerName(scope)

	inspect, err := h.cli.ContainerInspect(ctx, name)
	if err == nil {
		if err := h.stopContainer(ctx, inspect.ID); err != nil {
			return err
		}
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect surface container %s: %w", name, err)
	}

	if purgeStorage {
		if err := h.cli.VolumeRemove(ctx, volumeName(scope), true); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove surface volume %s: %w", volumeName(scope), err)
		}
		slog.Info("Surface storage purged", "scope", scope)
	}
	return nil
}

// stopContainer stops and removes a container. Idempotent; tolerates
// concurrent removal.
func (h *DockerHost) stopContainer(ctx context.Context, containerID string) error {
	slog.Info("Stopping surface container", "container_id", containerID)

	timeout := stopTimeoutSecs
	if err := h.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already stopped/removed", "container_id", containerID)
		} else if ctx.Err() != nil {
			slog.Debug("Context canceled during stop, continuing with force removal", "container_id", containerID)
		} else {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := h.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Container removal already in progress", "container_id", containerID)
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove surface container %s: %w", containerID, err)
	}
	return nil
}

// EnsureNetwork creates the isolated bridge network if it doesn't exist.
func (h *DockerHost) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := h.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == h.network {
			slog.Info("Surface network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	createResp, err := h.cli.NetworkCreate(ctx, h.network, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: surfaceSubnet}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", h.network, err)
	}
	slog.Info("Surface network created", "network_id", createResp.ID, "subnet", surfaceSubnet)
	return createResp.ID, nil
}

// chromeSurface adapts the DevTools client to the Surface contract.
type chromeSurface struct {
	cdp *cdpClient
}

func (s *chromeSurface) WatchLoad() <-chan error {
	return s.cdp.watchLoad()
}

func (s *chromeSurface) Navigate(ctx context.Context, url string) error {
	return s.cdp.navigate(ctx, url)
}

func (s *chromeSurface) CurrentURL(ctx context.Context) (string, error) {
	return s.cdp.evaluate(ctx, "location.href")
}

func (s *chromeSurface) Evaluate(ctx context.Context, expression string) (string, error) {
	return s.cdp.evaluate(ctx, expression)
}

func (s *chromeSurface) SetVisible(ctx context.Context, visible bool) error {
	return s.cdp.setLifecycleState(ctx, visible)
}

func (s *chromeSurface) Notifications() <-chan Notification {
	return s.cdp.notifications
}

func (s *chromeSurface) Close() error {
	s.cdp.close()
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

var _ Surface = (*chromeSurface)(nil)
var _ Host = (*DockerHost)(nil)
