package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// defaultPingTimeout bounds Ping. The hub talks to a local daemon socket,
// so a slow answer means the daemon is wedged.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker SDK client for the read-only queries of check.
type Client struct {
	inner *client.Client
}

// NewClient connects to $DOCKER_HOST if set, otherwise to the first daemon
// socket found by socketCandidates. Errors are CLIErrors with
// ExitDockerNotRunning.
func NewClient() (*Client, error) {
	host := os.Getenv("DOCKER_HOST")
	if host == "" {
		home, _ := os.UserHomeDir()
		var err error
		host, err = firstSocket(socketCandidates(runtime.GOOS, home, os.Getenv("XDG_RUNTIME_DIR")))
		if err != nil {
			return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
		}
	}

	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host), err)
	}
	return &Client{inner: c}, nil
}

// socketCandidates lists daemon sockets in order of preference. The hub
// container usually has the host socket bind-mounted at the system path;
// rootless daemons and Docker Desktop use per-user sockets.
func socketCandidates(goos, home, runtimeDir string) []string {
	paths := []string{"/var/run/docker.sock"}
	switch goos {
	case "linux":
		if runtimeDir != "" {
			paths = append(paths, filepath.Join(runtimeDir, "docker.sock"))
		}
	case "darwin":
		if home != "" {
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
	}
	return paths
}

// firstSocket returns a unix:// host for the first path that exists.
// Existence is all that is checked; Ping verifies the daemon answers.
func firstSocket(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return "unix://" + p, nil
		}
	}
	return "", fmt.Errorf("no Docker socket at any of %v, is Docker running?", paths)
}

// Ping verifies that the daemon answers within defaultPingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			"Docker daemon is not responding, is Docker running?", err)
	}
	return nil
}

// Close releases the client's connections.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner returns the underlying SDK client. It satisfies ContainerLister.
func (c *Client) Inner() *client.Client {
	return c.inner
}
