package docker

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// CreateConfig is the set of Engine API payloads for creating one user
// container, as accepted by client.ContainerCreate.
type CreateConfig struct {
	Name       string                    `json:"name"`
	Config     *container.Config         `json:"config"`
	HostConfig *container.HostConfig     `json:"hostConfig"`
	Networking *network.NetworkingConfig `json:"networkingConfig,omitempty"`
}

// BuildCreateConfig translates a spawn plan into Engine API structs. It
// performs no API calls.
func BuildCreateConfig(plan *model.SpawnPlan) (*CreateConfig, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, b := range plan.Ports {
		proto := b.Protocol
		if proto == "" {
			proto = "tcp"
		}
		p, err := nat.NewPort(proto, strconv.Itoa(b.ContainerPort))
		if err != nil {
			return nil, fmt.Errorf("invalid container port %d/%s: %w", b.ContainerPort, proto, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = append(bindings[p], nat.PortBinding{
			HostIP:   b.HostIP,
			HostPort: strconv.Itoa(b.HostPort),
		})
	}

	env := make([]string, 0, len(plan.Environment))
	for k, v := range plan.Environment {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	mounts := make([]mount.Mount, 0, len(plan.Volumes))
	for _, v := range plan.Volumes {
		m := mount.Mount{
			Type:     mount.TypeVolume,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly(),
		}
		if filepath.IsAbs(v.Source) {
			m.Type = mount.TypeBind
		}
		mounts = append(mounts, m)
	}

	resources := container.Resources{}
	if plan.Resources.CPULimit > 0 {
		resources.NanoCPUs = int64(plan.Resources.CPULimit * 1e9)
	}
	if plan.Resources.MemLimit != "" {
		mem, err := units.RAMInBytes(plan.Resources.MemLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit %q: %w", plan.Resources.MemLimit, err)
		}
		resources.Memory = mem
	}

	cc := &CreateConfig{
		Name: plan.ContainerName,
		Config: &container.Config{
			Image:        plan.Image,
			Env:          env,
			Labels:       plan.Labels,
			ExposedPorts: exposed,
			WorkingDir:   plan.NotebookDir,
		},
		HostConfig: &container.HostConfig{
			PortBindings: bindings,
			Mounts:       mounts,
			Privileged:   plan.Privileged,
			Resources:    resources,
		},
	}
	if plan.Network != "" {
		cc.HostConfig.NetworkMode = container.NetworkMode(plan.Network)
		cc.Networking = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				plan.Network: {},
			},
		}
	}
	return cc, nil
}
