package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// ContainerLister is the part of the Engine API the hub reads from.
// *client.Client satisfies it.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
}

// HubContainer is a hub-managed user container as seen by the daemon.
type HubContainer struct {
	ID    string
	Name  string
	State string

	// Labels is the decoded hub label set. Nil when the labels could not
	// be parsed; such containers are still listed so drift is visible.
	Labels *HubLabels

	// Published are the ports the daemon actually publishes on the host.
	Published []model.PortBinding
}

// User returns the owning user, or "" when labels are unreadable.
func (c HubContainer) User() string {
	if c.Labels == nil {
		return ""
	}
	return c.Labels.User
}

// Running reports whether the container is running.
func (c HubContainer) Running() bool {
	return c.State == "running"
}

// PublishesHostPort reports whether the container publishes port on the
// host for any protocol.
func (c HubContainer) PublishesHostPort(port int) bool {
	for _, b := range c.Published {
		if b.HostPort == port {
			return true
		}
	}
	return false
}

// ListHubContainers returns every hub-managed container, stopped ones
// included, sorted by name. Filtering by label happens on the daemon side.
func ListHubContainers(ctx context.Context, api ContainerLister, log zerolog.Logger) ([]HubContainer, error) {
	args := filters.NewArgs()
	for k, v := range FilterLabels() {
		args.Add("label", k+"="+v)
	}

	summaries, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	out := make([]HubContainer, 0, len(summaries))
	for _, s := range summaries {
		hc := summaryToHub(s)
		if hc.Labels == nil {
			log.Warn().Str("container", hc.Name).Msg("hub container has unreadable labels")
		}
		out = append(out, hc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// summaryToHub maps an Engine API summary to a HubContainer. The daemon
// reports names with a leading "/", which is stripped.
func summaryToHub(s container.Summary) HubContainer {
	name := ""
	if len(s.Names) > 0 {
		name = strings.TrimPrefix(s.Names[0], "/")
	}

	hc := HubContainer{
		ID:    s.ID,
		Name:  name,
		State: string(s.State),
	}
	if labels, err := ParseLabels(s.Labels); err == nil {
		hc.Labels = labels
	}

	// The daemon lists one entry per address family when a port is
	// published on all interfaces; keep the first per host port/protocol.
	seen := make(map[string]bool)
	for _, p := range s.Ports {
		if p.PublicPort == 0 {
			continue
		}
		key := fmt.Sprintf("%d/%s", p.PublicPort, p.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		hc.Published = append(hc.Published, model.PortBinding{
			ContainerPort: int(p.PrivatePort),
			HostIP:        p.IP,
			HostPort:      int(p.PublicPort),
			Protocol:      p.Type,
		})
	}
	return hc
}

// GroupByUser groups containers by their hub user label. Containers
// without a readable user are skipped.
func GroupByUser(containers []HubContainer) map[string][]HubContainer {
	groups := make(map[string][]HubContainer)
	for _, c := range containers {
		user := c.User()
		if user == "" {
			continue
		}
		groups[user] = append(groups[user], c)
	}
	return groups
}
