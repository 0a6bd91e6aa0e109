package docker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// Label keys stamped onto every user container the hub plans. The registry
// records are the source of truth for port assignments; the labels record
// what a container was created with so drift can be detected later.
const (
	LabelPrefix = "hub."

	// LabelManagedBy marks containers planned by workshop-hub.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelUser is the user the container belongs to.
	LabelUser = LabelPrefix + "user"

	// LabelImage is the image profile kind ("workshop", "openclaw", "hcie").
	LabelImage = LabelPrefix + "image"

	// LabelAdmin is "true" when the plan was made for an admin.
	LabelAdmin = LabelPrefix + "admin"

	// LabelCreatedAt is the RFC3339 time the plan was computed.
	LabelCreatedAt = LabelPrefix + "created-at"

	// LabelPortPrefix prefixes one label per registry port:
	//   "hub.port.ssh" = "22223"
	LabelPortPrefix = LabelPrefix + "port."
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "workshop-hub"

// HubLabels is the decoded form of the hub label set.
type HubLabels struct {
	User      string
	ImageKind model.ImageKind
	Admin     bool
	CreatedAt time.Time

	// Ports maps registry name to the host port the container was planned
	// with.
	Ports map[string]int
}

// BuildLabels returns the label set for a plan. Ports must already be
// assigned.
func BuildLabels(plan *model.SpawnPlan) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelUser:      plan.User,
		LabelImage:     plan.ImageKind.String(),
		LabelAdmin:     strconv.FormatBool(plan.Admin),
		LabelCreatedAt: plan.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, b := range plan.Ports {
		labels[BuildPortLabel(b.Registry)] = strconv.Itoa(b.HostPort)
	}
	return labels
}

// ParseLabels decodes the hub labels of a container. Containers not
// managed by the hub, or missing the user label, are rejected.
func ParseLabels(labels map[string]string) (*HubLabels, error) {
	if v := labels[LabelManagedBy]; v != ManagedByValue {
		return nil, fmt.Errorf("label %s has unexpected value %q (expected %q)", LabelManagedBy, v, ManagedByValue)
	}
	user := labels[LabelUser]
	if user == "" {
		return nil, fmt.Errorf("missing required Docker label %s", LabelUser)
	}

	out := &HubLabels{User: user}

	if v, ok := labels[LabelImage]; ok {
		kind, err := model.ParseImageKind(v)
		if err != nil {
			return nil, fmt.Errorf("invalid label %s: %w", LabelImage, err)
		}
		out.ImageKind = kind
	}
	if v, ok := labels[LabelAdmin]; ok {
		admin, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid label %s: %w", LabelAdmin, err)
		}
		out.Admin = admin
	}
	if v, ok := labels[LabelCreatedAt]; ok {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
		}
		out.CreatedAt = ts
	}

	ports, err := ParsePortLabels(labels)
	if err != nil {
		return nil, err
	}
	out.Ports = ports
	return out, nil
}

// BuildPortLabel returns the label key for a registry port, e.g.
// BuildPortLabel("ssh") → "hub.port.ssh".
func BuildPortLabel(registry string) string {
	return LabelPortPrefix + registry
}

// ParsePortLabels extracts the registry ports from a label set. It returns
// an empty map, not nil, when there are none.
func ParsePortLabels(labels map[string]string) (map[string]int, error) {
	ports := make(map[string]int)
	for key, value := range labels {
		if !strings.HasPrefix(key, LabelPortPrefix) {
			continue
		}
		registry := strings.TrimPrefix(key, LabelPortPrefix)
		if registry == "" {
			return nil, fmt.Errorf("invalid port label key %q: empty registry name", key)
		}
		port, err := strconv.Atoi(value)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid host port in label %q=%q", key, value)
		}
		ports[registry] = port
	}
	return ports, nil
}

// LabelArgs renders labels as sorted "key=value" strings, the form used
// by `docker run --label` and compose files.
func LabelArgs(labels map[string]string) []string {
	out := make([]string, 0, len(labels))
	for k, v := range labels {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// FilterLabels returns the label filter that selects hub-managed
// containers.
func FilterLabels() map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
	}
}
