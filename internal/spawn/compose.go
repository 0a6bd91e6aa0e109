package spawn

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// composeFile is the subset of the compose file format a user container
// needs.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`

	// Volumes declares the named volumes with explicit names so compose
	// does not prefix them with the project name.
	Volumes map[string]composeVolume `yaml:"volumes,omitempty"`

	// Networks marks the hub network as external; the hub owns it.
	Networks map[string]composeNetwork `yaml:"networks,omitempty"`
}

type composeService struct {
	ContainerName string            `yaml:"container_name"`
	Image         string            `yaml:"image"`
	Privileged    bool              `yaml:"privileged,omitempty"`
	WorkingDir    string            `yaml:"working_dir,omitempty"`
	CPUs          float64           `yaml:"cpus,omitempty"`
	MemLimit      string            `yaml:"mem_limit,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
}

type composeVolume struct {
	Name string `yaml:"name"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// RenderCompose renders the plan as a compose file with a single service
// named after the container. A header comment marks the file as generated.
func RenderCompose(plan *model.SpawnPlan) ([]byte, error) {
	svc := composeService{
		ContainerName: plan.ContainerName,
		Image:         plan.Image,
		Privileged:    plan.Privileged,
		WorkingDir:    plan.NotebookDir,
		CPUs:          plan.Resources.CPULimit,
		MemLimit:      plan.Resources.MemLimit,
		Environment:   plan.Environment,
		Labels:        plan.Labels,
	}
	for _, b := range plan.Ports {
		svc.Ports = append(svc.Ports, publishSpec(b))
	}

	out := composeFile{Services: map[string]composeService{}}
	for _, v := range plan.Volumes {
		svc.Volumes = append(svc.Volumes, v.String())
		if !filepath.IsAbs(v.Source) {
			if out.Volumes == nil {
				out.Volumes = map[string]composeVolume{}
			}
			out.Volumes[v.Source] = composeVolume{Name: v.Source}
		}
	}
	if plan.Network != "" {
		svc.Networks = []string{plan.Network}
		out.Networks = map[string]composeNetwork{plan.Network: {External: true}}
	}
	out.Services[plan.ContainerName] = svc

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize compose YAML: %w", err)
	}

	header := fmt.Sprintf("# Generated by workshop-hub for user %q\n# DO NOT EDIT - regenerate with `workshop-hub plan %s --format yaml`\n",
		plan.User, plan.User)
	return append([]byte(header), data...), nil
}
