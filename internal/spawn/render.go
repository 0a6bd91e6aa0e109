package spawn

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/shinji-kodama/workshop-hub/internal/docker"
	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// Format names a plan rendering.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCompose Format = "yaml"
	FormatShell   Format = "shell"
	FormatEngine  Format = "engine"
)

// Formats lists the supported formats for flag help.
var Formats = []Format{FormatJSON, FormatCompose, FormatShell, FormatEngine}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (valid: json, yaml, shell, engine)", s)
}

// Render renders plan in format f.
func Render(plan *model.SpawnPlan, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return renderJSON(plan)
	case FormatCompose:
		return RenderCompose(plan)
	case FormatShell:
		return []byte(RenderDockerRun(plan) + "\n"), nil
	case FormatEngine:
		cc, err := docker.BuildCreateConfig(plan)
		if err != nil {
			return nil, err
		}
		return renderJSON(cc)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

func renderJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RenderDockerRun renders the plan as a `docker run` command line. Every
// argument is shell-quoted, so the line can be pasted or passed to sh -c.
func RenderDockerRun(plan *model.SpawnPlan) string {
	args := []string{"docker", "run", "-d", "--name", plan.ContainerName}
	if plan.Network != "" {
		args = append(args, "--network", plan.Network)
	}
	if plan.Privileged {
		args = append(args, "--privileged")
	}
	if plan.Resources.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(plan.Resources.CPULimit, 'f', -1, 64))
	}
	if plan.Resources.MemLimit != "" {
		args = append(args, "--memory", plan.Resources.MemLimit)
	}
	if plan.NotebookDir != "" {
		args = append(args, "--workdir", plan.NotebookDir)
	}
	for _, b := range plan.Ports {
		args = append(args, "-p", publishSpec(b))
	}
	for _, kv := range sortedEnv(plan.Environment) {
		args = append(args, "-e", kv)
	}
	for _, v := range plan.Volumes {
		args = append(args, "-v", v.String())
	}
	for _, l := range docker.LabelArgs(plan.Labels) {
		args = append(args, "--label", l)
	}
	args = append(args, plan.Image)
	return shellquote.Join(args...)
}

// publishSpec renders a binding in -p / compose syntax:
// "0.0.0.0:22223:22/tcp".
func publishSpec(b model.PortBinding) string {
	spec := fmt.Sprintf("%d:%s", b.HostPort, b.ContainerPortKey())
	if b.HostIP != "" {
		spec = b.HostIP + ":" + spec
	}
	return spec
}

func sortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
