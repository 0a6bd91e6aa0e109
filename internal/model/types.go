// Package model defines the domain types for the workshop-hub CLI.
//
// All entities in this package are plain data carriers shared between the
// registry, the spawn planner, the Docker helpers and the CLI/HTTP surfaces.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ImageKind identifies which user image profile a spawn request selected.
// The profile decides the home directory, the published port (remote shell
// or gateway) and which shared volumes are mounted.
type ImageKind string

const (
	// ImageWorkshop is the default ML workshop image. It runs Docker-in-Docker
	// and exposes an SSH port for VS Code Remote.
	ImageWorkshop ImageKind = "workshop"

	// ImageOpenClaw is the OpenClaw showcase image. It exposes its gateway
	// port directly on the host instead of SSH.
	ImageOpenClaw ImageKind = "openclaw"

	// ImageHCIE is the HCIE lab image. Like the workshop image it exposes SSH,
	// but it has no DinD volume and no workshop content mount.
	ImageHCIE ImageKind = "hcie"
)

// String returns the string representation of ImageKind.
func (k ImageKind) String() string {
	return string(k)
}

// IsValid checks whether the ImageKind value is one of the predefined kinds.
func (k ImageKind) IsValid() bool {
	switch k {
	case ImageWorkshop, ImageOpenClaw, ImageHCIE:
		return true
	default:
		return false
	}
}

// ParseImageKind converts a string to an ImageKind.
// Returns an error if the string does not match any valid kind.
func ParseImageKind(s string) (ImageKind, error) {
	kind := ImageKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid image kind: %q (valid: workshop, openclaw, hcie)", s)
	}
	return kind, nil
}

// userNameRegex validates user names that end up in container and volume
// names: alphanumerics plus '.', '_' and '-', starting with an alphanumeric.
var userNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ValidateUserName checks that a user name can be embedded in Docker object
// names (containers, volumes) and host paths.
//
// The port registry itself accepts any non-empty identifier; this stricter
// check only applies where the name leaves the registry.
func ValidateUserName(name string) error {
	if name == "" {
		return fmt.Errorf("user name must not be empty")
	}
	if !userNameRegex.MatchString(name) {
		return fmt.Errorf("invalid user name %q: must start with an alphanumeric character and contain only alphanumerics, '.', '_' or '-' (max 128)", name)
	}
	return nil
}

// PortAssignment is one entry of a port registry: the stable host port that
// was handed to a user the first time they were seen.
type PortAssignment struct {
	// User is the opaque tenant identifier (the authenticated user name).
	User string `json:"user" yaml:"user"`

	// Port is the assigned host port, always greater than the registry's
	// base port.
	Port int `json:"port" yaml:"port"`
}

// String returns "user=port".
func (a PortAssignment) String() string {
	return fmt.Sprintf("%s=%d", a.User, a.Port)
}

// PortBinding is a single host-to-container port forwarding rule in a
// spawn plan. It records which registry the host port came from so that the
// binding can be traced back to its assignment.
type PortBinding struct {
	// Registry is the name of the port registry that assigned HostPort.
	Registry string `json:"registry" yaml:"registry"`

	// ContainerPort is the port number inside the container (1-65535).
	ContainerPort int `json:"containerPort" yaml:"containerPort"`

	// HostIP is the host interface the port is published on.
	// Empty means all interfaces.
	HostIP string `json:"hostIp,omitempty" yaml:"hostIp,omitempty"`

	// HostPort is the published port on the host (1-65535).
	HostPort int `json:"hostPort" yaml:"hostPort"`

	// Protocol is "tcp" or "udp". Defaults to "tcp".
	Protocol string `json:"protocol" yaml:"protocol"`
}

// Validate checks whether the PortBinding has valid field values.
func (p *PortBinding) Validate() error {
	if p.ContainerPort < 1 || p.ContainerPort > 65535 {
		return fmt.Errorf("port binding: container port %d out of range (1-65535)", p.ContainerPort)
	}
	if p.HostPort < 1 || p.HostPort > 65535 {
		return fmt.Errorf("port binding: host port %d out of range (1-65535)", p.HostPort)
	}
	if p.Protocol == "" {
		p.Protocol = "tcp"
	}
	if p.Protocol != "tcp" && p.Protocol != "udp" {
		return fmt.Errorf("port binding: invalid protocol %q (valid: tcp, udp)", p.Protocol)
	}
	return nil
}

// String returns a human-readable representation of the binding.
// Format: "hostIP:hostPort → containerPort/protocol"
func (p *PortBinding) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	host := p.HostIP
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d → %d/%s", host, p.HostPort, p.ContainerPort, proto)
}

// ContainerPortKey returns the Docker-style "port/proto" key, e.g. "22/tcp".
func (p *PortBinding) ContainerPortKey() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d/%s", p.ContainerPort, proto)
}

// ValidatePortBindings checks each binding and enforces that no two bindings
// publish the same host port/protocol pair.
func ValidatePortBindings(bindings []PortBinding) error {
	seen := make(map[string]string)
	for i := range bindings {
		if err := bindings[i].Validate(); err != nil {
			return err
		}
		key := fmt.Sprintf("%d/%s", bindings[i].HostPort, bindings[i].Protocol)
		if owner, exists := seen[key]; exists {
			return fmt.Errorf("port binding: host port %s is used by both %q and %q",
				key, owner, bindings[i].Registry)
		}
		seen[key] = bindings[i].Registry
	}
	return nil
}

// VolumeMount describes one bind mount or named volume in a spawn plan.
type VolumeMount struct {
	// Source is a named volume ("jupyter-alice") or an absolute host path.
	Source string `json:"source" yaml:"source"`

	// Target is the absolute mount point inside the container.
	Target string `json:"target" yaml:"target"`

	// Mode is "rw" or "ro". Empty is treated as "rw".
	Mode string `json:"mode" yaml:"mode"`
}

// ReadOnly reports whether the mount is read-only.
func (v VolumeMount) ReadOnly() bool {
	return v.Mode == "ro"
}

// String renders the mount in docker's -v syntax: "source:target[:ro]".
func (v VolumeMount) String() string {
	if v.ReadOnly() {
		return v.Source + ":" + v.Target + ":ro"
	}
	return v.Source + ":" + v.Target
}

// Resources holds per-container resource limits.
type Resources struct {
	// CPULimit is the number of CPUs (fractional allowed).
	CPULimit float64 `json:"cpuLimit" yaml:"cpuLimit"`

	// MemLimit is a human-readable memory limit such as "8G".
	MemLimit string `json:"memLimit" yaml:"memLimit"`
}

// SpawnPlan is the fully resolved description of one user's container:
// everything the orchestration layer needs to create it, including the
// host ports obtained from the port registries.
//
// A SpawnPlan is computed, never persisted. Only the port assignments
// inside it are durable (in the registries).
type SpawnPlan struct {
	// User is the authenticated user name the plan was computed for.
	User string `json:"user" yaml:"user"`

	// Admin reports whether the user had admin rights when planning.
	Admin bool `json:"admin" yaml:"admin"`

	// ImageKind is the resolved image profile.
	ImageKind ImageKind `json:"imageKind" yaml:"imageKind"`

	// Image is the container image reference.
	Image string `json:"image" yaml:"image"`

	// ContainerName is the Docker container name for this user.
	ContainerName string `json:"containerName" yaml:"containerName"`

	// Network is the Docker network the container joins.
	Network string `json:"network,omitempty" yaml:"network,omitempty"`

	// NotebookDir is the home/notebook directory inside the container.
	NotebookDir string `json:"notebookDir" yaml:"notebookDir"`

	// Ports are the host-to-container port forwarding rules.
	Ports []PortBinding `json:"ports" yaml:"ports"`

	// Environment is injected into the container.
	Environment map[string]string `json:"environment" yaml:"environment"`

	// Volumes are the mounts, in a stable order.
	Volumes []VolumeMount `json:"volumes" yaml:"volumes"`

	// Privileged is set for images that run Docker-in-Docker.
	Privileged bool `json:"privileged" yaml:"privileged"`

	// Resources are the CPU/memory limits.
	Resources Resources `json:"resources" yaml:"resources"`

	// Labels are the hub management labels for the container.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// Warnings are non-fatal findings, e.g. an assigned port that is
	// already bound on the host.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// PortFor returns the binding that came from the named registry, if any.
func (p *SpawnPlan) PortFor(registry string) (PortBinding, bool) {
	for _, b := range p.Ports {
		if b.Registry == registry {
			return b, true
		}
	}
	return PortBinding{}, false
}

// ExitCode defines standard CLI exit codes.
// These codes allow the hub's hook scripts to programmatically determine
// the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the hub configuration could not be loaded
	// or failed validation.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitPortAllocationFailed indicates a port could not be allocated
	// (range exhausted) or an assigned port conflicts with something on
	// the host.
	ExitPortAllocationFailed ExitCode = 4

	// ExitPersistenceFailed indicates a registry record could not be
	// written. No port was reserved.
	ExitPersistenceFailed ExitCode = 5

	// ExitNotFound indicates the user or registry does not exist.
	ExitNotFound ExitCode = 6

	// ExitLockTimeout indicates a registry lock was not granted in time.
	ExitLockTimeout ExitCode = 8
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
