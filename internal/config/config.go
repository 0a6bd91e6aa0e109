package config

import (
	"fmt"
	"time"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// Config is the complete hub configuration.
type Config struct {
	// DefaultImage is the profile used when a spawn request names none, or
	// names one that is not configured.
	DefaultImage model.ImageKind `yaml:"defaultImage" json:"defaultImage" toml:"defaultImage" validate:"required,imagekind"`

	// Registries are the independent port registries, one per purpose.
	Registries []RegistryConfig `yaml:"registries" json:"registries" toml:"registries" validate:"required,min=1,unique=Name,dive"`

	// Images are the selectable user image profiles.
	Images []ImageProfile `yaml:"images" json:"images" toml:"images" validate:"required,min=1,unique=Kind,dive"`

	Container ContainerConfig `yaml:"container" json:"container" toml:"container"`

	// Environment is injected into every user container.
	Environment map[string]string `yaml:"environment" json:"environment" toml:"environment"`

	Workshop WorkshopConfig `yaml:"workshop" json:"workshop" toml:"workshop"`

	StudentWork StudentWorkConfig `yaml:"studentWork" json:"studentWork" toml:"studentWork"`

	Server ServerConfig `yaml:"server" json:"server" toml:"server"`

	Log LogConfig `yaml:"log" json:"log" toml:"log"`
}

// RegistryConfig configures one port registry.
type RegistryConfig struct {
	// Name identifies the registry, e.g. "ssh" or "openclaw".
	Name string `yaml:"name" json:"name" toml:"name" validate:"required,max=32,alphanum"`

	// Path is the JSON record location.
	Path string `yaml:"path" json:"path" toml:"path" validate:"required"`

	// BasePort is the exclusive lower bound; the first user gets BasePort+1.
	BasePort int `yaml:"basePort" json:"basePort" toml:"basePort" validate:"min=0,max=65534"`

	// ContainerPort is the port inside the user container that the
	// assigned host port forwards to.
	ContainerPort int `yaml:"containerPort" json:"containerPort" toml:"containerPort" validate:"required,min=1,max=65535"`

	// Protocol is "tcp" (default) or "udp".
	Protocol string `yaml:"protocol" json:"protocol" toml:"protocol" validate:"omitempty,oneof=tcp udp"`

	// HostIP is the interface the port is published on. Defaults to 0.0.0.0.
	HostIP string `yaml:"hostIp" json:"hostIp" toml:"hostIp" validate:"omitempty,ip"`

	// LockTimeout bounds lock acquisition on the record.
	LockTimeout Duration `yaml:"lockTimeout" json:"lockTimeout" toml:"lockTimeout"`
}

// ImageProfile describes one selectable user image.
type ImageProfile struct {
	Kind model.ImageKind `yaml:"kind" json:"kind" toml:"kind" validate:"required,imagekind"`

	// DisplayName is the label shown in the spawn form, e.g. "ML Workshop".
	// Spawn requests may select a profile by kind, display name or image.
	DisplayName string `yaml:"displayName" json:"displayName" toml:"displayName"`

	// Image is the container image reference.
	Image string `yaml:"image" json:"image" toml:"image" validate:"required"`

	// HomeDir is the notebook directory inside the container.
	HomeDir string `yaml:"homeDir" json:"homeDir" toml:"homeDir" validate:"required,startswith=/"`

	// Registry names the port registry the profile allocates from.
	Registry string `yaml:"registry" json:"registry" toml:"registry" validate:"required"`

	// PortEnv lists the variables that receive the assigned host port.
	PortEnv []string `yaml:"portEnv" json:"portEnv" toml:"portEnv" validate:"dive,required"`

	// HostEnv lists the variables that receive AdvertiseHost.
	HostEnv []string `yaml:"hostEnv" json:"hostEnv" toml:"hostEnv" validate:"dive,required"`

	// AdvertiseHost is the host name users connect to for the published
	// port. Defaults to "localhost".
	AdvertiseHost string `yaml:"advertiseHost" json:"advertiseHost" toml:"advertiseHost"`

	// DockerInDocker mounts a per-user volume at /var/lib/docker.
	DockerInDocker bool `yaml:"dockerInDocker" json:"dockerInDocker" toml:"dockerInDocker"`

	// WorkshopContent mounts the shared workshop content.
	WorkshopContent bool `yaml:"workshopContent" json:"workshopContent" toml:"workshopContent"`
}

// ContainerConfig holds settings shared by every user container.
type ContainerConfig struct {
	// NameTemplate is a fmt template with one %s for the user name.
	NameTemplate string `yaml:"nameTemplate" json:"nameTemplate" toml:"nameTemplate" validate:"required,contains=%s"`

	Network    string  `yaml:"network" json:"network" toml:"network"`
	Privileged bool    `yaml:"privileged" json:"privileged" toml:"privileged"`
	CPULimit   float64 `yaml:"cpuLimit" json:"cpuLimit" toml:"cpuLimit" validate:"min=0"`
	MemLimit   string  `yaml:"memLimit" json:"memLimit" toml:"memLimit"`
}

// WorkshopConfig locates the shared workshop content.
type WorkshopConfig struct {
	// HostPath is a host directory. When empty, Volume is mounted instead.
	HostPath string `yaml:"hostPath" json:"hostPath" toml:"hostPath" validate:"omitempty,startswith=/"`

	// Volume is the named volume used when HostPath is empty.
	Volume string `yaml:"volume" json:"volume" toml:"volume"`

	// MountPath is where the content appears inside the container.
	MountPath string `yaml:"mountPath" json:"mountPath" toml:"mountPath" validate:"required,startswith=/"`
}

// StudentWorkConfig locates per-student work directories. The same tree is
// seen under two paths: LocalPath from where this process runs (the hub
// container) and HostPath from the Docker host, which is what bind mounts
// need. Both must be set for student work to be mounted.
type StudentWorkConfig struct {
	LocalPath string `yaml:"localPath" json:"localPath" toml:"localPath"`
	HostPath  string `yaml:"hostPath" json:"hostPath" toml:"hostPath"`
}

// Enabled reports whether both paths are configured.
func (s StudentWorkConfig) Enabled() bool {
	return s.LocalPath != "" && s.HostPath != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr" json:"addr" toml:"addr" validate:"required"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" toml:"shutdownTimeout"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `yaml:"format" json:"format" toml:"format" validate:"omitempty,oneof=console json"`
}

// Registry returns the named registry configuration.
func (c *Config) Registry(name string) (RegistryConfig, bool) {
	for _, r := range c.Registries {
		if r.Name == name {
			return r, true
		}
	}
	return RegistryConfig{}, false
}

// Profile returns the profile for kind.
func (c *Config) Profile(kind model.ImageKind) (ImageProfile, bool) {
	for _, p := range c.Images {
		if p.Kind == kind {
			return p, true
		}
	}
	return ImageProfile{}, false
}

// ContainerName renders the container name for user.
func (c *Config) ContainerName(user string) string {
	return fmt.Sprintf(c.Container.NameTemplate, user)
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("10s", "1m30s") in every supported file format.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
