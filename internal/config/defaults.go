package config

import (
	"time"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

const (
	proxyURL = "http://ml-workshop-proxy:8899"
	noProxy  = "localhost,127.0.0.1,ml-workshop-hub,ml-workshop-proxy,*.huawei.com"
)

// Default returns the configuration of the production workshop hub.
func Default() *Config {
	return &Config{
		DefaultImage: model.ImageWorkshop,
		Registries: []RegistryConfig{
			{
				Name:          "ssh",
				Path:          "/opt/jupyterhub/ssh-ports.json",
				BasePort:      22222,
				ContainerPort: 22,
				Protocol:      "tcp",
				HostIP:        "0.0.0.0",
			},
			{
				Name:          "openclaw",
				Path:          "/opt/jupyterhub/openclaw-ports.json",
				BasePort:      18789,
				ContainerPort: 18789,
				Protocol:      "tcp",
				HostIP:        "0.0.0.0",
			},
		},
		Images: []ImageProfile{
			{
				Kind:            model.ImageWorkshop,
				DisplayName:     "ML Workshop",
				Image:           "ml-workshop-user:latest",
				HomeDir:         "/root/work",
				Registry:        "ssh",
				PortEnv:         []string{"VSCODE_SSH_PORT"},
				HostEnv:         []string{"VSCODE_SSH_HOST"},
				AdvertiseHost:   "localhost",
				DockerInDocker:  true,
				WorkshopContent: true,
			},
			{
				Kind:          model.ImageOpenClaw,
				DisplayName:   "OpenClaw Showcase",
				Image:         "ml-workshop-openclaw:latest",
				HomeDir:       "/home/jovyan",
				Registry:      "openclaw",
				PortEnv:       []string{"OPENCLAW_HOST_PORT"},
				HostEnv:       []string{"OPENCLAW_GATEWAY_HOST"},
				AdvertiseHost: "localhost",
			},
			{
				Kind:          model.ImageHCIE,
				DisplayName:   "HCIE Lab",
				Image:         "ml-workshop-hcie:latest",
				HomeDir:       "/root/share",
				Registry:      "ssh",
				PortEnv:       []string{"VSCODE_SSH_PORT", "SSH_PORT"},
				HostEnv:       []string{"VSCODE_SSH_HOST", "SSH_HOST"},
				AdvertiseHost: "localhost",
			},
		},
		Container: ContainerConfig{
			NameTemplate: "ml-workshop-user-%s",
			Network:      "ml-workshop-network",
			Privileged:   true,
			CPULimit:     4,
			MemLimit:     "8G",
		},
		Environment: map[string]string{
			"HTTP_PROXY":       proxyURL,
			"HTTPS_PROXY":      proxyURL,
			"http_proxy":       proxyURL,
			"https_proxy":      proxyURL,
			"NO_PROXY":         noProxy,
			"no_proxy":         noProxy,
			"PIP_INDEX_URL":    "http://ml-workshop-proxy:3141/root/pypi/+simple/",
			"PIP_TRUSTED_HOST": "ml-workshop-proxy",
		},
		Workshop: WorkshopConfig{
			Volume:    "workshop-content",
			MountPath: "/opt/workshop",
		},
		Server: ServerConfig{
			Addr:            ":8081",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyDefaults fills every field a configuration file left empty. Lists
// given in the file replace the defaults wholesale; their entries only get
// per-field defaults.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.DefaultImage == "" {
		cfg.DefaultImage = def.DefaultImage
	}
	if len(cfg.Registries) == 0 {
		cfg.Registries = def.Registries
	}
	for i := range cfg.Registries {
		r := &cfg.Registries[i]
		if r.Protocol == "" {
			r.Protocol = "tcp"
		}
		if r.HostIP == "" {
			r.HostIP = "0.0.0.0"
		}
	}
	if len(cfg.Images) == 0 {
		cfg.Images = def.Images
	}
	for i := range cfg.Images {
		if cfg.Images[i].AdvertiseHost == "" {
			cfg.Images[i].AdvertiseHost = "localhost"
		}
	}

	if cfg.Container.NameTemplate == "" {
		cfg.Container.NameTemplate = def.Container.NameTemplate
	}
	if cfg.Environment == nil {
		cfg.Environment = def.Environment
	}
	if cfg.Workshop.Volume == "" {
		cfg.Workshop.Volume = def.Workshop.Volume
	}
	if cfg.Workshop.MountPath == "" {
		cfg.Workshop.MountPath = def.Workshop.MountPath
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}
