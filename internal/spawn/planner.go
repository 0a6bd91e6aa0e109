package spawn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/workshop-hub/internal/config"
	"github.com/shinji-kodama/workshop-hub/internal/docker"
	"github.com/shinji-kodama/workshop-hub/internal/logging"
	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/port"
	"github.com/shinji-kodama/workshop-hub/internal/registry"
)

const (
	dindTarget        = "/var/lib/docker"
	studentWorkSubdir = "student-work"
	studentDirPerm    = 0o755
)

// Request is one spawn request as received from the hub.
type Request struct {
	// User is the authenticated user name.
	User string `json:"user"`

	// Admin grants read-write workshop content and all student work.
	Admin bool `json:"admin"`

	// Image selects the profile by kind, display name or image reference.
	// Empty or unknown selects the configured default.
	Image string `json:"image"`
}

// Registries resolves registry names. *registry.Set satisfies it.
type Registries interface {
	Get(name string) (*registry.Registry, error)
}

// Options configures a Planner.
type Options struct {
	Config     *config.Config
	Registries Registries

	// Prober, when set, checks each allocated port against the host and
	// records a warning if it is already bound.
	Prober port.Prober

	Logger *zerolog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Planner computes spawn plans.
type Planner struct {
	cfg    *config.Config
	regs   Registries
	prober port.Prober
	log    zerolog.Logger
	now    func() time.Time
}

// NewPlanner returns a Planner. Config and Registries are required.
func NewPlanner(opts Options) (*Planner, error) {
	if opts.Config == nil || opts.Registries == nil {
		return nil, fmt.Errorf("spawn planner needs a config and registries")
	}
	p := &Planner{
		cfg:    opts.Config,
		regs:   opts.Registries,
		prober: opts.Prober,
		log:    logging.For("spawn"),
		now:    opts.Now,
	}
	if opts.Logger != nil {
		p.log = *opts.Logger
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Plan computes the spawn plan for req. The user's port is allocated (and
// persisted) as a side effect, so calling Plan again for the same user and
// profile yields the same port. For non-admin users with student work
// enabled, the user's local student directory is created.
func (p *Planner) Plan(ctx context.Context, req Request) (*model.SpawnPlan, error) {
	if err := model.ValidateUserName(req.User); err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrInvalidUser, err)
	}

	profile := p.ResolveProfile(req.Image)
	log := p.log.With().Str("user", req.User).Str("image", profile.Kind.String()).Logger()

	regCfg, ok := p.cfg.Registry(profile.Registry)
	if !ok {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnknownRegistry, profile.Registry)
	}
	reg, err := p.regs.Get(profile.Registry)
	if err != nil {
		return nil, err
	}

	hostPort, err := reg.Allocate(ctx, req.User)
	if err != nil {
		return nil, fmt.Errorf("allocate %s port for %s: %w", regCfg.Name, req.User, err)
	}
	log.Debug().Str("registry", regCfg.Name).Int("port", hostPort).Msg("port allocated")

	plan := &model.SpawnPlan{
		User:          req.User,
		Admin:         req.Admin,
		ImageKind:     profile.Kind,
		Image:         profile.Image,
		ContainerName: p.cfg.ContainerName(req.User),
		Network:       p.cfg.Container.Network,
		NotebookDir:   profile.HomeDir,
		Ports: []model.PortBinding{{
			Registry:      regCfg.Name,
			ContainerPort: regCfg.ContainerPort,
			HostIP:        regCfg.HostIP,
			HostPort:      hostPort,
			Protocol:      regCfg.Protocol,
		}},
		Environment: p.environment(profile, hostPort),
		Privileged:  p.cfg.Container.Privileged,
		Resources: model.Resources{
			CPULimit: p.cfg.Container.CPULimit,
			MemLimit: p.cfg.Container.MemLimit,
		},
		CreatedAt: p.now().UTC(),
	}

	plan.Volumes, err = p.volumes(req, profile)
	if err != nil {
		return nil, err
	}

	if err := model.ValidatePortBindings(plan.Ports); err != nil {
		return nil, err
	}
	plan.Labels = docker.BuildLabels(plan)

	if p.prober != nil {
		for _, b := range plan.Ports {
			if !p.prober.IsPortAvailable(b.HostPort, b.Protocol) {
				msg := fmt.Sprintf("host port %d (%s) is already bound; it may be this user's running container", b.HostPort, b.Registry)
				log.Warn().Int("port", b.HostPort).Msg("planned port is bound on the host")
				plan.Warnings = append(plan.Warnings, msg)
			}
		}
	}

	return plan, nil
}

// ResolveProfile maps a selection to a profile. The selection may be a
// profile kind ("hcie"), its display name ("HCIE Lab") or its image
// reference; anything else selects the default profile.
func (p *Planner) ResolveProfile(selection string) config.ImageProfile {
	sel := strings.TrimSpace(selection)
	if sel != "" {
		for _, prof := range p.cfg.Images {
			if strings.EqualFold(sel, prof.Kind.String()) || sel == prof.DisplayName || sel == prof.Image {
				return prof
			}
		}
		p.log.Debug().Str("selection", sel).Msg("unknown image selection, using default")
	}
	prof, _ := p.cfg.Profile(p.cfg.DefaultImage)
	return prof
}

func (p *Planner) environment(profile config.ImageProfile, hostPort int) map[string]string {
	env := make(map[string]string, len(p.cfg.Environment)+len(profile.PortEnv)+len(profile.HostEnv))
	for k, v := range p.cfg.Environment {
		env[k] = v
	}
	for _, k := range profile.PortEnv {
		env[k] = strconv.Itoa(hostPort)
	}
	for _, k := range profile.HostEnv {
		env[k] = profile.AdvertiseHost
	}
	return env
}

// volumes returns the mounts in a fixed order: home, Docker-in-Docker,
// workshop content, student work.
func (p *Planner) volumes(req Request, profile config.ImageProfile) ([]model.VolumeMount, error) {
	vols := []model.VolumeMount{{
		Source: "jupyter-" + req.User,
		Target: profile.HomeDir,
		Mode:   "rw",
	}}

	if profile.DockerInDocker {
		vols = append(vols, model.VolumeMount{
			Source: "jupyter-" + req.User + "-docker",
			Target: dindTarget,
			Mode:   "rw",
		})
	}

	if profile.WorkshopContent {
		src := p.cfg.Workshop.HostPath
		if src == "" {
			src = p.cfg.Workshop.Volume
		}
		mode := "ro"
		if req.Admin {
			mode = "rw"
		}
		vols = append(vols, model.VolumeMount{Source: src, Target: p.cfg.Workshop.MountPath, Mode: mode})
	}

	sw := p.cfg.StudentWork
	if sw.Enabled() {
		target := filepath.Join(profile.HomeDir, studentWorkSubdir)
		if req.Admin {
			vols = append(vols, model.VolumeMount{Source: sw.HostPath, Target: target, Mode: "rw"})
		} else {
			hostDir, err := p.studentDir(sw, req.User)
			if err != nil {
				return nil, err
			}
			vols = append(vols, model.VolumeMount{Source: hostDir, Target: target, Mode: "rw"})
		}
	}

	return vols, nil
}

// studentDir creates the user's directory under the local student work
// root and returns the same directory as seen from the Docker host.
func (p *Planner) studentDir(sw config.StudentWorkConfig, user string) (string, error) {
	local, err := securejoin.SecureJoin(sw.LocalPath, user)
	if err != nil {
		return "", fmt.Errorf("resolve student work dir for %s: %w", user, err)
	}
	if err := os.MkdirAll(local, studentDirPerm); err != nil {
		return "", fmt.Errorf("create student work dir %s: %w", local, err)
	}

	// A symlink planted at <root>/<user> may still resolve inside the root,
	// but to another user's directory.
	rel, err := filepath.Rel(filepath.Clean(sw.LocalPath), local)
	if err != nil || rel != user {
		return "", fmt.Errorf("student work dir for %s resolves to %s, outside its own directory", user, local)
	}
	return filepath.Join(sw.HostPath, rel), nil
}
