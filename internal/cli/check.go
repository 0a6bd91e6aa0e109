package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/docker"
	"github.com/shinji-kodama/workshop-hub/internal/logging"
	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/port"
)

// Severity of a check finding. Only conflicts fail the command.
const (
	severityConflict = "conflict"
	severityDrift    = "drift"
)

// Finding kinds.
const (
	// kindHostBound: an assigned port is bound on the host by something
	// other than the owner's running container.
	kindHostBound = "host-bound"

	// kindForeignContainer: a hub container publishes a port that the
	// registry assigned to a different user.
	kindForeignContainer = "foreign-container"

	// kindLabelDrift: a container's port label disagrees with the registry.
	kindLabelDrift = "label-drift"

	// kindUnassigned: a container carries a port label for a user the
	// registry does not know.
	kindUnassigned = "unassigned"
)

// finding is one discrepancy between a registry, the host and Docker.
type finding struct {
	Severity  string `json:"severity"`
	Kind      string `json:"kind"`
	Registry  string `json:"registry"`
	User      string `json:"user"`
	Port      int    `json:"port"`
	Container string `json:"container,omitempty"`
	Detail    string `json:"detail"`
}

// auditInput is everything auditRegistry compares for one registry.
type auditInput struct {
	Registry    string
	Protocol    string
	Assignments []model.PortAssignment

	// Prober probes the host; nil skips host probing.
	Prober port.Prober

	// Containers are the hub containers. When DockerKnown is false they
	// were not listed, and a bound port cannot be attributed to its owner.
	Containers  []docker.HubContainer
	DockerKnown bool
}

// auditRegistry returns the findings for one registry in a stable order:
// host probing first, then containers by name.
func auditRegistry(in auditInput) []finding {
	var out []finding

	assigned := make(map[string]int, len(in.Assignments))
	owner := make(map[int]string, len(in.Assignments))
	for _, a := range in.Assignments {
		assigned[a.User] = a.Port
		owner[a.Port] = a.User
	}
	byUser := docker.GroupByUser(in.Containers)

	if in.Prober != nil {
		for _, c := range port.FindConflicts(in.Prober, in.Registry, in.Assignments, in.Protocol) {
			if ownerPublishes(byUser[c.User], c.Port) {
				continue
			}
			f := finding{
				Severity: severityConflict,
				Kind:     kindHostBound,
				Registry: in.Registry,
				User:     c.User,
				Port:     c.Port,
				Detail:   "port is bound on the host but not by the user's running container",
			}
			if !in.DockerKnown {
				f.Severity = severityDrift
				f.Detail = "port is bound on the host; containers were not checked"
			}
			out = append(out, f)
		}
	}

	for _, c := range in.Containers {
		user := c.User()
		if user == "" {
			continue
		}

		for _, b := range c.Published {
			if o, ok := owner[b.HostPort]; ok && o != user {
				out = append(out, finding{
					Severity:  severityConflict,
					Kind:      kindForeignContainer,
					Registry:  in.Registry,
					User:      o,
					Port:      b.HostPort,
					Container: c.Name,
					Detail:    fmt.Sprintf("published by %s's container", user),
				})
			}
		}

		labelPort, labelled := c.Labels.Ports[in.Registry]
		if !labelled {
			continue
		}
		want, known := assigned[user]
		switch {
		case !known:
			out = append(out, finding{
				Severity:  severityDrift,
				Kind:      kindUnassigned,
				Registry:  in.Registry,
				User:      user,
				Port:      labelPort,
				Container: c.Name,
				Detail:    "container is labelled with a port the registry has no entry for",
			})
		case want != labelPort:
			out = append(out, finding{
				Severity:  severityDrift,
				Kind:      kindLabelDrift,
				Registry:  in.Registry,
				User:      user,
				Port:      want,
				Container: c.Name,
				Detail:    fmt.Sprintf("container label says %d", labelPort),
			})
		}
	}

	return out
}

// ownerPublishes reports whether one of the owner's running containers
// publishes hostPort.
func ownerPublishes(containers []docker.HubContainer, hostPort int) bool {
	for _, c := range containers {
		if c.Running() && c.PublishesHostPort(hostPort) {
			return true
		}
	}
	return false
}

// countConflicts returns the number of conflict-severity findings.
func countConflicts(findings []finding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == severityConflict {
			n++
		}
	}
	return n
}

// NewCheckCommand creates the "check" command.
func NewCheckCommand() *cobra.Command {
	var (
		skipDocker bool
		skipHost   bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare registries with the host and running containers",
		Long: `Compare every registry with the ports bound on this host and with the
ports published by hub containers. Drift is reported; a conflict (a port
held by someone other than its owner) exits with code 4.

Examples:
  workshop-hub check
  workshop-hub check --skip-docker --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), skipDocker, skipHost)
		},
	}
	cmd.Flags().BoolVar(&skipDocker, "skip-docker", false, "Do not query the Docker daemon")
	cmd.Flags().BoolVar(&skipHost, "skip-host", false, "Do not probe host ports")
	return cmd
}

func runCheck(ctx context.Context, skipDocker, skipHost bool) error {
	cfg, set, err := openRegistries()
	if err != nil {
		return err
	}

	var containers []docker.HubContainer
	if !skipDocker {
		containers, err = listHubContainers(ctx)
		if err != nil {
			return err
		}
		VerboseLog("Found %d hub containers", len(containers))
		for _, c := range containers {
			VerboseLog("  %s (%s) publishes %s", c.Name, c.State, FormatPortsList(c.Published))
		}
	}

	var prober port.Prober
	if !skipHost {
		prober = port.NewScanner()
	}

	findings := []finding{}
	for _, reg := range set.All() {
		entries, err := reg.Entries(ctx)
		if err != nil {
			return err
		}
		protocol := "tcp"
		if rc, ok := cfg.Registry(reg.Name()); ok {
			protocol = rc.Protocol
		}
		findings = append(findings, auditRegistry(auditInput{
			Registry:    reg.Name(),
			Protocol:    protocol,
			Assignments: entries,
			Prober:      prober,
			Containers:  containers,
			DockerKnown: !skipDocker,
		})...)
	}

	conflicts := countConflicts(findings)
	if IsJSONOutput() {
		if err := printJSON(map[string]any{"findings": findings, "conflicts": conflicts}); err != nil {
			return err
		}
	} else {
		fmt.Print(renderFindings(findings))
	}

	if conflicts > 0 {
		return model.NewCLIError(model.ExitPortAllocationFailed,
			fmt.Sprintf("%d port conflict(s) found", conflicts))
	}
	return nil
}

func listHubContainers(ctx context.Context) ([]docker.HubContainer, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return nil, err
	}
	VerboseLog("Connected to Docker daemon")
	return docker.ListHubContainers(ctx, cli.Inner(), logging.For("docker"))
}

// renderFindings renders findings as a table, or a one-line all-clear.
func renderFindings(findings []finding) string {
	if len(findings) == 0 {
		return "No drift found.\n"
	}
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		container := f.Container
		if container == "" {
			container = "-"
		}
		rows = append(rows, []string{f.Severity, f.Kind, f.Registry, f.User, strconv.Itoa(f.Port), container, f.Detail})
	}
	return newTable([]string{"SEVERITY", "KIND", "REGISTRY", "USER", "PORT", "CONTAINER", "DETAIL"}, rows) + "\n"
}
