package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/port"
	"github.com/shinji-kodama/workshop-hub/internal/spawn"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	admin     bool
	image     string
	format    string
	checkHost bool
	output    string
}

// NewPlanCommand creates the "plan" command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	formats := make([]string, len(spawn.Formats))
	for i, f := range spawn.Formats {
		formats[i] = string(f)
	}

	cmd := &cobra.Command{
		Use:   "plan <user>",
		Short: "Compute the spawn plan for a user's container",
		Long: `Compute everything needed to create a user's container: image, ports,
environment, volumes, labels and resource limits. The user's ports are
allocated as a side effect. Nothing is started.

Formats:
  json    the plan itself
  yaml    a compose file with one service
  shell   a docker run command line
  engine  Engine API create payloads

Examples:
  workshop-hub plan alice
  workshop-hub plan alice --image openclaw --format yaml
  workshop-hub plan admin --admin --check-host --format shell
  workshop-hub plan alice --format yaml -o /srv/compose/alice.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.admin, "admin", false, "Plan with admin mounts")
	cmd.Flags().StringVar(&flags.image, "image", "", "Image profile: kind, display name or image reference")
	cmd.Flags().StringVarP(&flags.format, "format", "f", string(spawn.FormatJSON),
		"Output format: "+strings.Join(formats, ", "))
	cmd.Flags().BoolVar(&flags.checkHost, "check-host", false, "Warn if an allocated port is already bound on this host")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the rendering to this file instead of stdout")

	return cmd
}

func runPlan(ctx context.Context, user string, flags *planFlags) error {
	format, err := spawn.ParseFormat(flags.format)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --format", err)
	}

	cfg, set, err := openRegistries()
	if err != nil {
		return err
	}

	opts := spawn.Options{Config: cfg, Registries: set, Logger: componentLogger("spawn")}
	if flags.checkHost {
		opts.Prober = port.NewScanner()
	}
	planner, err := spawn.NewPlanner(opts)
	if err != nil {
		return err
	}

	plan, err := planner.Plan(ctx, spawn.Request{User: user, Admin: flags.admin, Image: flags.image})
	if err != nil {
		return err
	}
	VerboseLog("Planned %s for %s with %d port(s)", plan.ContainerName, user, len(plan.Ports))

	for _, w := range plan.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	out, err := spawn.Render(plan, format)
	if err != nil {
		return err
	}
	if flags.output == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return writeOutput(flags.output, out)
}

// writeOutput replaces path atomically, creating its directory if needed,
// so a compose file being read by another process is never half-written.
func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to create directory for %s", path), err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to write %s", path), err)
	}
	VerboseLog("Wrote %s", path)
	return nil
}
