package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

const defaultRegistry = "ssh"

// portResult is the JSON output of allocate and lookup.
type portResult struct {
	Registry string `json:"registry"`
	User     string `json:"user"`
	Port     int    `json:"port"`
}

func (r portResult) print() error {
	if IsJSONOutput() {
		return printJSON(r)
	}
	fmt.Println(r.Port)
	return nil
}

// NewAllocateCommand creates the "allocate" command.
func NewAllocateCommand() *cobra.Command {
	var registryName string

	cmd := &cobra.Command{
		Use:   "allocate <user>",
		Short: "Print the user's port, assigning one on first use",
		Long: `Print the host port assigned to a user in a registry. The first call
for a user assigns the next port and persists it before printing.

Examples:
  workshop-hub allocate alice
  workshop-hub allocate alice --registry openclaw --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd.Context(), registryName, args[0])
		},
	}
	cmd.Flags().StringVarP(&registryName, "registry", "r", defaultRegistry, "Registry name")
	return cmd
}

func runAllocate(ctx context.Context, registryName, user string) error {
	_, set, err := openRegistries()
	if err != nil {
		return err
	}
	reg, err := set.Get(registryName)
	if err != nil {
		return err
	}

	port, err := reg.Allocate(ctx, user)
	if err != nil {
		return err
	}
	VerboseLog("Allocated %s port %d for %s (record %s)", reg.Name(), port, user, reg.Path())
	return portResult{Registry: reg.Name(), User: user, Port: port}.print()
}

// NewLookupCommand creates the "lookup" command.
func NewLookupCommand() *cobra.Command {
	var registryName string

	cmd := &cobra.Command{
		Use:   "lookup <user>",
		Short: "Print the user's port without assigning one",
		Long: `Print the host port already assigned to a user. Exits with code 6 if
the user has no assignment in the registry.

Examples:
  workshop-hub lookup alice
  workshop-hub lookup alice --registry openclaw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), registryName, args[0])
		},
	}
	cmd.Flags().StringVarP(&registryName, "registry", "r", defaultRegistry, "Registry name")
	return cmd
}

func runLookup(ctx context.Context, registryName, user string) error {
	_, set, err := openRegistries()
	if err != nil {
		return err
	}
	reg, err := set.Get(registryName)
	if err != nil {
		return err
	}

	port, ok, err := reg.Lookup(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewCLIError(model.ExitNotFound,
			fmt.Sprintf("user %q has no %s port", user, reg.Name()))
	}
	return portResult{Registry: reg.Name(), User: user, Port: port}.print()
}
