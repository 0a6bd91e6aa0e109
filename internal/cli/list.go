package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/registry"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
)

// NewListCommand creates the "list" command.
func NewListCommand() *cobra.Command {
	var registryName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List port assignments",
		Long: `List every port assignment in assignment order. Without --registry all
configured registries are listed.

Examples:
  workshop-hub list
  workshop-hub list --registry ssh --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), registryName)
		},
	}
	cmd.Flags().StringVarP(&registryName, "registry", "r", "", "Only list this registry")
	return cmd
}

// registryListing is one registry's entries in list output.
type registryListing struct {
	Registry string                 `json:"registry"`
	BasePort int                    `json:"basePort"`
	Path     string                 `json:"path"`
	Entries  []model.PortAssignment `json:"entries"`
}

func runList(ctx context.Context, registryName string) error {
	_, set, err := openRegistries()
	if err != nil {
		return err
	}

	regs := set.All()
	if registryName != "" {
		reg, err := set.Get(registryName)
		if err != nil {
			return err
		}
		regs = []*registry.Registry{reg}
	}

	listings := make([]registryListing, 0, len(regs))
	for _, reg := range regs {
		entries, err := reg.Entries(ctx)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []model.PortAssignment{}
		}
		listings = append(listings, registryListing{
			Registry: reg.Name(),
			BasePort: reg.BasePort(),
			Path:     reg.Path(),
			Entries:  entries,
		})
	}

	if IsJSONOutput() {
		return printJSON(map[string]any{"registries": listings})
	}
	fmt.Print(renderListTable(listings))
	return nil
}

// renderListTable renders the listings as one table.
//
//	REGISTRY  USER   PORT
//	ssh       alice  22223
//	ssh       bob    22224
func renderListTable(listings []registryListing) string {
	rows := [][]string{}
	for _, l := range listings {
		for _, e := range l.Entries {
			rows = append(rows, []string{l.Registry, e.User, strconv.Itoa(e.Port)})
		}
	}
	if len(rows) == 0 {
		return "No port assignments found.\n"
	}
	return newTable([]string{"REGISTRY", "USER", "PORT"}, rows) + "\n"
}

// newTable renders a borderless table with a styled header row.
func newTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if rows[row][col] == "-" {
				return dimStyle
			}
			return cellStyle
		})
	return t.String()
}

// FormatPortsList converts bindings into a comma-separated list of host
// ports, sorted numerically. Returns "-" if there are none.
//
//	[{HostPort: 22224}, {HostPort: 18790}] → "18790,22224"
func FormatPortsList(bindings []model.PortBinding) string {
	if len(bindings) == 0 {
		return "-"
	}

	ports := make([]int, 0, len(bindings))
	for _, b := range bindings {
		ports = append(ports, b.HostPort)
	}
	sort.Ints(ports)

	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, strconv.Itoa(p))
	}
	return strings.Join(out, ",")
}
