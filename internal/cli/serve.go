package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/server"
	"github.com/shinji-kodama/workshop-hub/internal/spawn"
)

// NewServeCommand creates the "serve" command.
func NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registries and the planner over HTTP",
		Long: `Run the JSON HTTP API until SIGINT or SIGTERM, then drain in-flight
requests within the configured shutdown timeout.

Examples:
  workshop-hub serve
  workshop-hub serve --addr 127.0.0.1:8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8081)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	cfg, set, err := openRegistries()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	planner, err := spawn.NewPlanner(spawn.Options{
		Config:     cfg,
		Registries: set,
		Logger:     componentLogger("spawn"),
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:            addr,
		Registries:      set,
		Planner:         planner,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
		Logger:          componentLogger("http"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	VerboseLog("Serving %d registries on %s", len(set.Names()), srv.Addr())
	return srv.Run(ctx)
}
