// Package cli implements the cobra-based CLI commands for workshop-hub.
//
// Each subcommand (allocate, lookup, list, plan, check, serve) is defined in
// its own file within this package. This file defines the root command that
// holds the global flags and the mapping from domain errors to exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/workshop-hub/internal/config"
	"github.com/shinji-kodama/workshop-hub/internal/logging"
	"github.com/shinji-kodama/workshop-hub/internal/model"
	"github.com/shinji-kodama/workshop-hub/internal/registry"
)

// configEnv names the environment variable that supplies the default
// --config value.
const configEnv = "WORKSHOP_HUB_CONFIG"

// Global flag variables shared across all subcommands. They are bound to
// persistent flags on the root command.
var (
	// jsonOutput switches command results and errors to JSON.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configPath is the hub configuration file. Empty means built-in
	// defaults plus environment overrides.
	configPath string
)

// Version, Commit and Date are set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workshop-hub",
		Short: "Stable per-user port allocation for the workshop hub",
		Long: `workshop-hub assigns every hub user a stable host port per purpose
(SSH for VS Code Remote, the OpenClaw gateway) and plans their containers.

Assignments are kept in small JSON records on disk, are never reused and
survive hub restarts. The same user always gets the same port.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			logging.Init(logging.Options{Level: level, Writer: os.Stderr})
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(configEnv),
		"Hub configuration file (.yaml, .json, .jsonc or .toml; env "+configEnv+")")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(NewAllocateCommand())
	rootCmd.AddCommand(NewLookupCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewServeCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code that matches the
// returned error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		cliErr := toCLIError(err)
		printError(cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}
}

// toCLIError turns any command error into a CLIError. Errors that already
// carry a code keep it; registry errors map to their documented codes;
// everything else is a general error.
func toCLIError(err error) *model.CLIError {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	switch {
	case errors.Is(err, registry.ErrInvalidUser):
		return model.WrapCLIError(model.ExitGeneralError, "invalid user", err)
	case errors.Is(err, registry.ErrRangeExhausted):
		return model.WrapCLIError(model.ExitPortAllocationFailed, "port range exhausted", err)
	case errors.Is(err, registry.ErrPersistence):
		return model.WrapCLIError(model.ExitPersistenceFailed, "failed to persist port assignment", err)
	case errors.Is(err, registry.ErrLockTimeout):
		return model.WrapCLIError(model.ExitLockTimeout, "registry is locked", err)
	case errors.Is(err, registry.ErrUnknownRegistry):
		return model.WrapCLIError(model.ExitNotFound, "unknown registry", err)
	default:
		return model.WrapCLIError(model.ExitGeneralError, err.Error(), nil)
	}
}

// printError writes the error to stderr, as JSON when --json is set.
// stdout stays reserved for successful command output.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{
			"error": map[string]any{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]any); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}

// VerboseLog emits a debug entry through the root logger. It is only
// visible with --verbose.
func VerboseLog(format string, args ...any) {
	logging.Get().Debug().Msgf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v to stdout with two-space indentation.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// loadConfig loads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// The file's log settings apply once known; --verbose still wins.
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logging.Init(logging.Options{Level: level, Format: cfg.Log.Format, Writer: os.Stderr})

	VerboseLog("Loaded configuration (file: %q, %d registries)", configPath, len(cfg.Registries))
	return cfg, nil
}

// openRegistries loads the configuration and opens its registries.
func openRegistries() (*config.Config, *registry.Set, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logging.For("registry")
	set, err := cfg.OpenRegistries(&log)
	if err != nil {
		return nil, nil, model.WrapCLIError(model.ExitConfigError, "invalid registry configuration", err)
	}
	return cfg, set, nil
}

// componentLogger returns a root child tagged with component.
func componentLogger(component string) *zerolog.Logger {
	l := logging.For(component)
	return &l
}
