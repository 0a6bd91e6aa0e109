// Package model defines the domain types and value objects for the
// workshop-hub CLI.
//
// This package contains pure data structures with no external dependencies.
// PortAssignment mirrors one entry of a port registry record, and SpawnPlan
// is the fully resolved description of a single user's container that the
// spawn planner produces before the orchestration layer creates it.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
