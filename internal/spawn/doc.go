// Package spawn computes the container layout for one user before the
// notebook spawner creates it.
//
// Planner.Plan resolves the requested image profile, allocates the user's
// stable host port from the profile's registry, and assembles the
// environment, volumes, labels and limits into a model.SpawnPlan. Nothing
// is started; the plan is rendered for the spawner as JSON, a compose
// service, a `docker run` line or Engine API create payloads.
//
// An allocation failure aborts the plan. There is no fallback port.
package spawn
