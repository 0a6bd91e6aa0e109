// Package docker holds the workshop hub's view of the Docker Engine API.
//
// The hub never creates, starts or stops user containers itself; the
// notebook spawner does that. This package covers the read-only and
// translation side:
//   - client construction with automatic socket detection, and Ping
//   - the hub label schema stamped onto user containers, including the
//     registry ports each container was planned with
//   - listing hub-managed containers with their published ports, so the
//     check command can compare them against the port registries
//   - translating a spawn plan into Engine API create payloads
//
// The package uses github.com/docker/docker/client as the underlying SDK,
// with API version negotiation enabled.
package docker
