// Package port probes the host network stack for ports that are already
// bound.
//
// Registry assignments are made without looking at the host: a port is
// reserved in the record long before the user's container publishes it.
// The Scanner is the other half of the picture. The planner can use it to
// warn that a freshly planned port is occupied, and the check command uses
// it to report drift between the records and what is actually listening.
package port
