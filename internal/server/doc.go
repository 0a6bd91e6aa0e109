// Package server exposes the port registries and the spawn planner over a
// small JSON HTTP API, so the hub can allocate ports out of process.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/registries
//	GET  /v1/registries/{registry}/ports
//	GET  /v1/registries/{registry}/ports/{user}
//	PUT  /v1/registries/{registry}/ports/{user}
//	POST /v1/plans
//
// Errors are returned as {"error":{"message":"..."}}.
package server
