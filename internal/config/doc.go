// Package config loads the hub configuration: where each port registry
// keeps its record and which base port it counts from, plus the image
// profiles and container settings the spawn planner needs.
//
// A configuration file is optional. Without one, Default returns the
// settings of the production workshop deployment. Files may be YAML, JSON
// (comments and trailing commas allowed) or TOML; the format is chosen by
// extension. Environment variables are applied last, so the same variables
// that configured the original hub keep working:
//
//	USER_IMAGE, OPENCLAW_IMAGE, HCIE_IMAGE   image references per profile
//	WORKSHOP_CONTENT                          host path of workshop content
//	STUDENT_WORK, STUDENT_WORK_HOST           student work dirs (local, host view)
//	VSCODE_SSH_HOST, OPENCLAW_GATEWAY_HOST    host names advertised to users
//	HUB_STATE_DIR                             directory for all registry records
package config
