// Package core provides the internal implementation of dbsandbox.
// It contains the Sandbox resource manager (a four-state machine whose start
// and stop transitions coalesce concurrent callers), the Lifecycle guard
// layered on top of it (empty-store safety check, per-case purge, minimum
// uptime before teardown), and the narrow collaborator interfaces through
// which installers, process topologies and database clients are consumed.
package core
