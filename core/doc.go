// Package core implements the orchestration heart of the FileBro backend:
// a two-tier worker pool pulling tasks from a shared queue, a task status
// registry, and a broadcaster that fans progress events out to connected
// client sessions.
//
// Core workers are spawned at Start and live until Shutdown. On-demand
// workers are spawned by the autoscaler when the queue backlog crosses a
// threshold; each one executes at most one task and exits. Workers never
// touch the registry directly, they only emit ProgressUpdate events; the
// Broadcaster is the single writer of the Registry.
package core
