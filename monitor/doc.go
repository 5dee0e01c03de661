// Package monitor exposes pipeline runs over HTTP.
//
// Runs collects run events (pass Runs.Observer to pipeline.WithObserver)
// and forwards them to an SSE hub. Server serves them with gin over HTTP/1.1
// and cleartext HTTP/2:
//
//	GET  /healthz            service and run health
//	GET  /version            build info
//	GET  /runs               run snapshots, oldest first
//	GET  /runs/:id           one run snapshot
//	GET  /runs/:id/events    SSE stream: run.snapshot, then live events
//	POST /runs/:id/cancel    cancel a running, tracked run
//
// Errors use the toolkit's AppError JSON body.
package monitor
