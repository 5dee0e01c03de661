// Package component defines lifecycle-managed parts of a stagekit process,
// such as a running pipeline or the monitor HTTP server.
//
// Components are registered with a Registry, started in registration order
// and stopped in reverse order. Each reports its health as an
// observability.Health so the monitor can aggregate them.
package component
