// Package logger provides structured logging for stagekit using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers. Pipeline runs log through a logger tagged with
// the run ID and stage name.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("pipeline")
//	log.Info("run finished", logger.Fields("run_id", id, "status", "completed"))
package logger
