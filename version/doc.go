// Package version reports build information for stagekit binaries.
package version
