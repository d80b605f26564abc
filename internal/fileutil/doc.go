// Package fileutil holds the directory helpers used to lay out per-tier and
// per-instance data directories under the configured base directory.
package fileutil
