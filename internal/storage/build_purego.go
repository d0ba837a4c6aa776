//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build, no C compiler required:
//
//	CGO_ENABLED=0 go build ./...
//
// Uses modernc.org/sqlite.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
