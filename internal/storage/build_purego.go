//go:build !sqlite_cgo
// +build !sqlite_cgo

package storage

// Default build: pure Go SQLite, no C compiler required. FTS5 is compiled in.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
