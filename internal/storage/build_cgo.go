//go:build sqlite_cgo

package storage

// This file is compiled with the sqlite_cgo tag and uses the C SQLite
// library through github.com/mattn/go-sqlite3.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
