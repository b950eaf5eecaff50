//go:build sqlite_cgo

package vectorstore

// Compiled with -tags sqlite_cgo. Requires CGO_ENABLED=1.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver used by the SQLite backend.
	DriverName = "sqlite3"

	// BuildMode describes the linked driver.
	BuildMode = "cgo"
)
