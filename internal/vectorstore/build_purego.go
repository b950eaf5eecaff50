//go:build !sqlite_cgo

package vectorstore

// Default build: pure Go SQLite, no C toolchain needed.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver used by the SQLite backend.
	DriverName = "sqlite"

	// BuildMode describes the linked driver.
	BuildMode = "purego"
)
