//go:build cgo && duckdb && (linux || darwin || windows) && (amd64 || arm64)

// DuckDB needs CGO, so it is only linked into builds that ask for it:
//
//	CGO_ENABLED=1 go build -tags duckdb
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
